/*
Package ledger provides the double-entry token ledger.

PURPOSE:
  This package contains the accounting core of the karma economy. Every
  token movement (the initial grant to a new contributor, the charge for
  funding a pull request, the reward for a review) is an immutable
  Transfer between exactly two Accounts.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account:  a token balance holder, scoped to a repository
  - Transfer: an atomic double-entry movement between two accounts
  - Balance:  debits posted minus credits posted

DESIGN PRINCIPLES:
  1. Immutability: transfers are never modified, only appended
  2. Double entry: both legs of a transfer apply together or not at all
  3. Idempotency: transfer ids derive from business keys, so replays
     collapse into no-ops instead of double effects
  4. Whole tokens: all amounts are non-negative integers

ACCOUNT ORIENTATION:
  User accounts are debit-normal. A grant debits the user and credits the
  repo; a charge debits the repo and credits the user. A user account's
  credits may never exceed its debits (the no-negative-balance invariant).
  Repo accounts carry no constraint and act as an infinite float.

SEE ALSO:
  - ids.go:    deterministic id derivation from business keys
  - ledger.go: the Ledger operations over a Store
  - store.go:  the persistence interface
*/
package ledger

import "time"

// =============================================================================
// ACCOUNT - Token balance holder
// =============================================================================

// OwnerKind discriminates user accounts from repo accounts.
// The numeric values double as the account code in persisted rows.
type OwnerKind uint16

const (
	OwnerUser OwnerKind = 1001
	OwnerRepo OwnerKind = 4001
)

func (k OwnerKind) String() string {
	switch k {
	case OwnerUser:
		return "user"
	case OwnerRepo:
		return "repo"
	default:
		return "unknown"
	}
}

// Account is a token balance holder, denominated in a single repository.
// A repo account is its own scope.
//
// Accounts are created on first contact and never deleted. The posted
// accumulators are mutated exclusively through ApplyTransfer.
type Account struct {
	ID            uint64
	OwnerKind     OwnerKind
	ScopeID       uint64 // repo the account is denominated in
	DebitsPosted  uint64
	CreditsPosted uint64

	// Constrained accounts (users) may never have credits exceed debits.
	// Repo accounts are unconstrained.
	Constrained bool

	CreatedAt time.Time
}

// Balance returns debits posted minus credits posted.
// For a constrained account this is never negative.
func (a Account) Balance() int64 {
	return int64(a.DebitsPosted) - int64(a.CreditsPosted)
}

// SameIdentity reports whether two accounts share the same business
// identity. Used to treat a create collision on an identical account as
// an idempotent success.
func (a Account) SameIdentity(b Account) bool {
	return a.ID == b.ID &&
		a.OwnerKind == b.OwnerKind &&
		a.ScopeID == b.ScopeID &&
		a.Constrained == b.Constrained
}

// =============================================================================
// TRANSFER - Atomic double-entry token movement
// =============================================================================

// TransferCode tags the business purpose of a transfer.
type TransferCode uint16

const (
	CodeGrant  TransferCode = 1001 // one-time initial allocation to a new user
	CodeCharge TransferCode = 2001 // merge penalty paid to fund a pull request
	CodeReward TransferCode = 3001 // review/comment/bounty earnings
)

func (c TransferCode) String() string {
	switch c {
	case CodeGrant:
		return "grant"
	case CodeCharge:
		return "charge"
	case CodeReward:
		return "reward"
	default:
		return "unknown"
	}
}

// Transfer is an immutable double-entry token movement between exactly
// two accounts. The id is derived from business keys by the caller so a
// redelivered event produces the same transfer and is rejected as a
// duplicate rather than applied twice.
type Transfer struct {
	ID            uint64
	DebitAccount  uint64
	CreditAccount uint64
	Amount        int64 // non-negative, whole tokens
	Code          TransferCode
	ScopeID       uint64 // repo the transfer is denominated in
	CreatedAt     time.Time
}
