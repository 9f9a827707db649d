/*
store.go - Persistence interface for accounts and transfers

PURPOSE:
  Defines the interface between the ledger and the database. The Store
  owns durability and the atomicity of double-entry application;
  different implementations can use SQLite, PostgreSQL, or in-memory
  storage.

APPEND-ONLY CONTRACT:
  Transfers are append-only: no Update, no Delete. Accounts mutate only
  through ApplyTransfer, which posts both legs in one atomic step.

ATOMICITY:
  ApplyTransfer must be atomic with respect to both accounts it touches.
  No observer may ever see one leg posted and the other pending, and a
  rejected transfer leaves both accounts untouched.

IMPLEMENTATIONS:
  - ledger/store: in-memory, for tests and development
  - store/sqlite: production SQLite

SEE ALSO:
  - ledger.go: higher-level operations using Store
*/
package ledger

import "context"

// Store handles persistence of accounts and transfers.
//
// Implementations must be safe for concurrent use: two unrelated pull
// requests by the same author may race on the same user account, and
// ApplyTransfer's atomicity is what keeps that safe without any
// higher-level lock.
type Store interface {
	// InsertAccount persists a new account.
	// Returns ErrAccountExists if the id is already taken.
	InsertAccount(ctx context.Context, a Account) error

	// FetchAccount returns the account with the given id.
	// Returns ErrAccountNotFound if absent.
	FetchAccount(ctx context.Context, id uint64) (Account, error)

	// ApplyTransfer atomically posts both legs of the transfer and appends
	// it to the transfer log.
	// Returns ErrDuplicateTransfer if the id was already applied,
	// *InsufficientFundsError if a constrained account would go negative,
	// ErrAccountNotFound if either leg references a missing account.
	ApplyTransfer(ctx context.Context, t Transfer) error

	// TransferExists reports whether a transfer id was already applied.
	TransferExists(ctx context.Context, id uint64) (bool, error)

	// TransfersByAccount returns all transfers touching the account,
	// oldest first. Read-only, for audit and the balances API.
	TransfersByAccount(ctx context.Context, accountID uint64) ([]Transfer, error)
}
