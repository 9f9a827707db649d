/*
ledger.go - Ledger operations over a Store

PURPOSE:
  The Ledger is the only component allowed to mutate accounts and
  transfers. It validates transfers before handing them to the Store and
  normalizes idempotent retries (identical account collision, duplicate
  transfer id) so callers see them as success.

CRITICAL INVARIANTS:
  1. A constrained account's balance is never negative.
  2. A transfer fully applies to both accounts or not at all.
  3. Same transfer id = same transfer. Replays are no-ops.

SEE ALSO:
  - store.go:  persistence interface
  - errors.go: error taxonomy
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gitkarma/engine/observability"
)

// Ledger executes account and transfer operations against a Store.
type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// CreateAccount creates an account, treating an id collision with an
// identical business identity as success (idempotent retry). A collision
// with a different identity surfaces ErrAccountExists.
func (l *Ledger) CreateAccount(ctx context.Context, a Account) (Account, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	err := l.store.InsertAccount(ctx, a)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrAccountExists) {
		return Account{}, fmt.Errorf("create account %d: %w", a.ID, err)
	}

	existing, ferr := l.store.FetchAccount(ctx, a.ID)
	if ferr != nil {
		return Account{}, fmt.Errorf("create account %d: fetch after collision: %w", a.ID, ferr)
	}
	if !existing.SameIdentity(a) {
		return Account{}, fmt.Errorf("create account %d: identity mismatch: %w", a.ID, ErrAccountExists)
	}
	return existing, nil
}

// GetAccount returns the account with the given id.
func (l *Ledger) GetAccount(ctx context.Context, id uint64) (Account, error) {
	return l.store.FetchAccount(ctx, id)
}

// ApplyTransfer validates and atomically applies a transfer.
//
// A duplicate id returns ErrDuplicateTransfer; callers that key transfers
// by business ids treat that as the original success. An insufficient
// constrained account returns *InsufficientFundsError and leaves both
// accounts untouched.
func (l *Ledger) ApplyTransfer(ctx context.Context, t Transfer) error {
	if t.ID == 0 || t.Amount < 0 || t.DebitAccount == t.CreditAccount {
		return fmt.Errorf("transfer %d (%d -> %d, amount %d): %w",
			t.ID, t.DebitAccount, t.CreditAccount, t.Amount, ErrInvalidTransfer)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	err := l.store.ApplyTransfer(ctx, t)
	switch {
	case err == nil:
		observability.TransfersApplied.WithLabelValues(t.Code.String()).Inc()
		return nil
	case errors.Is(err, ErrDuplicateTransfer):
		observability.DuplicateTransfers.Inc()
		return err
	default:
		return err
	}
}

// Balance returns the current balance of the account.
func (l *Ledger) Balance(ctx context.Context, id uint64) (int64, error) {
	a, err := l.store.FetchAccount(ctx, id)
	if err != nil {
		return 0, err
	}
	return a.Balance(), nil
}

// History returns the transfers touching an account, oldest first.
func (l *Ledger) History(ctx context.Context, id uint64) ([]Transfer, error) {
	return l.store.TransfersByAccount(ctx, id)
}
