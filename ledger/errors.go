/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All ledger error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Account errors  - creation collisions, missing accounts
  2. Transfer errors - duplicates, invariant violations, malformed input

USAGE:
  Callers branch with errors.Is:

    if errors.Is(err, ledger.ErrDuplicateTransfer) {
        // already applied, safe to treat as success
    }

SEE ALSO:
  - ledger.go: produces these errors
  - karma/:    recovers them into user-facing outcomes
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountExists is returned when creating an account whose id is
	// already taken by a different business identity. A collision with an
	// identical identity is reported as success instead.
	ErrAccountExists = errors.New("account already exists")

	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrDuplicateTransfer is returned when a transfer with the same id was
	// already applied. This is expected behavior for at-least-once delivery;
	// callers treat it as success.
	ErrDuplicateTransfer = errors.New("duplicate transfer")

	// ErrInsufficientFunds is returned when applying a transfer would drive a
	// constrained account's balance negative. The transfer is not applied,
	// never clamped.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidTransfer is returned for malformed transfers: negative
	// amount, zero id, or identical debit and credit accounts.
	ErrInvalidTransfer = errors.New("invalid transfer")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports how short a constrained account is.
type InsufficientFundsError struct {
	AccountID uint64
	Available int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on account %d: available %d, requested %d",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// Shortfall returns how many tokens are missing, never negative.
func (e *InsufficientFundsError) Shortfall() int64 {
	if e.Requested <= e.Available {
		return 0
	}
	return e.Requested - e.Available
}

// IsRecoverable reports whether the error is an expected business outcome
// rather than an infrastructure failure. Recoverable errors are turned
// into user-facing messages; everything else is logged and the event
// dropped without partial mutation.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrDuplicateTransfer) ||
		errors.Is(err, ErrAccountExists)
}
