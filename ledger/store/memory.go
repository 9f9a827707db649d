// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/gitkarma/engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	accounts  map[uint64]ledger.Account
	transfers map[uint64]ledger.Transfer
	order     []uint64 // transfer ids in application order
}

func NewMemory() *Memory {
	return &Memory{
		accounts:  make(map[uint64]ledger.Account),
		transfers: make(map[uint64]ledger.Transfer),
	}
}

func (m *Memory) InsertAccount(_ context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[a.ID]; ok {
		return ledger.ErrAccountExists
	}
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) FetchAccount(_ context.Context, id uint64) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return a, nil
}

// ApplyTransfer posts both legs under one lock so no reader ever sees a
// half-applied transfer.
func (m *Memory) ApplyTransfer(_ context.Context, t ledger.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transfers[t.ID]; ok {
		return ledger.ErrDuplicateTransfer
	}

	debit, ok := m.accounts[t.DebitAccount]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	credit, ok := m.accounts[t.CreditAccount]
	if !ok {
		return ledger.ErrAccountNotFound
	}

	// The credit leg reduces the account's balance. Reject, never clamp.
	if credit.Constrained {
		if credit.CreditsPosted+uint64(t.Amount) > credit.DebitsPosted {
			return &ledger.InsufficientFundsError{
				AccountID: credit.ID,
				Available: credit.Balance(),
				Requested: t.Amount,
			}
		}
	}

	debit.DebitsPosted += uint64(t.Amount)
	credit.CreditsPosted += uint64(t.Amount)
	m.accounts[debit.ID] = debit
	m.accounts[credit.ID] = credit
	m.transfers[t.ID] = t
	m.order = append(m.order, t.ID)
	return nil
}

func (m *Memory) TransferExists(_ context.Context, id uint64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.transfers[id]
	return ok, nil
}

func (m *Memory) TransfersByAccount(_ context.Context, accountID uint64) ([]ledger.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transfer
	for _, id := range m.order {
		t := m.transfers[id]
		if t.DebitAccount == accountID || t.CreditAccount == accountID {
			result = append(result, t)
		}
	}
	return result, nil
}
