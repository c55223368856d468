// Package memory provides an in-memory Persistence implementation
// (for testing/dev and the -db=:memory: mode).
package memory

import (
	"context"
	"sync"

	"github.com/warp/ledger-engine/finance"
)

// =============================================================================
// MEMORY STORE - In-memory persistence (atomic per call, like the contract)
// =============================================================================

type Store struct {
	mu           sync.RWMutex
	transactions []finance.Transaction
	accounts     []finance.Account
	series       []finance.RecurringSeries
	occurrences  []finance.RecurringOccurrence
}

func New() *Store {
	return &Store{}
}

func (s *Store) LoadTransactions(_ context.Context) ([]finance.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySlice(s.transactions), nil
}

func (s *Store) LoadAccounts(_ context.Context) ([]finance.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySlice(s.accounts), nil
}

func (s *Store) LoadSeries(_ context.Context) ([]finance.RecurringSeries, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySlice(s.series), nil
}

func (s *Store) LoadOccurrences(_ context.Context) ([]finance.RecurringOccurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySlice(s.occurrences), nil
}

func (s *Store) SaveTransactions(_ context.Context, txs []finance.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = copySlice(txs)
	return nil
}

func (s *Store) SaveAccounts(_ context.Context, accounts []finance.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = copySlice(accounts)
	return nil
}

func (s *Store) SaveSeries(_ context.Context, series []finance.RecurringSeries) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series = copySlice(series)
	return nil
}

func (s *Store) SaveOccurrences(_ context.Context, occs []finance.RecurringOccurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.occurrences = copySlice(occs)
	return nil
}

func copySlice[T any](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	return out
}
