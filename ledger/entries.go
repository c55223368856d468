/*
Package ledger holds the source of truth for what happened (EntryStore) and
the authoritative per-account balances derived from it (Balances).

PURPOSE:
  The EntryStore is an append/replace/remove-capable collection of
  transaction records, kept ordered by (day, created-at). Records are
  immutable by convention: an update is modeled by the coordinator as
  remove-old-effect + apply-new-effect, which keeps balance deltas
  composable and reversible.

DATE CACHING:
  Transaction dates are string-encoded for persistence but parsed once per
  distinct string through a bounded LRU cache. The same few date strings
  recur constantly (today, recent days), so the cache hit rate is high and
  the parse cost disappears from hot paths.

ORDERING:
  Entries are kept sorted at insertion time via binary search, so reads
  never sort. CreatedAt breaks ties between same-day records.

SEE ALSO:
  - balances.go: Balance computation over these entries
  - effects.go: Signed per-account effect of a single entry
*/
package ledger

import (
	"sort"

	"github.com/warp/ledger-engine/cache"
	"github.com/warp/ledger-engine/finance"
)

// DateCacheCapacity bounds the parsed-date memoization cache. Sized to the
// number of distinct date strings a long-lived ledger is expected to see.
const DateCacheCapacity = 10000

// =============================================================================
// ENTRY STORE - Ordered collection of transaction records
// =============================================================================

type EntryStore struct {
	entries []finance.Transaction // Sorted by (day, created-at)
	byID    map[finance.TransactionID]int
	dates   *cache.LRU[string, finance.Day]
}

func NewEntryStore() *EntryStore {
	return &EntryStore{
		byID:  make(map[finance.TransactionID]int),
		dates: cache.NewLRU[string, finance.Day](DateCacheCapacity),
	}
}

// Day parses a transaction date through the bounded date cache.
func (s *EntryStore) Day(date string) (finance.Day, error) {
	return s.dates.GetOrCompute(date, func() (finance.Day, error) {
		d, err := finance.ParseDay(date)
		if err != nil {
			return finance.Day{}, finance.ErrInvalidDate
		}
		return d, nil
	})
}

// Append inserts a new record at its ordered position.
// Returns DuplicateTransactionError if the id already exists.
func (s *EntryStore) Append(tx finance.Transaction) error {
	if _, exists := s.byID[tx.ID]; exists {
		return &finance.DuplicateTransactionError{ID: tx.ID}
	}
	day, err := s.Day(tx.Date)
	if err != nil {
		return err
	}
	s.insert(tx, day)
	return nil
}

// Replace swaps the record with tx.ID for tx, re-sorting if the day moved.
func (s *EntryStore) Replace(tx finance.Transaction) error {
	idx, exists := s.byID[tx.ID]
	if !exists {
		return finance.ErrTransactionNotFound
	}
	day, err := s.Day(tx.Date)
	if err != nil {
		return err
	}
	s.removeAt(idx)
	s.insert(tx, day)
	return nil
}

// Remove deletes the record and returns it.
func (s *EntryStore) Remove(id finance.TransactionID) (finance.Transaction, error) {
	idx, exists := s.byID[id]
	if !exists {
		return finance.Transaction{}, finance.ErrTransactionNotFound
	}
	tx := s.entries[idx]
	s.removeAt(idx)
	return tx, nil
}

// Get returns the record by id.
func (s *EntryStore) Get(id finance.TransactionID) (finance.Transaction, bool) {
	idx, exists := s.byID[id]
	if !exists {
		return finance.Transaction{}, false
	}
	return s.entries[idx], true
}

// All returns a copy of every record in ledger order.
func (s *EntryStore) All() []finance.Transaction {
	out := make([]finance.Transaction, len(s.entries))
	copy(out, s.entries)
	return out
}

// ForAccount returns every record touching the account, in ledger order.
func (s *EntryStore) ForAccount(id finance.AccountID) []finance.Transaction {
	var out []finance.Transaction
	for _, tx := range s.entries {
		if tx.SourceAccount == id || tx.TargetAccount == id {
			out = append(out, tx)
		}
	}
	return out
}

// ForSeries returns every materialized record for a recurring series.
func (s *EntryStore) ForSeries(id finance.SeriesID) []finance.Transaction {
	var out []finance.Transaction
	for _, tx := range s.entries {
		if tx.SeriesID == id {
			out = append(out, tx)
		}
	}
	return out
}

// InPeriod returns every record whose day falls inside the period.
func (s *EntryStore) InPeriod(p finance.Period) ([]finance.Transaction, error) {
	var out []finance.Transaction
	for _, tx := range s.entries {
		day, err := s.Day(tx.Date)
		if err != nil {
			return nil, err
		}
		if p.Contains(day) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// Load replaces the whole collection, e.g. at startup from persistence.
// Invalid dates are rejected wholesale; the store is unchanged on error.
func (s *EntryStore) Load(txs []finance.Transaction) error {
	fresh := NewEntryStore()
	fresh.dates = s.dates // Keep the warm date cache
	for _, tx := range txs {
		if err := fresh.Append(tx); err != nil {
			return err
		}
	}
	s.entries = fresh.entries
	s.byID = fresh.byID
	return nil
}

// Len returns the number of records.
func (s *EntryStore) Len() int { return len(s.entries) }

// =============================================================================
// INTERNALS
// =============================================================================

func (s *EntryStore) insert(tx finance.Transaction, day finance.Day) {
	// Binary search for the insertion point. Date parses hit the cache:
	// every entry already in the store has been parsed at least once.
	i := sort.Search(len(s.entries), func(i int) bool {
		other, _ := s.Day(s.entries[i].Date)
		if !other.Equal(day) {
			return other.After(day)
		}
		return s.entries[i].CreatedAt.After(tx.CreatedAt)
	})

	s.entries = append(s.entries, finance.Transaction{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = tx

	s.reindexFrom(i)
}

func (s *EntryStore) removeAt(idx int) {
	delete(s.byID, s.entries[idx].ID)
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	s.reindexFrom(idx)
}

func (s *EntryStore) reindexFrom(i int) {
	for ; i < len(s.entries); i++ {
		s.byID[s.entries[i].ID] = i
	}
}
