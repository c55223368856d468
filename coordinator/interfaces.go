package coordinator

import (
	"context"

	"github.com/warp/ledger-engine/finance"
)

// =============================================================================
// COLLABORATOR CONTRACTS - What the coordinator consumes
// =============================================================================

// Persistence is the durable storage collaborator. Each call is assumed
// atomic. Failures are surfaced to the caller, not swallowed: the in-memory
// state is updated before any save, so retrying just the save is safe and
// idempotent (see Coordinator.Flush).
type Persistence interface {
	LoadTransactions(ctx context.Context) ([]finance.Transaction, error)
	LoadAccounts(ctx context.Context) ([]finance.Account, error)
	LoadSeries(ctx context.Context) ([]finance.RecurringSeries, error)
	LoadOccurrences(ctx context.Context) ([]finance.RecurringOccurrence, error)

	SaveTransactions(ctx context.Context, txs []finance.Transaction) error
	SaveAccounts(ctx context.Context, accounts []finance.Account) error
	SaveSeries(ctx context.Context, series []finance.RecurringSeries) error
	SaveOccurrences(ctx context.Context, occs []finance.RecurringOccurrence) error
}

// CategoryDirectory is the read-only category lookup consulted during
// validation. The engine never creates or deletes categories.
type CategoryDirectory interface {
	Exists(id finance.CategoryID) bool
}

// StaticCategories is a fixed in-memory directory.
type StaticCategories map[finance.CategoryID]string

func (c StaticCategories) Exists(id finance.CategoryID) bool {
	_, ok := c[id]
	return ok
}

// AllowAllCategories accepts any non-empty category id. Useful when the
// category service is external and already validated upstream.
type AllowAllCategories struct{}

func (AllowAllCategories) Exists(id finance.CategoryID) bool { return id != "" }
