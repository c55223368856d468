/*
Package recurring materializes and projects machine-generated transactions
from series templates.

PURPOSE:
  A RecurringSeries describes a repeating expense or income (rent, salary,
  subscription). The engine answers two questions:

  - Projected: what will this series produce over the next N months?
    Existing materialized transactions plus synthetic future ones, without
    persisting anything. Results are cache-backed per series.
  - Materialize: turn due occurrences into real ledger transactions,
    through the mutation coordinator - never by touching the ledger
    directly, so balances and caches stay consistent.

DEDUPLICATION:
  A (series, date) pair that already has a RecurringOccurrence is never
  regenerated. The occurrence set is the guard, persisted alongside the
  series.

STOPPING:
  StopSeries marks the series inactive and deletes every strictly-future
  materialized transaction through the coordinator, one sequential call at
  a time. No blocking bridges between sync and async code.
*/
package recurring

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/warp/ledger-engine/cache"
	"github.com/warp/ledger-engine/coordinator"
	"github.com/warp/ledger-engine/finance"
)

// ProjectionCacheCapacity bounds the per-series projection cache.
const ProjectionCacheCapacity = 256

type Engine struct {
	mu    sync.Mutex
	coord *coordinator.Coordinator
	store coordinator.Persistence

	series      map[finance.SeriesID]*finance.RecurringSeries
	occurrences map[finance.SeriesID]map[string]finance.TransactionID

	projections *cache.LRU[string, []finance.Transaction]

	events <-chan finance.ChangeEvent
	cancel func()
	done   chan struct{}
}

func NewEngine(coord *coordinator.Coordinator, store coordinator.Persistence) *Engine {
	e := &Engine{
		coord:       coord,
		store:       store,
		series:      make(map[finance.SeriesID]*finance.RecurringSeries),
		occurrences: make(map[finance.SeriesID]map[string]finance.TransactionID),
		projections: cache.NewLRU[string, []finance.Transaction](ProjectionCacheCapacity),
		done:        make(chan struct{}),
	}
	// Any ledger mutation can change what a projection contains, so the
	// projection cache follows the coordinator's coarse invalidation.
	e.events, e.cancel = coord.Subscribe()
	go e.watch()
	return e
}

func (e *Engine) watch() {
	defer close(e.done)
	for range e.events {
		e.projections.Clear()
	}
}

// Close detaches the engine from the coordinator's event stream.
func (e *Engine) Close() {
	e.cancel()
	<-e.done
}

// Load restores series and occurrence state from persistence.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	series, err := e.store.LoadSeries(ctx)
	if err != nil {
		return err
	}
	occs, err := e.store.LoadOccurrences(ctx)
	if err != nil {
		return err
	}

	for i := range series {
		s := series[i]
		e.series[s.ID] = &s
	}
	for _, occ := range occs {
		e.recordOccurrenceLocked(occ)
	}
	return nil
}

// =============================================================================
// SERIES MANAGEMENT
// =============================================================================

// AddSeries registers a new series template and persists the series set.
func (e *Engine) AddSeries(ctx context.Context, s finance.RecurringSeries) (finance.RecurringSeries, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !s.Amount.IsPositive() {
		return finance.RecurringSeries{}, finance.ErrInvalidAmount
	}
	if _, err := finance.ParseDay(s.StartDate); err != nil {
		return finance.RecurringSeries{}, finance.ErrInvalidDate
	}
	if _, ok := e.coord.Account(s.AccountID); !ok {
		return finance.RecurringSeries{}, &finance.UnknownAccountError{AccountID: s.AccountID}
	}
	if s.Kind == "" {
		s.Kind = finance.KindExpense
	}
	if s.ID == "" {
		s.ID = finance.SeriesID(uuid.NewString())
	}
	s.Active = true

	stored := s
	e.series[s.ID] = &stored
	e.projections.Clear()
	return s, e.persistSeriesLocked(ctx)
}

// Series returns copies of every registered series.
func (e *Engine) Series() []finance.RecurringSeries {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]finance.RecurringSeries, 0, len(e.series))
	for _, s := range e.series {
		out = append(out, *s)
	}
	return out
}

// SeriesByID returns one series template.
func (e *Engine) SeriesByID(id finance.SeriesID) (finance.RecurringSeries, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.series[id]
	if !ok {
		return finance.RecurringSeries{}, false
	}
	return *s, true
}

// =============================================================================
// PROJECTION - Future transactions, never persisted here
// =============================================================================

// Projected returns the series' existing materialized transactions plus
// synthetically generated future ones up to the horizon. Synthetic records
// are not persisted; only Materialize turns them into real transactions.
// Results are cached per (series, horizon, today) and follow the
// coordinator's coarse invalidation.
func (e *Engine) Projected(ctx context.Context, id finance.SeriesID, horizonMonths int) ([]finance.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.series[id]
	if !ok {
		return nil, finance.ErrSeriesNotFound
	}

	today := finance.Today()
	key := projectionKey(id, horizonMonths, today)
	return e.projections.GetOrCompute(key, func() ([]finance.Transaction, error) {
		return e.projectLocked(*s, horizonMonths, today)
	})
}

func (e *Engine) projectLocked(s finance.RecurringSeries, horizonMonths int, today finance.Day) ([]finance.Transaction, error) {
	out := e.coord.TransactionsForSeries(s.ID)

	if !s.Active {
		return out, nil
	}

	start, err := finance.ParseDay(s.StartDate)
	if err != nil {
		return nil, finance.ErrInvalidDate
	}
	horizon := today.AddMonths(horizonMonths)

	for day := start; day.BeforeOrEqual(horizon); day = s.Frequency.Next(day) {
		if day.Before(today) {
			continue // Past dates belong to Materialize, not projection
		}
		if e.hasOccurrenceLocked(s.ID, day.String()) {
			continue
		}
		out = append(out, syntheticTransaction(s, day))
	}
	return out, nil
}

func syntheticTransaction(s finance.RecurringSeries, day finance.Day) finance.Transaction {
	tx := finance.Transaction{
		Date:          day.String(),
		Amount:        s.Amount,
		Kind:          s.Kind,
		SourceAccount: s.AccountID,
		CategoryID:    s.CategoryID,
		SeriesID:      s.ID,
		Description:   s.Description,
	}
	tx.ID = tx.ContentID()
	return tx
}

// =============================================================================
// MATERIALIZATION - Due occurrences become real transactions
// =============================================================================

// Materialize generates real transactions for every due (series, date)
// pair up to the given day, through the coordinator. Already-recorded
// occurrences are skipped. Returns the number of transactions created.
func (e *Engine) Materialize(ctx context.Context, id finance.SeriesID, until finance.Day) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.series[id]
	if !ok {
		return 0, finance.ErrSeriesNotFound
	}
	if !s.Active {
		return 0, nil
	}

	start, err := finance.ParseDay(s.StartDate)
	if err != nil {
		return 0, finance.ErrInvalidDate
	}

	created := 0
	for day := start; day.BeforeOrEqual(until); day = s.Frequency.Next(day) {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		date := day.String()
		if e.hasOccurrenceLocked(id, date) {
			continue
		}

		tx, err := e.coord.Add(ctx, syntheticTransaction(*s, day))
		if err != nil {
			return created, err
		}
		e.recordOccurrenceLocked(finance.RecurringOccurrence{
			SeriesID:      id,
			Date:          date,
			TransactionID: tx.ID,
		})
		created++
	}

	if created > 0 {
		if err := e.persistOccurrencesLocked(ctx); err != nil {
			return created, err
		}
	}
	return created, nil
}

// MaterializeDue runs a materialization pass for every active series up to
// today. Used by the background scheduler.
func (e *Engine) MaterializeDue(ctx context.Context) (int, error) {
	today := finance.Today()
	total := 0
	for _, s := range e.Series() {
		if !s.Active {
			continue
		}
		n, err := e.Materialize(ctx, s.ID, today)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// =============================================================================
// STOPPING A SERIES
// =============================================================================

// StopSeries marks the series inactive and deletes every strictly-future
// materialized transaction (date > fromDate) through the coordinator, so
// balances and caches stay consistent. Deletions are ordinary sequential
// calls; a failure stops the pass and reports how far it got.
func (e *Engine) StopSeries(ctx context.Context, id finance.SeriesID, fromDate finance.Day) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.series[id]
	if !ok {
		return finance.ErrSeriesNotFound
	}
	s.Active = false

	for _, tx := range e.coord.TransactionsForSeries(id) {
		day, err := finance.ParseDay(tx.Date)
		if err != nil {
			return finance.ErrInvalidDate
		}
		if !day.After(fromDate) {
			continue
		}
		if err := e.coord.Delete(ctx, tx.ID); err != nil {
			return err
		}
		e.dropOccurrenceLocked(id, tx.Date)
	}

	if err := e.persistSeriesLocked(ctx); err != nil {
		return err
	}
	return e.persistOccurrencesLocked(ctx)
}

// =============================================================================
// OCCURRENCE BOOKKEEPING
// =============================================================================

func (e *Engine) hasOccurrenceLocked(id finance.SeriesID, date string) bool {
	_, ok := e.occurrences[id][date]
	return ok
}

func (e *Engine) recordOccurrenceLocked(occ finance.RecurringOccurrence) {
	byDate, ok := e.occurrences[occ.SeriesID]
	if !ok {
		byDate = make(map[string]finance.TransactionID)
		e.occurrences[occ.SeriesID] = byDate
	}
	byDate[occ.Date] = occ.TransactionID
}

func (e *Engine) dropOccurrenceLocked(id finance.SeriesID, date string) {
	delete(e.occurrences[id], date)
}

func (e *Engine) persistSeriesLocked(ctx context.Context) error {
	out := make([]finance.RecurringSeries, 0, len(e.series))
	for _, s := range e.series {
		out = append(out, *s)
	}
	return e.store.SaveSeries(ctx, out)
}

func (e *Engine) persistOccurrencesLocked(ctx context.Context) error {
	var out []finance.RecurringOccurrence
	for id, byDate := range e.occurrences {
		for date, txID := range byDate {
			out = append(out, finance.RecurringOccurrence{SeriesID: id, Date: date, TransactionID: txID})
		}
	}
	return e.store.SaveOccurrences(ctx, out)
}

func projectionKey(id finance.SeriesID, horizonMonths int, today finance.Day) string {
	return projectionKeyPrefix(id) + today.String() + ":" + strconv.Itoa(horizonMonths)
}

func projectionKeyPrefix(id finance.SeriesID) string {
	return string(id) + ":"
}
