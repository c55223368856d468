/*
Package coordinator is the single entry point for every ledger mutation.

PURPOSE:
  Sequences each mutation through the same pipeline:

    validate -> apply to entry store -> update balances -> invalidate
    derived caches -> persist -> emit one change event

  Nothing else in the repository mutates the entry store or balances.
  Readers (summary, category totals, day totals) are served from the
  derived-value cache, populated lazily and invalidated only here.

CONCURRENCY:
  One mutex forms the serialization domain: two concurrent mutations can
  never interleave their read-modify-write balance updates, and per-account
  balance updates are applied in the order their mutations were issued.
  Reads that must be consistent take the same mutex. Cache operations are
  cheap and run inside the domain; call volumes are per-user-action.

UPDATE SEMANTICS:
  An update is reverse(old) then apply(new). There is no special case for
  amount/account/currency changes - reversing the old effects and applying
  the new ones handles every balance-affecting field uniformly.

ERROR CONTRACT:
  Validation and protected-mutation failures return typed errors before
  anything is touched. Persistence failures are returned after the
  in-memory state was updated; the state is correct and Flush retries
  just the save step idempotently.
*/
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/warp/ledger-engine/cache"
	"github.com/warp/ledger-engine/finance"
	"github.com/warp/ledger-engine/ledger"
)

// DerivedCacheCapacity bounds the named-slot derived cache. Slots are one
// per aggregate kind plus one per queried day, so a few hundred is plenty.
const DerivedCacheCapacity = 512

// Config wires the coordinator's collaborators.
type Config struct {
	Persistence Persistence
	Categories  CategoryDirectory
	Converter   finance.Converter // May be nil: all conversions degrade

	// BaseCurrency is the reporting currency for summaries and totals.
	// Defaults to KZT.
	BaseCurrency finance.Currency
}

type Coordinator struct {
	cfg Config

	// mu is the serialization domain for all ledger and balance mutations.
	mu sync.Mutex

	entries  *ledger.EntryStore
	balances *ledger.Balances
	derived  *cache.Derived

	subscribers *subscribers

	// lastCreated enforces a strictly increasing CreatedAt tie-breaker for
	// same-day ordering within one process.
	lastCreated time.Time
}

func New(cfg Config) *Coordinator {
	if cfg.Categories == nil {
		cfg.Categories = AllowAllCategories{}
	}
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = finance.KZT
	}
	return &Coordinator{
		cfg:         cfg,
		entries:     ledger.NewEntryStore(),
		balances:    ledger.NewBalances(),
		derived:     cache.NewDerived(DerivedCacheCapacity),
		subscribers: newSubscribers(),
	}
}

// Load restores accounts and transactions from persistence and recomputes
// derived-mode balances. Trusted balances are taken as stored.
func (c *Coordinator) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	accounts, err := c.cfg.Persistence.LoadAccounts(ctx)
	if err != nil {
		return err
	}
	txs, err := c.cfg.Persistence.LoadTransactions(ctx)
	if err != nil {
		return err
	}

	for _, acc := range accounts {
		if err := c.balances.Register(acc); err != nil {
			return err
		}
	}
	if err := c.entries.Load(txs); err != nil {
		return err
	}
	c.balances.Recalculate(c.entries.All())
	c.derived.InvalidateAll()
	return nil
}

// =============================================================================
// ACCOUNT REGISTRATION
// =============================================================================

// RegisterAccount adds an account to the balance ledger and persists the
// account set. Mode and initial balance are fixed at registration.
func (c *Coordinator) RegisterAccount(ctx context.Context, acc finance.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.balances.Register(acc); err != nil {
		return err
	}
	return c.cfg.Persistence.SaveAccounts(ctx, c.balances.Accounts())
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Add validates and applies a new transaction. On return the affected
// accounts' balances are already updated and derived caches invalidated.
//
// An empty ID is filled with the content-derived id, making re-imports of
// identical records collide on ErrDuplicateTransaction instead of
// double-counting.
func (c *Coordinator) Add(ctx context.Context, tx finance.Transaction) (finance.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(ctx, tx, finance.ChangeAdded)
}

func (c *Coordinator) addLocked(ctx context.Context, tx finance.Transaction, kind finance.ChangeKind) (finance.Transaction, error) {
	tx, err := c.prepare(tx)
	if err != nil {
		return finance.Transaction{}, err
	}

	if err := c.entries.Append(tx); err != nil {
		return finance.Transaction{}, err
	}
	c.balances.Apply(tx)

	return tx, c.commit(ctx, finance.ChangeEvent{
		Kind:         kind,
		Transactions: []finance.TransactionID{tx.ID},
		Accounts:     ledger.AffectedAccounts(tx),
	})
}

// Update replaces an existing transaction, computed as reverse(old) then
// apply(new) so any balance-affecting field change is handled uniformly.
// System-generated postings refuse updates.
func (c *Coordinator) Update(ctx context.Context, tx finance.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tx.ID == "" {
		return finance.ErrIDMismatch
	}
	old, ok := c.entries.Get(tx.ID)
	if !ok {
		return finance.ErrTransactionNotFound
	}
	if old.Protected() {
		return &finance.ProtectedTransactionError{ID: old.ID, Kind: old.Kind}
	}

	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = old.CreatedAt
	}
	prepared, err := c.prepareFields(tx)
	if err != nil {
		return err
	}

	c.balances.Reverse(old)
	if err := c.entries.Replace(prepared); err != nil {
		c.balances.Apply(old) // Restore, the replace did not happen
		return err
	}
	c.balances.Apply(prepared)

	accounts := ledger.AffectedAccounts(old)
	accounts = append(accounts, ledger.AffectedAccounts(prepared)...)
	return c.commit(ctx, finance.ChangeEvent{
		Kind:         finance.ChangeUpdated,
		Transactions: []finance.TransactionID{prepared.ID},
		Accounts:     dedupeAccounts(accounts),
	})
}

// Delete removes a transaction and reverses its balance effects.
// System-generated interest postings are not deletable.
func (c *Coordinator) Delete(ctx context.Context, id finance.TransactionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(ctx, id)
}

func (c *Coordinator) deleteLocked(ctx context.Context, id finance.TransactionID) error {
	existing, ok := c.entries.Get(id)
	if !ok {
		return finance.ErrTransactionNotFound
	}
	if existing.Protected() {
		return &finance.ProtectedTransactionError{ID: existing.ID, Kind: existing.Kind}
	}

	removed, err := c.entries.Remove(id)
	if err != nil {
		return err
	}
	c.balances.Reverse(removed)

	return c.commit(ctx, finance.ChangeEvent{
		Kind:         finance.ChangeDeleted,
		Transactions: []finance.TransactionID{id},
		Accounts:     ledger.AffectedAccounts(removed),
	})
}

// TransferInput describes a transfer between two own accounts.
type TransferInput struct {
	From        finance.AccountID
	To          finance.AccountID
	Amount      finance.Money
	Date        string
	Description string
}

// Transfer constructs a transfer transaction and delegates to the add path.
// When the two accounts use different currencies the receiving-side amount
// is computed once here, freezing the rate at creation time; replays never
// consult live rates.
func (c *Coordinator) Transfer(ctx context.Context, in TransferInput) (finance.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx := finance.Transaction{
		Date:          in.Date,
		Amount:        in.Amount,
		Kind:          finance.KindTransfer,
		SourceAccount: in.From,
		TargetAccount: in.To,
		Description:   in.Description,
	}
	return c.addLocked(ctx, tx, finance.ChangeTransferred)
}

// RebuildBalances replays every transaction once for every account,
// trusted ones included. This is the only operation allowed to touch a
// trusted balance.
func (c *Coordinator) RebuildBalances(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.balances.Rebuild(c.entries.All())
	return c.commit(ctx, finance.ChangeEvent{Kind: finance.ChangeRebuilt})
}

// Flush re-persists the current state. Persistence failures leave the
// in-memory ledger correct, so callers retry by flushing again.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persist(ctx)
}

// =============================================================================
// BATCH IMPORT
// =============================================================================

// BatchAdder is handed to Batch callbacks. Adds are validated but skip
// per-call invalidation, persistence and notification.
type BatchAdder interface {
	Add(tx finance.Transaction) error
}

type batchAdder struct {
	ctx   context.Context
	coord *Coordinator
}

func (b *batchAdder) Add(tx finance.Transaction) error {
	// Cooperative cancellation between entries. A cancelled batch leaves
	// the ledger valid: everything appended so far is recomputed below.
	if err := b.ctx.Err(); err != nil {
		return err
	}
	prepared, err := b.coord.prepare(tx)
	if err != nil {
		return err
	}
	return b.coord.entries.Append(prepared)
}

// Batch runs a bulk import. Per-call cache invalidation and persistence
// are bypassed; balances are fully recomputed once at the end, the derived
// cache is invalidated once, and exactly one bulk event is emitted.
//
// If fn returns an error the entries it already appended remain, balances
// are still recomputed, and the error is returned: the ledger is in a
// valid state reachable by resuming the import or by a full rebuild.
func (c *Coordinator) Batch(ctx context.Context, fn func(BatchAdder) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fnErr := fn(&batchAdder{ctx: ctx, coord: c})

	c.balances.Recalculate(c.entries.All())
	commitErr := c.commit(ctx, finance.ChangeEvent{Kind: finance.ChangeBulk})

	if fnErr != nil {
		return fnErr
	}
	return commitErr
}

// =============================================================================
// READS
// =============================================================================

// Transactions returns a copy of the current ledger, in order.
func (c *Coordinator) Transactions() []finance.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.All()
}

// Transaction returns one record by id.
func (c *Coordinator) Transaction(id finance.TransactionID) (finance.Transaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Get(id)
}

// TransactionsForSeries returns the materialized records of one series.
func (c *Coordinator) TransactionsForSeries(id finance.SeriesID) []finance.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.ForSeries(id)
}

// Accounts returns copies of every registered account.
func (c *Coordinator) Accounts() []finance.Account {
	return c.balances.Accounts()
}

// Account returns a copy of one account. The balance read synchronizes with
// the serialization domain so a half-applied delta is never observed.
func (c *Coordinator) Account(id finance.AccountID) (finance.Account, bool) {
	return c.balances.Account(id)
}

// =============================================================================
// PIPELINE INTERNALS
// =============================================================================

// prepare validates a new transaction and fills id and created-at.
func (c *Coordinator) prepare(tx finance.Transaction) (finance.Transaction, error) {
	tx, err := c.prepareFields(tx)
	if err != nil {
		return finance.Transaction{}, err
	}
	if tx.ID == "" {
		tx.ID = tx.ContentID()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = c.nextCreatedAt()
	}
	return tx, nil
}

// prepareFields validates the caller-controlled fields shared by add and
// update, and freezes conversion rates when needed. Freezing happens here
// and nowhere else: once a record is stored, replays use only its stored
// amounts, so later rate changes cannot drift a reversal.
func (c *Coordinator) prepareFields(tx finance.Transaction) (finance.Transaction, error) {
	if !tx.Amount.IsPositive() {
		return finance.Transaction{}, finance.ErrInvalidAmount
	}
	if _, err := c.entries.Day(tx.Date); err != nil {
		return finance.Transaction{}, err
	}
	source, ok := c.balances.Account(tx.SourceAccount)
	if !ok {
		return finance.Transaction{}, &finance.UnknownAccountError{AccountID: tx.SourceAccount}
	}
	if tx.SourceAmount == nil && tx.Amount.Currency != "" && tx.Amount.Currency != source.Currency {
		tx.SourceAmount = c.frozenIn(tx.Amount, source.Currency)
	}

	switch tx.Kind {
	case finance.KindExpense, finance.KindIncome:
		if !c.cfg.Categories.Exists(tx.CategoryID) {
			return finance.Transaction{}, finance.ErrCategoryNotFound
		}

	case finance.KindTransfer:
		if tx.TargetAccount == tx.SourceAccount {
			return finance.Transaction{}, finance.ErrSameAccountTransfer
		}
		target, ok := c.balances.Account(tx.TargetAccount)
		if !ok {
			return finance.Transaction{}, &finance.UnknownAccountError{AccountID: tx.TargetAccount}
		}
		if tx.TargetAmount == nil && target.Currency != source.Currency {
			tx.TargetAmount = c.frozenIn(tx.Amount, target.Currency)
		}
	}

	return tx, nil
}

// frozenIn converts an amount into the given account currency at creation
// time. A missing rate returns nil: the effect layer degrades to the face
// value and flags the balance approximate.
func (c *Coordinator) frozenIn(amount finance.Money, target finance.Currency) *finance.Money {
	if c.cfg.Converter == nil {
		return nil
	}
	converted, ok := c.cfg.Converter.Convert(amount.Value, amount.Currency, target)
	if !ok {
		return nil
	}
	return &finance.Money{Value: converted, Currency: target}
}

// commit finishes a mutation: coarse cache invalidation, persistence, and
// exactly one change event. The event is emitted even when persistence
// fails - the in-memory state did change, and observers must see it; the
// caller gets the persistence error and retries via Flush.
func (c *Coordinator) commit(ctx context.Context, ev finance.ChangeEvent) error {
	c.derived.InvalidateAll()
	err := c.persist(ctx)
	ev.At = time.Now()
	c.subscribers.publish(ev)
	return err
}

func (c *Coordinator) persist(ctx context.Context) error {
	if err := c.cfg.Persistence.SaveTransactions(ctx, c.entries.All()); err != nil {
		return err
	}
	return c.cfg.Persistence.SaveAccounts(ctx, c.balances.Accounts())
}

func (c *Coordinator) nextCreatedAt() time.Time {
	now := time.Now()
	if !now.After(c.lastCreated) {
		now = c.lastCreated.Add(time.Nanosecond)
	}
	c.lastCreated = now
	return now
}

func dedupeAccounts(ids []finance.AccountID) []finance.AccountID {
	seen := make(map[finance.AccountID]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
