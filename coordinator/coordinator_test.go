package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/finance"
	"github.com/warp/ledger-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestCoordinator(t *testing.T, cfg Config) *Coordinator {
	t.Helper()
	if cfg.Persistence == nil {
		cfg.Persistence = memory.New()
	}
	if cfg.Categories == nil {
		cfg.Categories = StaticCategories{"food": "Food", "salary": "Salary"}
	}
	return New(cfg)
}

func registerKZT(t *testing.T, c *Coordinator, id string, initial int64) {
	t.Helper()
	init := decimal.NewFromInt(initial)
	require.NoError(t, c.RegisterAccount(context.Background(), finance.Account{
		ID:             finance.AccountID(id),
		Currency:       finance.KZT,
		InitialBalance: &init,
		Mode:           finance.ModeDerived,
	}))
}

func newExpense(account string, amount int64, date string) finance.Transaction {
	return finance.Transaction{
		Date:          date,
		Amount:        finance.NewMoneyFromInt(int(amount), finance.KZT),
		Kind:          finance.KindExpense,
		SourceAccount: finance.AccountID(account),
		CategoryID:    "food",
	}
}

func mustBalance(t *testing.T, c *Coordinator, id string) decimal.Decimal {
	t.Helper()
	acc, ok := c.Account(finance.AccountID(id))
	require.True(t, ok)
	return acc.Balance
}

func assertBalance(t *testing.T, c *Coordinator, id string, want int64) {
	t.Helper()
	got := mustBalance(t, c, id)
	assert.True(t, got.Equal(decimal.NewFromInt(want)),
		"account %s: want %d, got %s", id, want, got)
}

// =============================================================================
// THE CANONICAL MUTATION SEQUENCE
// =============================================================================

func TestCoordinator_MutationSequenceKeepsBalancesConsistent(t *testing.T) {
	// GIVEN: Account A starting at 1000, account B starting at 500
	ctx := context.Background()
	c := newTestCoordinator(t, Config{})
	registerKZT(t, c, "A", 1000)
	registerKZT(t, c, "B", 500)

	// WHEN: An expense of 100 posts to A
	exp, err := c.Add(ctx, newExpense("A", 100, "2026-04-01"))
	require.NoError(t, err)
	assertBalance(t, c, "A", 900)

	// WHEN: 100 transfers from A to B
	tr, err := c.Transfer(ctx, TransferInput{
		From:   "A",
		To:     "B",
		Amount: finance.NewMoneyFromInt(100, finance.KZT),
		Date:   "2026-04-02",
	})
	require.NoError(t, err)
	assertBalance(t, c, "A", 800)
	assertBalance(t, c, "B", 600)

	// WHEN: The transfer is deleted, both sides revert
	require.NoError(t, c.Delete(ctx, tr.ID))
	assertBalance(t, c, "A", 900)
	assertBalance(t, c, "B", 500)

	// WHEN: The expense amount is edited down to 50
	exp.Amount = finance.NewMoneyFromInt(50, finance.KZT)
	require.NoError(t, c.Update(ctx, exp))
	assertBalance(t, c, "A", 950)
	assertBalance(t, c, "B", 500)
}

func TestCoordinator_UpdateMovesEffectBetweenAccounts(t *testing.T) {
	// Changing the paying account reverses the old side and applies the new.
	ctx := context.Background()
	c := newTestCoordinator(t, Config{})
	registerKZT(t, c, "A", 1000)
	registerKZT(t, c, "B", 1000)

	tx, err := c.Add(ctx, newExpense("A", 200, "2026-04-01"))
	require.NoError(t, err)

	tx.SourceAccount = "B"
	require.NoError(t, c.Update(ctx, tx))
	assertBalance(t, c, "A", 1000)
	assertBalance(t, c, "B", 800)
}

// =============================================================================
// VALIDATION AND ERROR TAXONOMY
// =============================================================================

func TestCoordinator_ValidationErrors(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, Config{})
	registerKZT(t, c, "A", 1000)

	t.Run("non-positive amount", func(t *testing.T) {
		tx := newExpense("A", 0, "2026-04-01")
		_, err := c.Add(ctx, tx)
		assert.ErrorIs(t, err, finance.ErrInvalidAmount)
	})

	t.Run("malformed date", func(t *testing.T) {
		tx := newExpense("A", 10, "01/04/2026")
		_, err := c.Add(ctx, tx)
		assert.ErrorIs(t, err, finance.ErrInvalidDate)
	})

	t.Run("unknown source account", func(t *testing.T) {
		tx := newExpense("nope", 10, "2026-04-01")
		_, err := c.Add(ctx, tx)
		var unknown *finance.UnknownAccountError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, finance.AccountID("nope"), unknown.AccountID)
		assert.True(t, finance.IsNotFound(err))
	})

	t.Run("unknown category", func(t *testing.T) {
		tx := newExpense("A", 10, "2026-04-01")
		tx.CategoryID = "yachts"
		_, err := c.Add(ctx, tx)
		assert.ErrorIs(t, err, finance.ErrCategoryNotFound)
	})

	t.Run("transfer to itself", func(t *testing.T) {
		_, err := c.Transfer(ctx, TransferInput{
			From:   "A",
			To:     "A",
			Amount: finance.NewMoneyFromInt(10, finance.KZT),
			Date:   "2026-04-01",
		})
		assert.ErrorIs(t, err, finance.ErrSameAccountTransfer)
	})

	assert.Empty(t, c.Transactions(), "rejected mutations must not touch the ledger")
	assertBalance(t, c, "A", 1000)
}

func TestCoordinator_DuplicateImportIsRejectedNotDoubleCounted(t *testing.T) {
	// GIVEN: Two identical records with no explicit IDs
	// THEN: Both derive the same content ID and the second one collides

	ctx := context.Background()
	c := newTestCoordinator(t, Config{})
	registerKZT(t, c, "A", 1000)

	first, err := c.Add(ctx, newExpense("A", 100, "2026-04-01"))
	require.NoError(t, err)

	_, err = c.Add(ctx, newExpense("A", 100, "2026-04-01"))
	require.ErrorIs(t, err, finance.ErrDuplicateTransaction)

	var dup *finance.DuplicateTransactionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.ID)
	assertBalance(t, c, "A", 900)
}

func TestCoordinator_SameDayExpensesDifferingByDescription(t *testing.T) {
	// Two coffees on the same day are two records, not a duplicate: the
	// description participates in the content-derived identity.

	ctx := context.Background()
	c := newTestCoordinator(t, Config{})
	registerKZT(t, c, "A", 1000)

	first := newExpense("A", 100, "2026-04-01")
	first.Description = "morning coffee"
	second := newExpense("A", 100, "2026-04-01")
	second.Description = "afternoon coffee"

	a, err := c.Add(ctx, first)
	require.NoError(t, err)
	b, err := c.Add(ctx, second)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assertBalance(t, c, "A", 800)
}

func TestCoordinator_ProtectedPostingRefusesMutation(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, Config{})
	registerKZT(t, c, "D", 0)

	accrual := finance.Transaction{
		Date:          "2026-04-01",
		Amount:        finance.NewMoneyFromInt(37, finance.KZT),
		Kind:          finance.KindDepositAccrual,
		SourceAccount: "D",
	}
	posted, err := c.Add(ctx, accrual)
	require.NoError(t, err)
	assertBalance(t, c, "D", 37)

	posted.Amount = finance.NewMoneyFromInt(1000, finance.KZT)
	err = c.Update(ctx, posted)
	assert.True(t, finance.IsProtected(err), "update of a system posting must refuse")

	err = c.Delete(ctx, posted.ID)
	assert.True(t, finance.IsProtected(err), "delete of a system posting must refuse")
	assertBalance(t, c, "D", 37)
}

// =============================================================================
// CROSS-CURRENCY TRANSFERS
// =============================================================================

func TestCoordinator_TransferFreezesConversionAtCreation(t *testing.T) {
	ctx := context.Background()
	rates := finance.StaticConverter{Rates: map[string]decimal.Decimal{
		"KZT/USD": decimal.RequireFromString("0.002"),
	}}
	c := newTestCoordinator(t, Config{Converter: rates})
	registerKZT(t, c, "A", 100000)
	usd := decimal.Zero
	require.NoError(t, c.RegisterAccount(ctx, finance.Account{
		ID: "C", Currency: finance.USD, InitialBalance: &usd, Mode: finance.ModeDerived,
	}))

	tr, err := c.Transfer(ctx, TransferInput{
		From:   "A",
		To:     "C",
		Amount: finance.NewMoneyFromInt(50000, finance.KZT),
		Date:   "2026-04-01",
	})
	require.NoError(t, err)

	require.NotNil(t, tr.TargetAmount, "cross-currency transfer must store the frozen amount")
	assert.True(t, tr.TargetAmount.Value.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, finance.USD, tr.TargetAmount.Currency)
	assertBalance(t, c, "A", 50000)
	assertBalance(t, c, "C", 100)

	// Rebuilding replays the stored amount; the live rate table is not
	// consulted again.
	rates.Rates["KZT/USD"] = decimal.RequireFromString("99")
	require.NoError(t, c.RebuildBalances(ctx))
	assertBalance(t, c, "C", 100)
}

func TestCoordinator_ForeignExpenseSurvivesRateChange(t *testing.T) {
	// GIVEN: A USD-denominated expense on a KZT account, converted at 450
	// WHEN: The rate moves to 500 before the expense is deleted
	// THEN: The reversal uses the frozen amount and restores the balance
	//       exactly, with no drift

	ctx := context.Background()
	rates := finance.StaticConverter{Rates: map[string]decimal.Decimal{
		"USD/KZT": decimal.NewFromInt(450),
	}}
	c := newTestCoordinator(t, Config{Converter: rates})
	registerKZT(t, c, "A", 100000)

	foreign := newExpense("A", 100, "2026-04-01")
	foreign.Amount = finance.NewMoneyFromInt(100, finance.USD)
	tx, err := c.Add(ctx, foreign)
	require.NoError(t, err)

	require.NotNil(t, tx.SourceAmount, "cross-currency record must store the frozen amount")
	assert.True(t, tx.SourceAmount.Value.Equal(decimal.NewFromInt(45000)))
	assert.Equal(t, finance.KZT, tx.SourceAmount.Currency)
	assertBalance(t, c, "A", 55000)

	rates.Rates["USD/KZT"] = decimal.NewFromInt(500)
	require.NoError(t, c.Delete(ctx, tx.ID))
	assertBalance(t, c, "A", 100000)
}

// =============================================================================
// CHANGE EVENTS
// =============================================================================

func receiveEvent(t *testing.T, ch <-chan finance.ChangeEvent) finance.ChangeEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no change event received")
		return finance.ChangeEvent{}
	}
}

func TestCoordinator_ExactlyOneEventPerMutation(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, Config{})
	registerKZT(t, c, "A", 1000)
	registerKZT(t, c, "B", 500)

	events, cancel := c.Subscribe()
	defer cancel()

	tx, err := c.Add(ctx, newExpense("A", 100, "2026-04-01"))
	require.NoError(t, err)
	ev := receiveEvent(t, events)
	assert.Equal(t, finance.ChangeAdded, ev.Kind)
	assert.Equal(t, []finance.TransactionID{tx.ID}, ev.Transactions)
	assert.Equal(t, []finance.AccountID{"A"}, ev.Accounts)

	tr, err := c.Transfer(ctx, TransferInput{
		From: "A", To: "B",
		Amount: finance.NewMoneyFromInt(50, finance.KZT),
		Date:   "2026-04-02",
	})
	require.NoError(t, err)
	ev = receiveEvent(t, events)
	assert.Equal(t, finance.ChangeTransferred, ev.Kind)
	assert.ElementsMatch(t, []finance.AccountID{"A", "B"}, ev.Accounts)

	require.NoError(t, c.Delete(ctx, tr.ID))
	ev = receiveEvent(t, events)
	assert.Equal(t, finance.ChangeDeleted, ev.Kind)

	tx.Amount = finance.NewMoneyFromInt(70, finance.KZT)
	require.NoError(t, c.Update(ctx, tx))
	ev = receiveEvent(t, events)
	assert.Equal(t, finance.ChangeUpdated, ev.Kind)

	select {
	case extra := <-events:
		t.Fatalf("unexpected extra event: %+v", extra)
	default:
	}
}

// =============================================================================
// BATCH IMPORT
// =============================================================================

// countingStore counts save calls to observe how often the batch path
// persists.
type countingStore struct {
	*memory.Store
	txSaves int
}

func (s *countingStore) SaveTransactions(ctx context.Context, txs []finance.Transaction) error {
	s.txSaves++
	return s.Store.SaveTransactions(ctx, txs)
}

func TestCoordinator_BatchPersistsAndNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: memory.New()}
	c := newTestCoordinator(t, Config{Persistence: store})
	registerKZT(t, c, "A", 1000)

	events, cancel := c.Subscribe()
	defer cancel()

	store.txSaves = 0
	err := c.Batch(ctx, func(add BatchAdder) error {
		for day := 1; day <= 9; day++ {
			tx := newExpense("A", 10, "2026-04-01")
			tx.Date = finance.Today().AddDays(-day).String()
			if err := add.Add(tx); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, store.txSaves, "batch must persist exactly once")
	assert.Len(t, c.Transactions(), 9)
	assertBalance(t, c, "A", 910)

	ev := receiveEvent(t, events)
	assert.Equal(t, finance.ChangeBulk, ev.Kind)
	select {
	case extra := <-events:
		t.Fatalf("unexpected extra event: %+v", extra)
	default:
	}
}

func TestCoordinator_BatchCancellationLeavesValidState(t *testing.T) {
	// GIVEN: A context cancelled mid-import
	// THEN: Appended entries remain, balances cover them, and the error
	//       surfaces to the caller

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestCoordinator(t, Config{})
	registerKZT(t, c, "A", 1000)

	err := c.Batch(ctx, func(add BatchAdder) error {
		tx := newExpense("A", 100, "2026-04-01")
		if err := add.Add(tx); err != nil {
			return err
		}
		cancel()
		tx2 := newExpense("A", 100, "2026-04-02")
		return add.Add(tx2)
	})
	require.ErrorIs(t, err, context.Canceled)

	assert.Len(t, c.Transactions(), 1)
	assertBalance(t, c, "A", 900)
}

// =============================================================================
// PERSISTENCE FAILURES
// =============================================================================

type failingStore struct {
	*memory.Store
	fail bool
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) SaveTransactions(ctx context.Context, txs []finance.Transaction) error {
	if s.fail {
		return errDiskFull
	}
	return s.Store.SaveTransactions(ctx, txs)
}

func TestCoordinator_PersistenceFailureSurfacesAndFlushRetries(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: memory.New()}
	c := newTestCoordinator(t, Config{Persistence: store})
	registerKZT(t, c, "A", 1000)

	events, cancel := c.Subscribe()
	defer cancel()

	store.fail = true
	tx, err := c.Add(ctx, newExpense("A", 100, "2026-04-01"))
	require.ErrorIs(t, err, errDiskFull)

	// The in-memory mutation happened and observers saw it.
	assertBalance(t, c, "A", 900)
	_, ok := c.Transaction(tx.ID)
	assert.True(t, ok)
	ev := receiveEvent(t, events)
	assert.Equal(t, finance.ChangeAdded, ev.Kind)

	// Retrying just the save step succeeds once storage recovers.
	store.fail = false
	require.NoError(t, c.Flush(ctx))
	saved, err := store.LoadTransactions(ctx)
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

// =============================================================================
// DERIVED READS
// =============================================================================

func TestCoordinator_SummaryTracksMutations(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, Config{})
	registerKZT(t, c, "A", 1000)

	period := finance.MonthPeriod(2026, 4)

	s, err := c.Summary(period)
	require.NoError(t, err)
	assert.True(t, s.Net.IsZero())

	_, err = c.Add(ctx, newExpense("A", 100, "2026-04-05"))
	require.NoError(t, err)
	salary := newExpense("A", 900, "2026-04-10")
	salary.Kind = finance.KindIncome
	salary.CategoryID = "salary"
	_, err = c.Add(ctx, salary)
	require.NoError(t, err)

	// A transfer moves money between own accounts; it must not count.
	registerKZT(t, c, "B", 0)
	_, err = c.Transfer(ctx, TransferInput{
		From: "A", To: "B",
		Amount: finance.NewMoneyFromInt(300, finance.KZT),
		Date:   "2026-04-15",
	})
	require.NoError(t, err)

	s, err = c.Summary(period)
	require.NoError(t, err)
	assert.True(t, s.Income.Equal(decimal.NewFromInt(900)))
	assert.True(t, s.Expense.Equal(decimal.NewFromInt(100)))
	assert.True(t, s.Net.Equal(decimal.NewFromInt(800)))

	totals, err := c.CategoryTotals(period)
	require.NoError(t, err)
	assert.True(t, totals.Totals["food"].Equal(decimal.NewFromInt(100)))
	assert.False(t, totals.Approximate)

	day, err := finance.ParseDay("2026-04-05")
	require.NoError(t, err)
	spent, err := c.DayTotal(day)
	require.NoError(t, err)
	assert.True(t, spent.Total.Equal(decimal.NewFromInt(100)))
	assert.False(t, spent.Approximate)
}

func TestCoordinator_SummaryConvertsToBaseCurrency(t *testing.T) {
	// GIVEN: A KZT expense and a USD expense in the same period
	// WHEN: No rate to the base currency is available
	// THEN: The aggregate is flagged approximate, not silently mixed
	// WHEN: A rate is available
	// THEN: Totals sum in the base currency with the flag clear

	ctx := context.Background()
	period := finance.MonthPeriod(2026, 4)

	addMixed := func(t *testing.T, c *Coordinator) {
		registerKZT(t, c, "A", 100000)
		usd := decimal.NewFromInt(1000)
		require.NoError(t, c.RegisterAccount(ctx, finance.Account{
			ID: "U", Currency: finance.USD, InitialBalance: &usd, Mode: finance.ModeDerived,
		}))
		_, err := c.Add(ctx, newExpense("A", 100, "2026-04-05"))
		require.NoError(t, err)
		foreign := newExpense("U", 100, "2026-04-06")
		foreign.Amount = finance.NewMoneyFromInt(100, finance.USD)
		_, err = c.Add(ctx, foreign)
		require.NoError(t, err)
	}

	t.Run("missing rate degrades", func(t *testing.T) {
		c := newTestCoordinator(t, Config{})
		addMixed(t, c)

		s, err := c.Summary(period)
		require.NoError(t, err)
		assert.True(t, s.Approximate, "mixed currencies without a rate must flag the summary")
		assert.True(t, s.Expense.Equal(decimal.NewFromInt(200)))
	})

	t.Run("available rate converts", func(t *testing.T) {
		rates := finance.StaticConverter{Rates: map[string]decimal.Decimal{
			"USD/KZT": decimal.NewFromInt(500),
		}}
		c := newTestCoordinator(t, Config{Converter: rates, BaseCurrency: finance.KZT})
		addMixed(t, c)

		s, err := c.Summary(period)
		require.NoError(t, err)
		assert.False(t, s.Approximate)
		assert.True(t, s.Expense.Equal(decimal.NewFromInt(50100)),
			"100 KZT + 100 USD at 500 must sum to 50100 KZT, got %s", s.Expense)

		spent, err := c.DayTotal(period.Start.AddDays(5))
		require.NoError(t, err)
		assert.True(t, spent.Total.Equal(decimal.NewFromInt(50000)))
		assert.False(t, spent.Approximate)
	})
}

// =============================================================================
// LOAD
// =============================================================================

func TestCoordinator_LoadRestoresStateFromPersistence(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	first := newTestCoordinator(t, Config{Persistence: store})
	registerKZT(t, first, "A", 1000)
	_, err := first.Add(ctx, newExpense("A", 100, "2026-04-01"))
	require.NoError(t, err)

	second := newTestCoordinator(t, Config{Persistence: store})
	require.NoError(t, second.Load(ctx))
	assert.Len(t, second.Transactions(), 1)
	assertBalance(t, second, "A", 900)
}
