package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-engine/finance"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func derivedAccount(id string, currency finance.Currency, initial int64) finance.Account {
	init := dec(initial)
	return finance.Account{
		ID:             finance.AccountID(id),
		Currency:       currency,
		InitialBalance: &init,
		Mode:           finance.ModeDerived,
	}
}

func trustedAccount(id string, currency finance.Currency, balance int64) finance.Account {
	return finance.Account{
		ID:       finance.AccountID(id),
		Currency: currency,
		Balance:  dec(balance),
		Mode:     finance.ModeTrusted,
	}
}

func expense(id string, account string, amount int64) finance.Transaction {
	return finance.Transaction{
		ID:            finance.TransactionID(id),
		Date:          "2026-04-01",
		Amount:        finance.NewMoneyFromInt(int(amount), finance.KZT),
		Kind:          finance.KindExpense,
		SourceAccount: finance.AccountID(account),
		CategoryID:    "food",
		CreatedAt:     time.Now(),
	}
}

func income(id string, account string, amount int64) finance.Transaction {
	tx := expense(id, account, amount)
	tx.Kind = finance.KindIncome
	tx.CategoryID = "salary"
	return tx
}

func transfer(id, from, to string, amount int64) finance.Transaction {
	tx := expense(id, from, amount)
	tx.Kind = finance.KindTransfer
	tx.TargetAccount = finance.AccountID(to)
	tx.CategoryID = ""
	return tx
}

func balanceOf(t *testing.T, b *Balances, id string) decimal.Decimal {
	t.Helper()
	acc, ok := b.Account(finance.AccountID(id))
	require.True(t, ok, "account %s must exist", id)
	return acc.Balance
}

// =============================================================================
// SIGNED EFFECT TESTS
// =============================================================================

func TestBalances_SignedEffectsPerKind(t *testing.T) {
	b := NewBalances()
	require.NoError(t, b.Register(derivedAccount("A", finance.KZT, 1000)))

	// Expense subtracts
	b.Apply(expense("e1", "A", 100))
	assert.True(t, balanceOf(t, b, "A").Equal(dec(900)))

	// Income adds
	b.Apply(income("i1", "A", 50))
	assert.True(t, balanceOf(t, b, "A").Equal(dec(950)))

	// Deposit accrual adds
	accrual := expense("d1", "A", 25)
	accrual.Kind = finance.KindDepositAccrual
	accrual.CategoryID = ""
	b.Apply(accrual)
	assert.True(t, balanceOf(t, b, "A").Equal(dec(975)))

	// Deposit withdrawal subtracts
	withdrawal := expense("d2", "A", 75)
	withdrawal.Kind = finance.KindDepositWithdrawal
	withdrawal.CategoryID = ""
	b.Apply(withdrawal)
	assert.True(t, balanceOf(t, b, "A").Equal(dec(900)))
}

func TestBalances_TransferMovesBothSides(t *testing.T) {
	b := NewBalances()
	require.NoError(t, b.Register(derivedAccount("A", finance.KZT, 1000)))
	require.NoError(t, b.Register(derivedAccount("B", finance.KZT, 500)))

	tx := transfer("t1", "A", "B", 100)
	b.Apply(tx)
	assert.True(t, balanceOf(t, b, "A").Equal(dec(900)))
	assert.True(t, balanceOf(t, b, "B").Equal(dec(600)))

	// Reversing restores both sides exactly.
	b.Reverse(tx)
	assert.True(t, balanceOf(t, b, "A").Equal(dec(1000)))
	assert.True(t, balanceOf(t, b, "B").Equal(dec(500)))
}

func TestBalances_CrossCurrencyTransferUsesFrozenTargetAmount(t *testing.T) {
	// GIVEN: KZT source, USD target, target amount frozen at creation
	// THEN: The target side receives exactly the frozen amount

	b := NewBalances()
	require.NoError(t, b.Register(derivedAccount("A", finance.KZT, 100000)))
	require.NoError(t, b.Register(derivedAccount("C", finance.USD, 0)))

	tx := transfer("t1", "A", "C", 50000)
	frozen := finance.NewMoneyFromInt(100, finance.USD)
	tx.TargetAmount = &frozen

	b.Apply(tx)
	assert.True(t, balanceOf(t, b, "A").Equal(dec(50000)))
	assert.True(t, balanceOf(t, b, "C").Equal(dec(100)))
	assert.False(t, b.Approximate(), "frozen amount needs no conversion")
}

func TestBalances_ConversionMissDegradesAndFlags(t *testing.T) {
	// GIVEN: No converter and no frozen target amount across currencies
	// THEN: The raw amount is applied and the ledger is flagged approximate

	b := NewBalances()
	require.NoError(t, b.Register(derivedAccount("A", finance.KZT, 1000)))
	require.NoError(t, b.Register(derivedAccount("C", finance.USD, 0)))

	b.Apply(transfer("t1", "A", "C", 100))
	assert.True(t, balanceOf(t, b, "C").Equal(dec(100)))
	assert.True(t, b.Approximate(), "degraded conversion must be flagged")
}

func TestBalances_FrozenSourceAmountReversesExactly(t *testing.T) {
	// GIVEN: A USD-denominated expense on a KZT account, with the
	// account-currency amount frozen on the record
	// WHEN: The record is applied and later reversed
	// THEN: Both replays use the same frozen amount and cancel exactly

	b := NewBalances()
	require.NoError(t, b.Register(derivedAccount("A", finance.KZT, 100000)))

	tx := expense("e1", "A", 100)
	tx.Amount = finance.NewMoneyFromInt(100, finance.USD)
	frozen := finance.NewMoneyFromInt(45000, finance.KZT)
	tx.SourceAmount = &frozen

	b.Apply(tx)
	assert.True(t, balanceOf(t, b, "A").Equal(dec(55000)))
	assert.False(t, b.Approximate(), "frozen amount needs no conversion")

	b.Reverse(tx)
	assert.True(t, balanceOf(t, b, "A").Equal(dec(100000)),
		"reverse after apply must be an exact no-op")
}

// =============================================================================
// CONSERVATION AND CONVERGENCE
// =============================================================================

func TestBalances_IncrementalMatchesFullRecalculation(t *testing.T) {
	// GIVEN: A mixed sequence of kinds applied incrementally
	// THEN: A full recalculation over the same set yields identical balances

	txs := []finance.Transaction{
		expense("e1", "A", 120),
		income("i1", "A", 300),
		transfer("t1", "A", "B", 80),
		expense("e2", "B", 40),
		income("i2", "B", 10),
	}

	incremental := NewBalances()
	full := NewBalances()
	for _, b := range []*Balances{incremental, full} {
		require.NoError(t, b.Register(derivedAccount("A", finance.KZT, 1000)))
		require.NoError(t, b.Register(derivedAccount("B", finance.KZT, 500)))
	}

	for _, tx := range txs {
		incremental.Apply(tx)
	}
	full.Recalculate(txs)

	for _, id := range []string{"A", "B"} {
		assert.True(t, balanceOf(t, incremental, id).Equal(balanceOf(t, full, id)),
			"account %s: incremental %s != full %s",
			id, balanceOf(t, incremental, id), balanceOf(t, full, id))
	}
}

func TestBalances_ConservationAfterEveryMutation(t *testing.T) {
	// Derived-mode invariant: balance == initial + signed sum, checked
	// after every mutation, not just at the end.

	b := NewBalances()
	require.NoError(t, b.Register(derivedAccount("A", finance.KZT, 1000)))

	var applied []finance.Transaction
	steps := []finance.Transaction{
		expense("e1", "A", 100),
		income("i1", "A", 250),
		expense("e2", "A", 30),
	}

	for _, tx := range steps {
		b.Apply(tx)
		applied = append(applied, tx)

		reference := NewBalances()
		require.NoError(t, reference.Register(derivedAccount("A", finance.KZT, 1000)))
		reference.Recalculate(applied)

		assert.True(t, balanceOf(t, b, "A").Equal(balanceOf(t, reference, "A")),
			"conservation violated after %s", tx.ID)
	}
}

// =============================================================================
// TRUSTED MODE
// =============================================================================

func TestBalances_TrustedAccountSkippedByRecalculate(t *testing.T) {
	// GIVEN: A trusted account whose imported balance already covers history
	// WHEN: A full recalculation runs over imported transactions
	// THEN: The trusted balance is not silently overwritten

	b := NewBalances()
	require.NoError(t, b.Register(trustedAccount("T", finance.KZT, 5000)))

	b.Recalculate([]finance.Transaction{expense("old", "T", 100)})
	assert.True(t, balanceOf(t, b, "T").Equal(dec(5000)),
		"recalculate must not touch a trusted balance")
}

func TestBalances_TrustedAccountTakesIncrementalDeltas(t *testing.T) {
	// A transaction processed after import is not baked into the trusted
	// balance, so it applies incrementally.

	b := NewBalances()
	require.NoError(t, b.Register(trustedAccount("T", finance.KZT, 5000)))

	b.Apply(expense("new", "T", 100))
	assert.True(t, balanceOf(t, b, "T").Equal(dec(4900)))
}

func TestBalances_RebuildReplaysTrustedAccounts(t *testing.T) {
	// The explicit rebuild is the only operation that may recompute a
	// trusted balance, replaying the complete history from scratch.

	b := NewBalances()
	require.NoError(t, b.Register(trustedAccount("T", finance.KZT, 9999)))

	b.Rebuild([]finance.Transaction{
		income("i1", "T", 1000),
		expense("e1", "T", 400),
	})
	assert.True(t, balanceOf(t, b, "T").Equal(dec(600)))
	acc, _ := b.Account("T")
	assert.Equal(t, finance.ModeTrusted, acc.Mode, "rebuild keeps the account's mode")
}

func TestBalances_RegisterResetsDerivedBalance(t *testing.T) {
	// A derived balance is recomputable by definition. A stray stored
	// value supplied at registration must not survive as the balance.

	b := NewBalances()
	acc := derivedAccount("A", finance.KZT, 1000)
	acc.Balance = dec(7777)
	require.NoError(t, b.Register(acc))

	assert.True(t, balanceOf(t, b, "A").Equal(dec(1000)),
		"derived account must report its initial balance at registration")
}

func TestBalances_RegisterDuplicateFails(t *testing.T) {
	b := NewBalances()
	require.NoError(t, b.Register(derivedAccount("A", finance.KZT, 0)))
	assert.ErrorIs(t, b.Register(derivedAccount("A", finance.KZT, 0)), finance.ErrDuplicateAccount)
}
