package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/finance"
)

// =============================================================================
// SIGNED EFFECTS - What a single transaction does to each account it touches
// =============================================================================

// Effect is the signed balance delta one transaction applies to one account,
// expressed in that account's currency.
type Effect struct {
	Account finance.AccountID
	Delta   decimal.Decimal

	// Approximate is set when no account-currency amount was frozen at
	// creation and the face value was used as-is.
	Approximate bool
}

// Negate flips the effect's sign. Reversing a transaction applies the
// negated effects, which is what makes updates composable.
func (e Effect) Negate() Effect {
	return Effect{Account: e.Account, Delta: e.Delta.Neg(), Approximate: e.Approximate}
}

// effectsOf computes the signed per-account effects of one transaction.
//
// Sign conventions:
//   - expense:            -amount on the paying account
//   - income:             +amount on the receiving account
//   - transfer:           -amount on source, +received amount on target
//   - deposit accrual:    +amount on the deposit account
//   - deposit withdrawal: -amount on the deposit account
//
// Effects replay only amounts stored on the transaction: PaidAmount for the
// source side, ReceivedAmount for the transfer target (rates frozen at
// creation by the coordinator). Live rates are never consulted here -
// apply and reverse must produce the exact same delta no matter how rates
// moved in between. A record whose stored amount still mismatches its
// account's currency (no rate was available at creation) degrades to the
// face value, flagged Approximate.
func effectsOf(tx finance.Transaction, lookup func(finance.AccountID) (finance.Account, bool)) []Effect {
	var effects []Effect

	source := func(sign decimal.Decimal) {
		acc, ok := lookup(tx.SourceAccount)
		if !ok {
			return
		}
		value, approx := inCurrency(tx.PaidAmount(), acc.Currency)
		effects = append(effects, Effect{
			Account:     tx.SourceAccount,
			Delta:       value.Mul(sign),
			Approximate: approx,
		})
	}

	switch tx.Kind {
	case finance.KindExpense, finance.KindDepositWithdrawal:
		source(decimal.NewFromInt(-1))

	case finance.KindIncome, finance.KindDepositAccrual:
		source(decimal.NewFromInt(1))

	case finance.KindTransfer:
		source(decimal.NewFromInt(-1))
		if acc, ok := lookup(tx.TargetAccount); ok {
			value, approx := inCurrency(tx.ReceivedAmount(), acc.Currency)
			effects = append(effects, Effect{
				Account:     tx.TargetAccount,
				Delta:       value,
				Approximate: approx,
			})
		}
	}

	return effects
}

// inCurrency checks a stored amount against the account's currency. A
// mismatch means the creation-time freeze had no rate; the value is used
// unchanged and the approximate flag is set.
func inCurrency(m finance.Money, target finance.Currency) (decimal.Decimal, bool) {
	if m.Currency == target || m.Currency == "" {
		return m.Value, false
	}
	return m.Value, true
}

// AffectedAccounts returns the set of accounts a transaction touches, in
// stable order (source first).
func AffectedAccounts(tx finance.Transaction) []finance.AccountID {
	accounts := []finance.AccountID{tx.SourceAccount}
	if tx.IsTransfer() && tx.TargetAccount != "" && tx.TargetAccount != tx.SourceAccount {
		accounts = append(accounts, tx.TargetAccount)
	}
	return accounts
}
