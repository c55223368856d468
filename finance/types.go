/*
Package finance provides the core data model for the ledger engine.

PURPOSE:
  This package contains the domain types shared by every layer: monetary
  amounts, transaction records, accounts, recurring series templates, and
  the change events emitted after mutations. It has no dependencies on
  storage, caching, or transport.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount with an ISO currency code
  - Transaction: An immutable ledger record (what happened)
  - Account: A balance holder with a computation mode (derived | trusted)
  - RecurringSeries / RecurringOccurrence: Templates and their materializations
  - ChangeEvent: The single notification emitted per completed mutation

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified in place. An update is
     modeled as reverse-old-effect + apply-new-effect.
  2. Precision: Uses decimal.Decimal to avoid floating-point errors.
  3. Idempotency: Transaction IDs are content-derived, so re-importing the
     same record produces the same ID and cannot double-count.
  4. Type Safety: Strong typing for IDs prevents mixing account/category IDs.

SEE ALSO:
  - day.go: Calendar-day type (transactions carry string-encoded days)
  - errors.go: Sentinel and structured error types
  - ledger package: Entry store and balance computation
  - coordinator package: The single mutation entry point
*/
package finance

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount with currency
// =============================================================================

type Currency string

const (
	KZT Currency = "KZT"
	USD Currency = "USD"
	EUR Currency = "EUR"
	RUB Currency = "RUB"
)

type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewMoney(value float64, currency Currency) Money {
	return Money{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewMoneyFromInt(value int, currency Currency) Money {
	return Money{Value: decimal.NewFromInt(int64(value)), Currency: currency}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (m Money) Zero() Money              { return Money{Value: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(b Money) Money        { return Money{Value: m.Value.Add(b.Value), Currency: m.Currency} }
func (m Money) Sub(b Money) Money        { return Money{Value: m.Value.Sub(b.Value), Currency: m.Currency} }
func (m Money) Neg() Money               { return Money{Value: m.Value.Neg(), Currency: m.Currency} }
func (m Money) IsZero() bool             { return m.Value.IsZero() }
func (m Money) IsNegative() bool         { return m.Value.IsNegative() }
func (m Money) IsPositive() bool         { return m.Value.IsPositive() }
func (m Money) Equal(b Money) bool       { return m.Currency == b.Currency && m.Value.Equal(b.Value) }
func (m Money) GreaterThan(b Money) bool { return m.Value.GreaterThan(b.Value) }

func (m Money) String() string { return m.Value.String() + " " + string(m.Currency) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TransactionID string
type AccountID string
type CategoryID string
type SeriesID string

// =============================================================================
// TRANSACTION - Immutable ledger record
// =============================================================================

type TransactionKind string

const (
	KindExpense           TransactionKind = "expense"
	KindIncome            TransactionKind = "income"
	KindTransfer          TransactionKind = "transfer"            // Between own accounts
	KindDepositAccrual    TransactionKind = "deposit_accrual"     // System-generated interest posting
	KindDepositWithdrawal TransactionKind = "deposit_withdrawal"  // Taking money out of a deposit
)

// Transaction is the immutable record of one financial event.
//
// INVARIANTS:
//   - Amount.Value is always positive; the sign of its balance effect is
//     determined by Kind and by which side of the record an account sits on.
//   - A transfer has exactly one TargetAccount, distinct from SourceAccount.
//     When the two accounts use different currencies, TargetAmount carries
//     the receiving-side amount (rate frozen at creation time).
//   - When the face currency differs from the source account's currency,
//     SourceAmount carries the account-currency value, frozen the same way.
//     Balance replay uses only stored amounts; live rates are consulted
//     exactly once, at creation.
//   - Date is a calendar day encoded as "2006-01-02". Parsing goes through
//     the ledger's bounded date cache, never ad-hoc.
type Transaction struct {
	ID            TransactionID
	Date          string
	Amount        Money
	Kind          TransactionKind
	SourceAccount AccountID
	SourceAmount  *Money    // Source-account currency when the face currency differs
	TargetAccount AccountID // Transfers only
	TargetAmount  *Money    // Receiving side when currencies differ
	CategoryID    CategoryID
	SeriesID      SeriesID // Back-reference to the generating series, if any
	Description   string

	// CreatedAt breaks ties between same-day records. Monotonic per process.
	CreatedAt time.Time
}

// ContentID derives a stable transaction ID from the fields that identify
// the event. Re-importing the same record produces the same ID, which is
// what makes imports idempotent.
func (t Transaction) ContentID() TransactionID {
	// SeriesID and Description participate so that two series with the same
	// schedule, or two same-day records told apart only by description, get
	// distinct identities instead of colliding.
	data := fmt.Sprintf("%s:%s:%s:%s:%s:%s:%s:%s:%s",
		t.Date,
		t.Kind,
		t.Amount.Value.String(),
		t.Amount.Currency,
		t.SourceAccount,
		t.TargetAccount,
		t.CategoryID,
		t.SeriesID,
		t.Description,
	)
	sum := sha256.Sum256([]byte(data))
	return TransactionID(fmt.Sprintf("%x", sum))
}

// Protected reports whether the transaction is a system-generated posting
// that user mutations must not update or delete.
func (t Transaction) Protected() bool {
	return t.Kind == KindDepositAccrual
}

// IsTransfer reports whether the record moves money between two accounts.
func (t Transaction) IsTransfer() bool {
	return t.Kind == KindTransfer
}

// PaidAmount is what leaves the source account: the frozen account-currency
// amount when present, otherwise the face amount.
func (t Transaction) PaidAmount() Money {
	if t.SourceAmount != nil {
		return *t.SourceAmount
	}
	return t.Amount
}

// ReceivedAmount is what lands on the transfer's target account: the
// explicit TargetAmount when present, otherwise the source amount.
func (t Transaction) ReceivedAmount() Money {
	if t.TargetAmount != nil {
		return *t.TargetAmount
	}
	return t.Amount
}

// =============================================================================
// ACCOUNT - Balance holder
// =============================================================================

// BalanceMode selects how an account's balance is computed.
//
//   - ModeDerived: balance == initial balance + signed sum of transactions.
//     Recomputable from scratch at any time.
//   - ModeTrusted: balance was supplied externally (bulk import). History
//     before the import is already baked in; only later transactions apply
//     incremental deltas, and only an explicit rebuild may recompute it.
type BalanceMode string

const (
	ModeDerived BalanceMode = "derived"
	ModeTrusted BalanceMode = "trusted"
)

type Account struct {
	ID       AccountID
	Name     string
	Currency Currency

	// Balance is the single authoritative value exposed to consumers.
	// Mutated exclusively by the ledger.Balances in response to
	// coordinator events.
	Balance decimal.Decimal

	// InitialBalance is meaningful only in ModeDerived. Nil means zero.
	InitialBalance *decimal.Decimal

	Mode BalanceMode
}

// Initial returns the starting balance for derived computation.
func (a Account) Initial() decimal.Decimal {
	if a.InitialBalance == nil {
		return decimal.Zero
	}
	return *a.InitialBalance
}

// =============================================================================
// RECURRING SERIES - Template for machine-generated transactions
// =============================================================================

type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
	FreqYearly  Frequency = "yearly"
)

// Next returns the occurrence date following d.
func (f Frequency) Next(d Day) Day {
	switch f {
	case FreqDaily:
		return d.AddDays(1)
	case FreqWeekly:
		return d.AddDays(7)
	case FreqYearly:
		return d.AddYears(1)
	default: // FreqMonthly
		return d.AddMonths(1)
	}
}

type RecurringSeries struct {
	ID         SeriesID
	Frequency  Frequency
	Amount     Money
	Kind       TransactionKind // expense or income
	CategoryID CategoryID
	AccountID  AccountID
	StartDate  string // "2006-01-02"
	Description string
	Active     bool
}

// RecurringOccurrence links a series to a concrete generated transaction.
// Existence of an occurrence for a (series, date) pair is the deduplication
// guard against materializing the same future transaction twice.
type RecurringOccurrence struct {
	SeriesID      SeriesID
	Date          string
	TransactionID TransactionID
}

// =============================================================================
// CHANGE EVENT - One notification per completed mutation
// =============================================================================

type ChangeKind string

const (
	ChangeAdded       ChangeKind = "added"
	ChangeUpdated     ChangeKind = "updated"
	ChangeDeleted     ChangeKind = "deleted"
	ChangeTransferred ChangeKind = "transferred"
	ChangeBulk        ChangeKind = "bulk"    // Batch import completed
	ChangeRebuilt     ChangeKind = "rebuilt" // Explicit full balance rebuild
)

// ChangeEvent describes exactly what a completed mutation changed.
// Observers receive exactly one event per mutation, after balances are
// updated and derived caches invalidated.
type ChangeEvent struct {
	Kind         ChangeKind
	Transactions []TransactionID
	Accounts     []AccountID // Affected accounts set
	At           time.Time
}
