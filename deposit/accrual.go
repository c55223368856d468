/*
Package deposit generates system interest postings for deposit accounts.

PURPOSE:
  A deposit account earns interest on its balance. The engine turns that
  rule into real ledger records: one protected deposit-accrual posting per
  account per completed month, created through the mutation coordinator so
  balances and caches stay consistent.

ACCRUAL MODEL:
  MonthlyCompounding:
    - Posting amount = current balance * annual rate / 12, rounded to 2
      decimal places
    - Posted with the last day of the accrued month as its date
    - Compounds naturally: next month's posting includes this month's
      interest, because it is computed off the updated balance

DEDUPLICATION:
  The ledger itself is the guard. A pass skips any account that already
  holds an accrual posting dated the due day, so running it hourly, daily,
  or twice in a row posts nothing twice. A content-id collision on the add
  path is treated the same way.

PROTECTION:
  Accrual postings are system-generated. The coordinator refuses user
  updates and deletes on them; correcting a wrong rate means adjusting the
  policy, not editing history.
*/
package deposit

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/coordinator"
	"github.com/warp/ledger-engine/finance"
)

// monthsPerYear divides an annual rate into monthly postings.
var monthsPerYear = decimal.NewFromInt(12)

// Policy configures interest for one account.
type Policy struct {
	AccountID finance.AccountID

	// AnnualRate is the yearly interest rate as a fraction ("0.145" for
	// 14.5% p.a.). Postings use rate/12 of the balance per month.
	AnnualRate decimal.Decimal
}

// MonthlyCompounding is the standard deposit policy: a fixed annual rate
// compounded monthly on the running balance.
func MonthlyCompounding(account finance.AccountID, annualRate decimal.Decimal) Policy {
	return Policy{AccountID: account, AnnualRate: annualRate}
}

// Engine posts due interest for every configured account.
type Engine struct {
	mu       sync.Mutex
	coord    *coordinator.Coordinator
	policies map[finance.AccountID]Policy
}

func NewEngine(coord *coordinator.Coordinator) *Engine {
	return &Engine{
		coord:    coord,
		policies: make(map[finance.AccountID]Policy),
	}
}

// SetPolicy configures or replaces the interest policy for an account.
func (e *Engine) SetPolicy(p Policy) error {
	if !p.AnnualRate.IsPositive() {
		return finance.ErrInvalidAmount
	}
	if _, ok := e.coord.Account(p.AccountID); !ok {
		return &finance.UnknownAccountError{AccountID: p.AccountID}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[p.AccountID] = p
	return nil
}

// RemovePolicy stops future accrual for an account. Existing postings stay.
func (e *Engine) RemovePolicy(id finance.AccountID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.policies, id)
}

// Policies returns a copy of every configured policy.
func (e *Engine) Policies() []Policy {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Policy, 0, len(e.policies))
	for _, p := range e.policies {
		out = append(out, p)
	}
	return out
}

// AccrueDue posts the previous completed month's interest for every
// configured account that does not already hold that posting. Returns the
// number of postings created. Idempotent per (account, month).
func (e *Engine) AccrueDue(ctx context.Context) (int, error) {
	due := previousMonthEnd(finance.Today())

	created := 0
	for _, p := range e.Policies() {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		posted, err := e.accrue(ctx, p, due)
		if err != nil {
			return created, err
		}
		if posted {
			created++
		}
	}
	return created, nil
}

func (e *Engine) accrue(ctx context.Context, p Policy, due finance.Day) (bool, error) {
	acc, ok := e.coord.Account(p.AccountID)
	if !ok {
		return false, &finance.UnknownAccountError{AccountID: p.AccountID}
	}
	if e.hasPosting(p.AccountID, due.String()) {
		return false, nil
	}

	interest := acc.Balance.Mul(p.AnnualRate).Div(monthsPerYear).Round(2)
	if !interest.IsPositive() {
		return false, nil
	}

	_, err := e.coord.Add(ctx, finance.Transaction{
		Date:          due.String(),
		Amount:        finance.Money{Value: interest, Currency: acc.Currency},
		Kind:          finance.KindDepositAccrual,
		SourceAccount: p.AccountID,
		Description:   "Monthly interest",
	})
	if errors.Is(err, finance.ErrDuplicateTransaction) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	log.Printf("[Deposit] Posted %s %s interest to account %s for %s",
		interest, acc.Currency, p.AccountID, due)
	return true, nil
}

// hasPosting reports whether the account already holds an accrual posting
// for the given day. The ledger is the source of truth; no separate
// occurrence state to keep consistent.
func (e *Engine) hasPosting(id finance.AccountID, date string) bool {
	for _, tx := range e.coord.Transactions() {
		if tx.Kind == finance.KindDepositAccrual && tx.SourceAccount == id && tx.Date == date {
			return true
		}
	}
	return false
}

func previousMonthEnd(today finance.Day) finance.Day {
	return finance.StartOfMonth(today.Year(), today.Month()).AddDays(-1)
}
