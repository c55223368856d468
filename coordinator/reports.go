/*
reports.go - Derived aggregate reads

PURPOSE:
  Serves the read paths: period summary, per-category totals, per-day
  totals. Every read goes through the derived-value cache: computed lazily
  on first read after an invalidation, served from cache thereafter.
  Readers never invalidate; only the mutation pipeline does.

CURRENCY:
  Aggregates sum in the configured base currency. Foreign-denominated
  records are converted at the current rate for reporting; when no rate is
  available the face value is summed and the aggregate is flagged
  Approximate instead of being silently wrong.
*/
package coordinator

import (
	"log"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/cache"
	"github.com/warp/ledger-engine/finance"
)

// Summary aggregates a period's income and expenses in the base currency.
// Transfers move money between own accounts and are excluded; deposit
// postings count toward the side they affect.
type Summary struct {
	Period  finance.Period
	Income  decimal.Decimal
	Expense decimal.Decimal
	Net     decimal.Decimal

	// Approximate is set when any summed amount crossed currencies without
	// an available conversion rate, or when a balance carries an
	// unconverted amount.
	Approximate bool
}

// CategoryBreakdown is the per-category expense total for a period, in the
// base currency.
type CategoryBreakdown struct {
	Totals      map[finance.CategoryID]decimal.Decimal
	Approximate bool
}

// DaySpend is the total spent on one calendar day, in the base currency.
type DaySpend struct {
	Total       decimal.Decimal
	Approximate bool
}

// Summary returns the cached period summary, computing it on first read.
func (c *Coordinator) Summary(period finance.Period) (Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot := cache.SlotSummary + ":" + period.Start.String() + ":" + period.End.String()
	return cache.Lookup(c.derived, slot, func() (Summary, error) {
		return c.computeSummary(period)
	})
}

func (c *Coordinator) computeSummary(period finance.Period) (Summary, error) {
	txs, err := c.entries.InPeriod(period)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{Period: period, Income: decimal.Zero, Expense: decimal.Zero}
	degraded := false
	for _, tx := range txs {
		value, approx := c.inBase(tx.Amount)
		degraded = degraded || approx
		switch tx.Kind {
		case finance.KindIncome, finance.KindDepositAccrual:
			s.Income = s.Income.Add(value)
		case finance.KindExpense, finance.KindDepositWithdrawal:
			s.Expense = s.Expense.Add(value)
		}
	}
	s.Net = s.Income.Sub(s.Expense)
	s.Approximate = degraded || c.balances.Approximate()
	if degraded {
		log.Printf("[Reports] no rate to %s for some records; summary is approximate", c.cfg.BaseCurrency)
	}
	return s, nil
}

// CategoryTotals returns expense totals per category for a period, cached.
func (c *Coordinator) CategoryTotals(period finance.Period) (CategoryBreakdown, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot := cache.SlotCategoryTotals + ":" + period.Start.String() + ":" + period.End.String()
	return cache.Lookup(c.derived, slot, func() (CategoryBreakdown, error) {
		txs, err := c.entries.InPeriod(period)
		if err != nil {
			return CategoryBreakdown{}, err
		}
		out := CategoryBreakdown{Totals: make(map[finance.CategoryID]decimal.Decimal)}
		for _, tx := range txs {
			if tx.Kind != finance.KindExpense {
				continue
			}
			value, approx := c.inBase(tx.Amount)
			out.Approximate = out.Approximate || approx
			out.Totals[tx.CategoryID] = out.Totals[tx.CategoryID].Add(value)
		}
		return out, nil
	})
}

// DayTotal returns the total spent on one calendar day, cached per day.
func (c *Coordinator) DayTotal(day finance.Day) (DaySpend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot := cache.SlotDayTotal + ":" + day.String()
	return cache.Lookup(c.derived, slot, func() (DaySpend, error) {
		spend := DaySpend{Total: decimal.Zero}
		for _, tx := range c.entries.All() {
			if tx.Kind != finance.KindExpense && tx.Kind != finance.KindDepositWithdrawal {
				continue
			}
			d, err := c.entries.Day(tx.Date)
			if err != nil {
				return DaySpend{}, err
			}
			if d.Equal(day) {
				value, approx := c.inBase(tx.Amount)
				spend.Approximate = spend.Approximate || approx
				spend.Total = spend.Total.Add(value)
			}
		}
		return spend, nil
	})
}

// inBase converts a face amount into the base currency at the current rate.
// An empty or matching currency passes through; a missing rate or converter
// returns the face value with the approximate flag set.
func (c *Coordinator) inBase(m finance.Money) (decimal.Decimal, bool) {
	if m.Currency == "" || m.Currency == c.cfg.BaseCurrency {
		return m.Value, false
	}
	if c.cfg.Converter != nil {
		if converted, ok := c.cfg.Converter.Convert(m.Value, m.Currency, c.cfg.BaseCurrency); ok {
			return converted, false
		}
	}
	return m.Value, true
}
