package finance

import "github.com/shopspring/decimal"

// =============================================================================
// CURRENCY CONVERSION - Optional external collaborator
// =============================================================================

// Converter supplies exchange rates. It is consulted when a record is
// created (freezing the account-currency amount onto the record) and when
// reports aggregate into the base currency; balance replay never uses it.
// An external collaborator; lookups may suspend (network/disk).
//
// The second return reports whether a rate was available. On false the
// engine degrades: the amount is treated as already being in the target
// currency, the degradation is logged, and affected totals are flagged
// approximate rather than silently wrong.
type Converter interface {
	Convert(amount decimal.Decimal, from, to Currency) (decimal.Decimal, bool)
}

// IdentityConverter treats every currency pair as 1:1. Useful for tests and
// single-currency deployments.
type IdentityConverter struct{}

func (IdentityConverter) Convert(amount decimal.Decimal, _, _ Currency) (decimal.Decimal, bool) {
	return amount, true
}

// StaticConverter converts through a fixed rate table keyed by "FROM/TO".
type StaticConverter struct {
	Rates map[string]decimal.Decimal
}

func (c StaticConverter) Convert(amount decimal.Decimal, from, to Currency) (decimal.Decimal, bool) {
	if from == to {
		return amount, true
	}
	rate, ok := c.Rates[string(from)+"/"+string(to)]
	if !ok {
		return decimal.Zero, false
	}
	return amount.Mul(rate), true
}
