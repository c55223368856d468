/*
balances.go - The Balance Ledger

PURPOSE:
  Owns the single authoritative numeric balance per account. Two
  computation policies exist, selected at registration and never silently
  changed by transaction processing:

  - ModeDerived: balance == initial balance + signed sum of every
    transaction touching the account. Recomputable from scratch.
  - ModeTrusted: the stored balance already reflects history (bulk import).
    Only transactions processed after import apply incremental deltas, and
    only an explicit Rebuild may recompute the stored value.

UPDATE STRATEGIES:
  - Incremental (Apply/Reverse): O(1) per affected account for a single
    add/update/delete.
  - Full (Recalculate): O(n) over all transactions, for bulk events.

  Incremental and full recomputation converge to the identical balance for
  the same transaction set; the test suite checks this property directly.

CONCURRENCY:
  Balances carries its own RWMutex so concurrent readers never observe a
  half-applied delta. The mutation coordinator serializes writers above
  this layer; the mutex here protects the read path.
*/
package ledger

import (
	"log"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/finance"
)

// =============================================================================
// BALANCES - Authoritative per-account balances
// =============================================================================

type Balances struct {
	mu       sync.RWMutex
	accounts map[finance.AccountID]*finance.Account

	// approximate is latched when any applied effect degraded to an
	// unconverted amount. Cleared only by a full recomputation that
	// completes without degradation.
	approximate bool
}

func NewBalances() *Balances {
	return &Balances{
		accounts: make(map[finance.AccountID]*finance.Account),
	}
}

// Register adds an account. The account's mode and initial balance are
// fixed here; transaction processing never changes them.
func (b *Balances) Register(acc finance.Account) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.accounts[acc.ID]; exists {
		return finance.ErrDuplicateAccount
	}
	if acc.Mode == "" {
		acc.Mode = finance.ModeDerived
	}
	if acc.Mode == finance.ModeDerived {
		// A derived balance is always recomputable; a stray stored value
		// from the caller must not survive registration.
		acc.Balance = acc.Initial()
	}
	stored := acc
	b.accounts[acc.ID] = &stored
	return nil
}

// Has reports whether the account is registered.
func (b *Balances) Has(id finance.AccountID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.accounts[id]
	return ok
}

// Account returns a copy of the account.
func (b *Balances) Account(id finance.AccountID) (finance.Account, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	acc, ok := b.accounts[id]
	if !ok {
		return finance.Account{}, false
	}
	return *acc, true
}

// Accounts returns copies of every account, sorted by id.
func (b *Balances) Accounts() []finance.Account {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]finance.Account, 0, len(b.accounts))
	for _, acc := range b.accounts {
		out = append(out, *acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Approximate reports whether any applied balance includes an unconverted
// cross-currency amount (no rate was available when the record was created).
func (b *Balances) Approximate() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.approximate
}

// =============================================================================
// INCREMENTAL UPDATES - O(1) per affected account
// =============================================================================

// Apply applies one transaction's signed effects to the accounts it touches.
// Both derived and trusted accounts take incremental deltas: a transaction
// processed now is by definition not baked into an imported balance.
func (b *Balances) Apply(tx finance.Transaction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applyEffects(effectsOf(tx, b.lookupLocked))
}

// Reverse undoes one transaction's effects. Reverse(tx) after Apply(tx) is
// an exact no-op, which is what delete and update rely on.
func (b *Balances) Reverse(tx finance.Transaction) {
	b.mu.Lock()
	defer b.mu.Unlock()

	effects := effectsOf(tx, b.lookupLocked)
	for i := range effects {
		effects[i] = effects[i].Negate()
	}
	b.applyEffects(effects)
}

func (b *Balances) applyEffects(effects []Effect) {
	for _, e := range effects {
		acc, ok := b.accounts[e.Account]
		if !ok {
			continue
		}
		acc.Balance = acc.Balance.Add(e.Delta)
		if e.Approximate && !b.approximate {
			b.approximate = true
			log.Printf("[Balances] conversion unavailable for account %s; totals are approximate", e.Account)
		}
	}
}

// =============================================================================
// FULL RECOMPUTATION - O(n) over all transactions
// =============================================================================

// Recalculate recomputes every derived-mode account from scratch:
// initial balance + signed sum over txs. Trusted accounts are untouched —
// their stored balance already reflects history and must not be silently
// overwritten.
func (b *Balances) Recalculate(txs []finance.Transaction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recalculateLocked(txs, false)
}

// Rebuild is the explicit full rebuild: it replays every transaction once
// for every account, trusted ones included. Callers invoke it after
// structural edits (e.g. deleting an account) when the ledger is known to
// hold the complete history.
func (b *Balances) Rebuild(txs []finance.Transaction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recalculateLocked(txs, true)
}

func (b *Balances) recalculateLocked(txs []finance.Transaction, includeTrusted bool) {
	sums := make(map[finance.AccountID]decimal.Decimal, len(b.accounts))
	degraded := false

	for _, tx := range txs {
		for _, e := range effectsOf(tx, b.lookupLocked) {
			sums[e.Account] = sums[e.Account].Add(e.Delta)
			if e.Approximate {
				degraded = true
			}
		}
	}

	for id, acc := range b.accounts {
		if acc.Mode == finance.ModeTrusted && !includeTrusted {
			continue
		}
		acc.Balance = acc.Initial().Add(sums[id])
	}

	b.approximate = degraded
	if degraded {
		log.Printf("[Balances] conversion unavailable during recomputation; totals are approximate")
	}
}

func (b *Balances) lookupLocked(id finance.AccountID) (finance.Account, bool) {
	acc, ok := b.accounts[id]
	if !ok {
		return finance.Account{}, false
	}
	return *acc, true
}
