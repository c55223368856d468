package cache

// =============================================================================
// DERIVED - Named-slot cache for lazily computed aggregates
// =============================================================================

// Well-known slot prefixes. Per-day and per-period slots append their
// parameters to the prefix.
const (
	SlotSummary        = "summary"
	SlotCategoryTotals = "category-totals"
	SlotDayTotal       = "day-total" // + ":" + day
)

// Derived caches named derived aggregates on top of a bounded LRU.
//
// Slots are computed lazily on first read after invalidation and served
// from cache thereafter. Invalidation is coarse: any ledger mutation clears
// every slot. The aggregates are cheap to recompute lazily, which buys the
// elimination of missed-invalidation bugs for a small amount of redundant
// recomputation.
//
// Readers never invalidate; only the mutation path calls InvalidateAll.
type Derived struct {
	slots *LRU[string, any]
}

// NewDerived creates a derived-value cache holding at most capacity slots.
func NewDerived(capacity int) *Derived {
	return &Derived{slots: NewLRU[string, any](capacity)}
}

// Lookup returns the cached value for slot, computing it on a miss.
func Lookup[V any](d *Derived, slot string, compute func() (V, error)) (V, error) {
	if raw, ok := d.slots.Get(slot); ok {
		if v, ok := raw.(V); ok {
			return v, nil
		}
	}
	v, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}
	d.slots.Set(slot, v)
	return v, nil
}

// InvalidateAll clears every slot. Called by the mutation coordinator after
// any structural change to the ledger.
func (d *Derived) InvalidateAll() {
	d.slots.Clear()
}

// Len returns the number of populated slots.
func (d *Derived) Len() int { return d.slots.Len() }
