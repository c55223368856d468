/*
Package cache provides the bounded caches backing every derived-value
computation in the engine.

PURPOSE:
  Two layers live here:
  - LRU: a fixed-capacity generic key/value cache with least-recently-used
    eviction. Used for parsed-date memoization and per-series projections.
  - Derived: a named-slot facade over LRU for lazily computed aggregates
    (period summary, category totals, per-day totals) with coarse
    invalidation.

EVICTION CONTRACT:
  Eviction happens synchronously inside Set when capacity is exceeded.
  There is no background eviction goroutine; callers never observe a cache
  larger than its capacity.

CONCURRENCY:
  Every operation takes the cache mutex. Cache operations are in-memory and
  cheap; call volumes are per-user-action, so a single mutex is enough.
*/
package cache

import (
	"container/list"
	"sync"
)

// =============================================================================
// LRU - Fixed-capacity cache with least-recently-used eviction
// =============================================================================

type entry[K comparable, V any] struct {
	key   K
	value V
}

// LRU is a bounded key/value cache. Get promotes the entry to
// most-recently-used; Set evicts the least-recently-used entry when the
// capacity would be exceeded.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // Front = most recent
	items    map[K]*list.Element
}

// NewLRU creates a cache holding at most capacity entries.
// A capacity below 1 is treated as 1.
func NewLRU[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[K, V]{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[K]*list.Element),
	}
}

// Get returns the cached value and promotes it to most-recently-used.
// The second return reports a hit.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry[K, V]).value, true
}

// Set inserts or replaces the value for key. If the insert exceeds capacity,
// the least-recently-used entry is evicted before Set returns.
func (c *LRU[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry[K, V]).value = value
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry[K, V]{key: key, value: value})
	c.items[key] = el

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry[K, V]).key)
		}
	}
}

// Remove drops a single key. No-op if absent.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// Clear drops every entry.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.items = make(map[K]*list.Element)
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// GetOrCompute returns the cached value for key, computing and caching it on
// a miss. The compute function runs outside the cache mutex, so concurrent
// misses for the same key may compute twice; last write wins. That is
// acceptable for the idempotent derivations this engine caches.
func (c *LRU[K, V]) GetOrCompute(key K, compute func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}
