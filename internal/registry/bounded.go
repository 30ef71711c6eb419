// Package registry implements the in-memory state the core subsystem
// needs for connection tracking, rate limiting, streaming sessions
// and history-load deduplication: explicit, concurrency-safe, bounded
// registries created at startup and passed to components, never
// process-wide singletons.
package registry

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Bounded is a generic, size-capped, concurrency-safe mapping.
// Insertion of a new key at capacity evicts the
// least-recently-*inserted* key — access never refreshes position. It
// reports hit/miss counters for observability and is the single
// primitive the rate limiter, connection registry, membership map,
// in-flight set and stream registry build their bounded state on.
//
// hashicorp/golang-lru/v2 gives a fast fixed-capacity map but its
// eviction is access-order (true LRU); the registries here need pure
// FIFO-by-insertion eviction, so Bounded keeps its own doubly-linked
// list for order and uses a plain map for O(1) lookup.
type Bounded[K comparable, V any] struct {
	mu      sync.Mutex
	max     int
	items   map[K]*list.Element
	order   *list.List // front = oldest insertion
	hits    atomic.Int64
	misses  atomic.Int64
	evicted atomic.Int64
}

type entry[K comparable, V any] struct {
	key K
	val V
}

// NewBounded creates a registry capped at max entries. max <= 0 means
// unbounded (no eviction ever occurs).
func NewBounded[K comparable, V any](max int) *Bounded[K, V] {
	return &Bounded[K, V]{
		max:   max,
		items: make(map[K]*list.Element),
		order: list.New(),
	}
}

// Get reports the value and whether the key is present. It does not
// reorder anything — insertion order is all that matters for eviction.
func (b *Bounded[K, V]) Get(key K) (V, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	el, ok := b.items[key]
	if !ok {
		b.misses.Add(1)
		var zero V
		return zero, false
	}
	b.hits.Add(1)
	return el.Value.(*entry[K, V]).val, true
}

// Put inserts or overwrites key. Overwriting an existing key does not
// change its insertion-order position. Inserting a new key when at
// capacity evicts the oldest entry first and reports the evicted key.
func (b *Bounded[K, V]) Put(key K, val V) (evictedKey K, evicted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if el, ok := b.items[key]; ok {
		el.Value.(*entry[K, V]).val = val
		return evictedKey, false
	}

	if b.max > 0 && len(b.items) >= b.max {
		oldest := b.order.Front()
		if oldest != nil {
			ev := oldest.Value.(*entry[K, V])
			evictedKey, evicted = ev.key, true
			b.order.Remove(oldest)
			delete(b.items, ev.key)
			b.evicted.Add(1)
		}
	}

	el := b.order.PushBack(&entry[K, V]{key: key, val: val})
	b.items[key] = el
	return evictedKey, evicted
}

// Delete removes key if present, reporting whether it was present.
func (b *Bounded[K, V]) Delete(key K) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	el, ok := b.items[key]
	if !ok {
		return false
	}
	b.order.Remove(el)
	delete(b.items, key)
	return true
}

// Len returns the current number of entries.
func (b *Bounded[K, V]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Stats reports cumulative hit/miss/eviction counters.
type Stats struct {
	Hits    int64
	Misses  int64
	Evicted int64
	Len     int
}

func (b *Bounded[K, V]) Stats() Stats {
	return Stats{
		Hits:    b.hits.Load(),
		Misses:  b.misses.Load(),
		Evicted: b.evicted.Load(),
		Len:     b.Len(),
	}
}

// RemoveIf deletes every entry for which pred returns true, and
// returns how many were removed. Used by the janitor to sweep stale
// entries out of rate-limit/in-flight/streaming registries.
func (b *Bounded[K, V]) RemoveIf(pred func(key K, val V) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	var next *list.Element
	for el := b.order.Front(); el != nil; el = next {
		next = el.Next()
		e := el.Value.(*entry[K, V])
		if pred(e.key, e.val) {
			b.order.Remove(el)
			delete(b.items, e.key)
			removed++
		}
	}
	return removed
}

// Range calls fn for every entry in insertion order; stop iterating
// early if fn returns false.
func (b *Bounded[K, V]) Range(fn func(key K, val V) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for el := b.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[K, V])
		if !fn(e.key, e.val) {
			return
		}
	}
}
