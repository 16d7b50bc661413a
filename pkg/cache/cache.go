// Package cache provides the time bounded containers backing the per-account
// entity cache: VarCache holds one optional value, MapCache holds a size
// bounded set of keyed values. Both hand out a value only while it is younger
// than the TTL and never perform I/O.
//
// Neither type is safe for concurrent use; callers serialize access with
// their own lock (see client_cache).
package cache

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/pmkol/ichika-x/pkg/lru"
)

// DefaultTTL is the staleness threshold used when a zero TTL is given.
const DefaultTTL = 600 * time.Second

type entry[T any] struct {
	v         T
	fetchedAt time.Time
}

func initOpts(ttl time.Duration, clk clock.Clock) (time.Duration, clock.Clock) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	return ttl, clk
}

// VarCache is a single-slot cache.
type VarCache[T any] struct {
	ttl   time.Duration
	clock clock.Clock
	val   *entry[T]
}

// NewVarCache returns an empty VarCache. A zero ttl means DefaultTTL and a
// nil clk means the wall clock.
func NewVarCache[T any](ttl time.Duration, clk clock.Clock) *VarCache[T] {
	ttl, clk = initOpts(ttl, clk)
	return &VarCache[T]{ttl: ttl, clock: clk}
}

// Get returns the stored value if it is still fresh. A stale value is
// dropped.
func (c *VarCache[T]) Get() (v T, ok bool) {
	if c.val == nil {
		return
	}
	if c.clock.Now().Sub(c.val.fetchedAt) > c.ttl {
		c.val = nil
		return
	}
	return c.val.v, true
}

// Set replaces the slot and returns v unchanged.
func (c *VarCache[T]) Set(v T) T {
	c.val = &entry[T]{v: v, fetchedAt: c.clock.Now()}
	return v
}

// Clear empties the slot.
func (c *VarCache[T]) Clear() {
	c.val = nil
}

// FetchedAt reports when the current value was stored.
func (c *VarCache[T]) FetchedAt() (time.Time, bool) {
	if c.val == nil {
		return time.Time{}, false
	}
	return c.val.fetchedAt, true
}

// MapCache is a keyed cache bounded by an LRU policy on top of the TTL.
type MapCache[K comparable, V any] struct {
	ttl   time.Duration
	clock clock.Clock
	lru   *lru.Cache[K, V]
}

// NewMapCache creates a MapCache holding at most size entries. It panics if
// size <= 0.
func NewMapCache[K comparable, V any](size int, ttl time.Duration, clk clock.Clock) *MapCache[K, V] {
	ttl, clk = initOpts(ttl, clk)
	return &MapCache[K, V]{
		ttl:   ttl,
		clock: clk,
		lru:   lru.New[K, V](size, nil),
	}
}

func (c *MapCache[K, V]) stale(now, at time.Time) bool {
	return now.Sub(at) > c.ttl
}

// Get returns the value under key if it is still fresh and marks it most
// recently used. A stale entry is removed.
func (c *MapCache[K, V]) Get(key K) (v V, ok bool) {
	v, at, ok := c.lru.Get(key)
	if !ok {
		return
	}
	if c.stale(c.clock.Now(), at) {
		c.lru.Remove(key)
		var zero V
		return zero, false
	}
	return v, true
}

// Set stores v under key and returns v unchanged.
func (c *MapCache[K, V]) Set(key K, v V) V {
	c.lru.Put(key, v, c.clock.Now())
	return v
}

// Remove drops key regardless of its age.
func (c *MapCache[K, V]) Remove(key K) (v V, ok bool) {
	return c.lru.Remove(key)
}

// Clean drops every expired entry and reports how many were removed.
func (c *MapCache[K, V]) Clean() int {
	now := c.clock.Now()
	return c.lru.RemoveFunc(func(_ K, _ V, at time.Time) bool {
		return c.stale(now, at)
	})
}

// Purge drops every entry.
func (c *MapCache[K, V]) Purge() {
	c.lru.Reset()
}

// Len includes entries that expired but were not cleaned yet.
func (c *MapCache[K, V]) Len() int {
	return c.lru.Len()
}
