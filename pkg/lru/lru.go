// Package lru implements a size bounded recency cache whose entries carry
// the time they were stored. Callers decide what "too old" means.
package lru

import (
	"fmt"
	"time"

	"github.com/pmkol/ichika-x/pkg/list"
)

type item[K comparable, V any] struct {
	key K
	val V
	at  time.Time
}

// Cache is not safe for concurrent use.
type Cache[K comparable, V any] struct {
	capacity int
	onEvict  func(key K, v V)

	order *list.List[item[K, V]] // front is the least recently used
	index map[K]*list.Node[item[K, V]]
}

// New returns a Cache that holds at most capacity keys. onEvict, if not nil,
// is called for entries dropped by capacity pressure or RemoveFunc.
func New[K comparable, V any](capacity int, onEvict func(key K, v V)) *Cache[K, V] {
	if capacity <= 0 {
		panic(fmt.Sprintf("lru: invalid capacity %d", capacity))
	}
	return &Cache[K, V]{
		capacity: capacity,
		onEvict:  onEvict,
		order:    list.New[item[K, V]](),
		index:    make(map[K]*list.Node[item[K, V]], capacity),
	}
}

// Put stores v under key with the given timestamp and marks it most
// recently used. It reports whether another key was evicted to make room.
func (c *Cache[K, V]) Put(key K, v V, at time.Time) (evicted bool) {
	if n, ok := c.index[key]; ok {
		n.Value.val, n.Value.at = v, at
		c.order.MoveToBack(n)
		return false
	}

	var n *list.Node[item[K, V]]
	if c.order.Len() >= c.capacity {
		n = c.order.Remove(c.order.Front())
		delete(c.index, n.Value.key)
		c.evict(n.Value)
		evicted = true
	} else {
		n = new(list.Node[item[K, V]])
	}
	n.Value = item[K, V]{key: key, val: v, at: at}
	c.index[key] = c.order.PushBack(n)
	return evicted
}

func (c *Cache[K, V]) evict(it item[K, V]) {
	if c.onEvict != nil {
		c.onEvict(it.key, it.val)
	}
}

// Get returns the entry for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (v V, at time.Time, ok bool) {
	n, ok := c.index[key]
	if !ok {
		return
	}
	c.order.MoveToBack(n)
	return n.Value.val, n.Value.at, true
}

// Peek is Get without the recency update.
func (c *Cache[K, V]) Peek(key K) (v V, at time.Time, ok bool) {
	n, ok := c.index[key]
	if !ok {
		return
	}
	return n.Value.val, n.Value.at, true
}

// Remove drops key without calling onEvict.
func (c *Cache[K, V]) Remove(key K) (v V, ok bool) {
	n, ok := c.index[key]
	if !ok {
		return
	}
	c.order.Remove(n)
	delete(c.index, key)
	return n.Value.val, true
}

// RemoveOldest drops the least recently used entry without calling onEvict.
func (c *Cache[K, V]) RemoveOldest() (key K, v V, ok bool) {
	n := c.order.Front()
	if n == nil {
		return
	}
	c.order.Remove(n)
	delete(c.index, n.Value.key)
	return n.Value.key, n.Value.val, true
}

// RemoveFunc drops every entry drop reports true for, oldest first.
func (c *Cache[K, V]) RemoveFunc(drop func(key K, v V, at time.Time) bool) (removed int) {
	for n := c.order.Front(); n != nil; {
		next := n.Next()
		if it := n.Value; drop(it.key, it.val, it.at) {
			c.order.Remove(n)
			delete(c.index, it.key)
			c.evict(it)
			removed++
		}
		n = next
	}
	return removed
}

// Keys lists the stored keys from least to most recently used.
func (c *Cache[K, V]) Keys() []K {
	keys := make([]K, 0, c.order.Len())
	for n := c.order.Front(); n != nil; n = n.Next() {
		keys = append(keys, n.Value.key)
	}
	return keys
}

// Reset drops everything without calling onEvict.
func (c *Cache[K, V]) Reset() {
	c.order = list.New[item[K, V]]()
	c.index = make(map[K]*list.Node[item[K, V]], c.capacity)
}

func (c *Cache[K, V]) Len() int { return c.order.Len() }
