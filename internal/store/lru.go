package store

import "container/list"

// lru is a capacity-bounded least-recently-used map. It is not safe for
// concurrent use; Tiered serializes access.
type lru[K comparable, V any] struct {
	capacity int
	items    map[K]*list.Element
	order    *list.List // Front = most recent, Back = least recent
}

type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

func newLRU[K comparable, V any](capacity int) *lru[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &lru[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
	}
}

// get returns the value for key and marks it most recently used.
func (c *lru[K, V]) get(key K) (V, bool) {
	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*lruEntry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// peek returns the value without touching recency.
func (c *lru[K, V]) peek(key K) (V, bool) {
	if elem, ok := c.items[key]; ok {
		return elem.Value.(*lruEntry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// full reports whether adding a new key would evict.
func (c *lru[K, V]) full() bool {
	return c.order.Len() >= c.capacity
}

// set inserts or updates key. The caller must make room first with
// removeOldest when full() is true and key is new.
func (c *lru[K, V]) set(key K, value V) {
	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*lruEntry[K, V]).value = value
		return
	}
	entry := &lruEntry[K, V]{key: key, value: value}
	c.items[key] = c.order.PushFront(entry)
}

// oldest returns the least recently used entry without removing it.
func (c *lru[K, V]) oldest() (K, V, bool) {
	elem := c.order.Back()
	if elem == nil {
		var k K
		var v V
		return k, v, false
	}
	e := elem.Value.(*lruEntry[K, V])
	return e.key, e.value, true
}

func (c *lru[K, V]) remove(key K) bool {
	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(elem)
	delete(c.items, key)
	return true
}

func (c *lru[K, V]) len() int {
	return c.order.Len()
}

func (c *lru[K, V]) contains(key K) bool {
	_, ok := c.items[key]
	return ok
}
