// Package cache provides a generic, thread-safe LRU cache with metrics.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a generic thread-safe LRU cache with built-in metrics.
// Each entry remembers when it was inserted.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	items    map[K]*entry[K, V]
	order    *list.List
	capacity int
	now      func() time.Time

	// Metrics (lock-free using atomics)
	hits    atomic.Uint64
	misses  atomic.Uint64
	evicts  atomic.Uint64
	sets    atomic.Uint64
	ignored atomic.Uint64
}

// entry holds a cached value and its position in the LRU list.
type entry[K comparable, V any] struct {
	key      K
	value    V
	inserted time.Time
	element  *list.Element
}

// New creates a new Cache with the specified capacity.
// When the cache is full, the least recently used item is evicted.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity <= 0 {
		capacity = 100
	}
	return &Cache[K, V]{
		items:    make(map[K]*entry[K, V], capacity),
		order:    list.New(),
		capacity: capacity,
		now:      time.Now,
	}
}

// Get retrieves a value from the cache.
// Accessing an item moves it to the front of the LRU list.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	c.hits.Add(1)
	c.order.MoveToFront(e.element)
	return e.value, true
}

// Peek retrieves a value without touching recency or metrics.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		return e.value, true
	}
	var zero V
	return zero, false
}

// Set adds or replaces a value in the cache.
// If the cache is at capacity, the least recently used item is evicted.
func (c *Cache[K, V]) Set(key K, value V) {
	c.sets.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.value = value
		e.inserted = c.now()
		c.order.MoveToFront(e.element)
		return
	}
	c.insert(key, value)
}

// PutIfAbsent stores value only if key is not cached yet. It returns the
// value held by the cache afterwards and whether this call stored it.
// The first completed write wins; later writes for the same key are
// discarded.
func (c *Cache[K, V]) PutIfAbsent(key K, value V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.ignored.Add(1)
		c.order.MoveToFront(e.element)
		return e.value, false
	}
	c.sets.Add(1)
	c.insert(key, value)
	return value, true
}

// GetOrSet returns the existing value for key if present.
// Otherwise, it calls fn to compute the value, stores it, and returns it.
// fn runs with the cache locked and must not call back into the cache.
func (c *Cache[K, V]) GetOrSet(key K, fn func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.order.MoveToFront(e.element)
		return e.value
	}
	c.misses.Add(1)

	value := fn()
	c.sets.Add(1)
	c.insert(key, value)
	return value
}

// insert adds a new entry. Must be called with mu held.
func (c *Cache[K, V]) insert(key K, value V) {
	if len(c.items) >= c.capacity {
		c.evictOldest()
	}
	element := c.order.PushFront(key)
	c.items[key] = &entry[K, V]{
		key:      key,
		value:    value,
		inserted: c.now(),
		element:  element,
	}
}

// evictOldest removes the least recently used item.
// Must be called with mu held.
func (c *Cache[K, V]) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}

	key := oldest.Value.(K)
	delete(c.items, key)
	c.order.Remove(oldest)
	c.evicts.Add(1)
}

// InsertedAt returns when key was stored.
func (c *Cache[K, V]) InsertedAt(key K) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		return e.inserted, true
	}
	return time.Time{}, false
}

// Delete removes an item from the cache.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		delete(c.items, key)
		c.order.Remove(e.element)
	}
}

// Len returns the current number of items in the cache.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear removes all items from the cache.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*entry[K, V], c.capacity)
	c.order.Init()
}

// Keys returns all keys from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.items))
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(K))
	}
	return keys
}

// Stats holds cache statistics.
type Stats struct {
	Size     int
	Capacity int
	Hits     uint64
	Misses   uint64
	Evicts   uint64
	Sets     uint64
	Ignored  uint64
	HitRate  float64
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	size := c.Len()

	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Size:     size,
		Capacity: c.capacity,
		Hits:     hits,
		Misses:   misses,
		Evicts:   c.evicts.Load(),
		Sets:     c.sets.Load(),
		Ignored:  c.ignored.Load(),
		HitRate:  hitRate,
	}
}
