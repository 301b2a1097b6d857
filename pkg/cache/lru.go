// Package cache provides the in-process LRU used in front of every upstream
// service, plus an optional Redis tier shared between processes.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a fixed-capacity cache with a per-entry time to live. Expiry is
// checked lazily on access; there is no background sweeper.
//
// LRU is safe for concurrent use.
type LRU[K comparable, V any] struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	items   map[K]*list.Element
	lruList *list.List
	now     func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

type entry[K comparable, V any] struct {
	key      K
	value    V
	insertAt time.Time
}

// Stats holds the counters of an LRU.
type Stats struct {
	Size      int
	Hits      int64
	Misses    int64
	Evictions int64
}

// New returns an LRU holding at most max entries, each valid for ttl.
// A max below one is raised to one; a ttl of zero disables expiry.
func New[K comparable, V any](max int, ttl time.Duration) *LRU[K, V] {
	if max < 1 {
		max = 1
	}
	return &LRU[K, V]{
		max:     max,
		ttl:     ttl,
		items:   make(map[K]*list.Element, max),
		lruList: list.New(),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *LRU[K, V]) WithClock(now func() time.Time) *LRU[K, V] {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// Get returns the value for key. An expired entry is removed and reported
// as absent; a live entry becomes the most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}

	e := el.Value.(*entry[K, V])
	if c.ttl > 0 && c.now().Sub(e.insertAt) > c.ttl {
		c.removeElement(el)
		c.misses++
		return zero, false
	}

	c.lruList.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Set inserts or replaces key. When the cache is full the least recently
// used entry is evicted first.
func (c *LRU[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		e.insertAt = c.now()
		c.lruList.MoveToFront(el)
		return
	}

	for len(c.items) >= c.max {
		oldest := c.lruList.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		c.evictions++
	}

	el := c.lruList.PushFront(&entry[K, V]{key: key, value: value, insertAt: c.now()})
	c.items[key] = el
}

// Delete removes key if present.
func (c *LRU[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Purge drops every entry.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*list.Element, c.max)
	c.lruList.Init()
}

// Len returns the number of stored entries, expired ones included.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a copy of the cache counters.
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      len(c.items),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// must be called with the lock held
func (c *LRU[K, V]) removeElement(el *list.Element) {
	c.lruList.Remove(el)
	delete(c.items, el.Value.(*entry[K, V]).key)
}
