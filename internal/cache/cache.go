// Package cache provides a size- and time-bounded in-memory key/value store.
//
// DESIGN: One consistent policy for every cache in the process:
//   - access-refreshing TTL: a hit pushes the entry's expiry out to now+ttl
//   - evict-before-insert: expired entries are purged first, then the
//     least-recently-used survivor is evicted if the cache is still full
//   - lazy expiry: expired entries are removed on access, not by a timer
//
// Instances are constructed explicitly and injected (no package-level
// singletons) so tests and callers own their lifetimes.
package cache

import (
	"sync"
	"time"
)

// entry is a stored value plus its position in the recency list.
type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time

	prev, next *entry[K, V]
}

// Cache is a bounded TTL cache. Safe for concurrent use; the lock is
// per-cache since compound purge-evict-insert sequences must be atomic.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	entries map[K]*entry[K, V]

	// Recency list: head is most recently touched, tail is eviction candidate.
	head, tail *entry[K, V]

	now func() time.Time
}

// New creates a cache holding at most maxSize entries, each live for ttl
// after its last touch.
func New[K comparable, V any](maxSize int, ttl time.Duration) *Cache[K, V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache[K, V]{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[K]*entry[K, V]),
		now:     time.Now,
	}
}

// Set inserts or overwrites key. Expiry is refreshed to now+ttl. Never fails.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.purgeExpiredLocked(now)

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = now.Add(c.ttl)
		c.moveToFrontLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictLocked()
	}

	e := &entry[K, V]{key: key, value: value, expiresAt: now.Add(c.ttl)}
	c.entries[key] = e
	c.addFrontLocked(e)
}

// Get returns the live value for key. A miss (absent or expired) is a normal
// outcome, never an error; expired entries are removed as a side effect.
// A hit refreshes both recency and expiry.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}

	now := c.now()
	if !now.Before(e.expiresAt) {
		c.removeLocked(e)
		return zero, false
	}

	e.expiresAt = now.Add(c.ttl)
	c.moveToFrontLocked(e)
	return e.value, true
}

// Delete removes key if present.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// Len returns the live entry count. Expired entries are purged first, so the
// count is exact at the moment of the call.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpiredLocked(c.now())
	return len(c.entries)
}

// MaxSize returns the configured capacity.
func (c *Cache[K, V]) MaxSize() int { return c.maxSize }

// TTL returns the configured entry lifetime.
func (c *Cache[K, V]) TTL() time.Duration { return c.ttl }

func (c *Cache[K, V]) purgeExpiredLocked(now time.Time) {
	// Walk from the tail so the scan can stop at nothing: recency order does
	// not imply expiry order under access-refreshing TTL.
	for e := c.tail; e != nil; {
		prev := e.prev
		if !now.Before(e.expiresAt) {
			c.removeLocked(e)
		}
		e = prev
	}
}

func (c *Cache[K, V]) evictLocked() {
	if c.tail != nil {
		c.removeLocked(c.tail)
	}
}

func (c *Cache[K, V]) removeLocked(e *entry[K, V]) {
	delete(c.entries, e.key)
	c.unlinkLocked(e)
}

func (c *Cache[K, V]) unlinkLocked(e *entry[K, V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (c *Cache[K, V]) addFrontLocked(e *entry[K, V]) {
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *Cache[K, V]) moveToFrontLocked(e *entry[K, V]) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.addFrontLocked(e)
}
