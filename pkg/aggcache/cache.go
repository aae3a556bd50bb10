// Package aggcache caches per-owner derived aggregates (dashboard stats,
// category lists). Writes to an owner's transaction set must call
// Invalidate for that owner; the next read then recomputes. This is the
// whole invalidation contract: mark stale on mutation, refresh on read.
package aggcache

import (
	"sync"
	"time"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Cache is a TTL cache keyed by owner id. Safe for concurrent use.
type Cache[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[uint]entry[T]
	gens    map[uint]uint64
}

func New[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		ttl:     ttl,
		entries: make(map[uint]entry[T]),
		gens:    make(map[uint]uint64),
	}
}

// Get returns the cached value for the owner if present and not expired.
func (c *Cache[T]) Get(owner uint) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	e, ok := c.entries[owner]
	if !ok {
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, owner)
		return zero, false
	}
	return e.value, true
}

// Generation returns the owner's invalidation counter. Capture it
// before computing a value and hand it to Set; a value computed before
// a concurrent Invalidate is then dropped instead of cached.
func (c *Cache[T]) Generation(owner uint) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[owner]
}

// Set stores the value for the owner with a fresh TTL, unless the owner
// was invalidated after gen was captured. Reports whether it stored.
func (c *Cache[T]) Set(owner uint, gen uint64, v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gens[owner] {
		return false
	}
	c.entries[owner] = entry[T]{value: v, expiresAt: time.Now().Add(c.ttl)}
	return true
}

// Invalidate drops the owner's entry and bumps its generation. Call
// after any write to that owner's transactions.
func (c *Cache[T]) Invalidate(owner uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, owner)
	c.gens[owner]++
}

// CleanExpired removes every expired entry and reports how many were dropped.
func (c *Cache[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	n := 0
	for owner, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, owner)
			n++
		}
	}
	return n
}

// Len reports the number of live entries, expired or not.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
