// Package cache provides a small in-memory TTL cache with an injectable
// clock, so expiry is deterministic under test. It replaces ad hoc
// process-lifetime maps: every cached value carries an explicit deadline.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value    V
	deadline time.Time
}

// TTLCache caches values for a fixed duration per key.
type TTLCache[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   func() time.Time
	entries map[K]entry[V]
}

// New creates a cache with the given TTL. A nil clock defaults to time.Now.
func New[K comparable, V any](ttl time.Duration, clock func() time.Time) *TTLCache[K, V] {
	if clock == nil {
		clock = time.Now
	}

	return &TTLCache[K, V]{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[K]entry[V]),
	}
}

// Get returns the cached value for key if it has not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}

	if c.clock().After(e.deadline) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}

	return e.value, true
}

// Set stores value under key, resetting its TTL.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{
		value:    value,
		deadline: c.clock().Add(c.ttl),
	}
}

// Delete removes key from the cache.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// Clear drops every entry.
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]entry[V])
}
