// Package cache provides the small in-process TTL caches that shield the
// slow journal upstream. Entries are advisory: last write wins and readers
// never block on a refresh.
package cache

import (
	"sync"
	"time"
)

// DefaultMaxEntries is the size threshold past which Set sweeps expired
// entries instead of letting the map grow unbounded.
const DefaultMaxEntries = 1000

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache is a key→value store with a fixed data TTL and an independent
// per-key cooldown clock. A cooldown marks "do not retry the upstream for
// this key"; it is set after a timeout and read-checked before each fetch.
type Cache[V any] struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	data       map[string]entry[V]
	cooldowns  map[string]time.Time

	now func() time.Time // overridable in tests
}

func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		ttl:        ttl,
		maxEntries: DefaultMaxEntries,
		data:       make(map[string]entry[V]),
		cooldowns:  make(map[string]time.Time),
		now:        time.Now,
	}
}

// Get returns the cached value if it is still fresh.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok || c.now().Sub(e.storedAt) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores a value and opportunistically evicts stale entries once the
// map crosses the size threshold.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = entry[V]{value: value, storedAt: c.now()}

	if len(c.data) > c.maxEntries {
		now := c.now()
		for k, e := range c.data {
			if now.Sub(e.storedAt) >= c.ttl {
				delete(c.data, k)
			}
		}
		for k, until := range c.cooldowns {
			if now.After(until) {
				delete(c.cooldowns, k)
			}
		}
	}
}

// InCooldown reports whether the key is inside its do-not-retry window.
func (c *Cache[V]) InCooldown(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	until, ok := c.cooldowns[key]
	if !ok {
		return false
	}
	if c.now().After(until) {
		delete(c.cooldowns, key)
		return false
	}
	return true
}

// StartCooldown opens a do-not-retry window for the key.
func (c *Cache[V]) StartCooldown(key string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cooldowns[key] = c.now().Add(d)
}

// Len reports the number of stored entries, fresh or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
