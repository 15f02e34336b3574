// Package cache keeps short-lived values, such as directory access tokens,
// in memory for the lifetime of the process.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// sweepEvery is the number of writes between two sweeps of expired entries
const sweepEvery = 100

// Cache maps string keys to values of type V, each with its own expiry.
// It is safe for concurrent use.
type Cache[V any] struct {
	items           sync.Map
	writes          atomic.Uint32
	defaultDuration time.Duration
	now             func() time.Time
}

type entry[V any] struct {
	value   V
	expires time.Time // zero means never
}

// New creates a cache whose entries expire after defaultDuration unless
// Set is given another duration.
func New[V any](defaultDuration time.Duration) *Cache[V] {
	if defaultDuration <= 0 {
		defaultDuration = 10 * time.Minute
	}
	return &Cache[V]{
		defaultDuration: defaultDuration,
		now:             time.Now,
	}
}

// Set stores value under key. A zero duration means the default duration,
// a negative one means the entry never expires.
func (c *Cache[V]) Set(key string, value V, duration time.Duration) {
	if duration == 0 {
		duration = c.defaultDuration
	}

	var expires time.Time
	if duration > 0 {
		expires = c.now().Add(duration)
	}
	c.items.Store(key, entry[V]{value: value, expires: expires})

	if c.writes.Add(1) >= sweepEvery {
		c.writes.Store(0)
		c.DeleteExpired()
	}
}

// Get returns the value stored under key if it has not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	obj, ok := c.items.Load(key)
	if !ok {
		return zero, false
	}

	e := obj.(entry[V])
	if c.expired(e, c.now()) {
		c.items.Delete(key)
		return zero, false
	}
	return e.value, true
}

// Delete removes key from the cache.
func (c *Cache[V]) Delete(key string) {
	c.items.Delete(key)
}

// DeleteExpired drops every expired entry.
func (c *Cache[V]) DeleteExpired() {
	now := c.now()
	c.items.Range(func(key, value any) bool {
		if c.expired(value.(entry[V]), now) {
			c.items.Delete(key)
		}
		return true
	})
}

func (c *Cache[V]) expired(e entry[V], now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}
