package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	staleAt   time.Time
	hasExpiry bool
}

// TTLCache is an in-memory cache whose entries share one lifetime,
// fixed at construction. A zero lifetime keeps entries forever.
type TTLCache[K comparable, V any] struct {
	mu       sync.RWMutex
	lifetime time.Duration
	entries  map[K]entry[V]
}

func New[K comparable, V any](lifetime time.Duration) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		lifetime: lifetime,
		entries:  make(map[K]entry[V]),
	}
}

// Get returns the cached value unless it is missing or stale. Stale
// entries are dropped on read; there is no background sweeper.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if e.hasExpiry && time.Now().After(e.staleAt) {
		c.Invalidate(key)
		return zero, false
	}
	return e.value, true
}

func (c *TTLCache[K, V]) Put(key K, value V) {
	if c == nil {
		return
	}
	e := entry[V]{value: value}
	if c.lifetime > 0 {
		e.staleAt = time.Now().Add(c.lifetime)
		e.hasExpiry = true
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

func (c *TTLCache[K, V]) Invalidate(key K) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
