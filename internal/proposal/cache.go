package proposal

import (
	"sync"
	"time"
)

// ttlCache is a small key -> (value, timestamp) cache owned by the
// coordinator instance rather than process-wide state, so concurrent
// users and tests do not interfere.
type ttlCache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]ttlEntry[V]
}

type ttlEntry[V any] struct {
	value    V
	storedAt time.Time
}

func newTTLCache[V any](ttl time.Duration) *ttlCache[V] {
	return &ttlCache[V]{
		ttl:     ttl,
		entries: make(map[string]ttlEntry[V]),
	}
}

// get returns the cached value when present and younger than the TTL.
func (c *ttlCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || time.Since(e.storedAt) > c.ttl {
		var zero V
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// put stores a value under key with the current timestamp.
func (c *ttlCache[V]) put(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ttlEntry[V]{value: v, storedAt: time.Now()}
}

// invalidatePrefix removes every entry whose key starts with prefix.
// Schedule confirms use this to drop only the entries for tasks they
// touched.
func (c *ttlCache[V]) invalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
}
