package cache

import (
	"sync"
	"time"
)

// TTLCache is a concurrent-safe in-memory key-value store where every entry
// carries its own expiry. Expired entries are dropped lazily on read.
type TTLCache struct {
	mu    sync.RWMutex
	items map[string]entry

	now func() time.Time
}

type entry struct {
	value   any
	expires time.Time
}

// NewTTLCache creates and returns a new TTLCache.
func NewTTLCache() *TTLCache {
	return &TTLCache{
		items: make(map[string]entry),
		now:   time.Now,
	}
}

// Get retrieves a value from the cache.
// It returns the value and true if the key exists and has not expired,
// otherwise nil and false.
func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.RLock()
	item, found := c.items[key]
	c.mu.RUnlock()

	if !found {
		return nil, false
	}
	if !item.expires.IsZero() && c.now().After(item.expires) {
		c.mu.Lock()
		// Re-check under the write lock in case the entry was replaced.
		if cur, ok := c.items[key]; ok && cur.expires.Equal(item.expires) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return item.value, true
}

// Set adds or updates a value in the cache with the given time-to-live.
// A non-positive ttl stores the value without expiry.
func (c *TTLCache) Set(key string, value any, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry{value: value, expires: expires}
}

// Delete removes a value from the cache.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len returns the number of entries currently stored, including any that
// have expired but not yet been evicted.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
