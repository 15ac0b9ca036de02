package cache

import (
	"sync"
	"time"
)

// Cache is a process-local key/value cache with per-entry expiry.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
}

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

type ttlCache[K comparable, V any] struct {
	mu       sync.Mutex
	items    map[K]ttlEntry[V]
	now      func() time.Time
	maxItems int
}

// NewTTLCache returns an in-memory cache. When maxItems is reached, expired
// entries are purged before the new entry is stored; if none expired, the
// write is dropped.
func NewTTLCache[K comparable, V any](maxItems int) Cache[K, V] {
	return &ttlCache[K, V]{
		items:    make(map[K]ttlEntry[V]),
		now:      time.Now,
		maxItems: maxItems,
	}
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.items, key)
		return zero, false
	}
	return entry.value, true
}

func (c *ttlCache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.maxItems > 0 && len(c.items) >= c.maxItems {
		c.purgeExpired()
		if len(c.items) >= c.maxItems {
			return
		}
	}

	entry := ttlEntry[V]{value: value}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.items[key] = entry
}

func (c *ttlCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

func (c *ttlCache[K, V]) purgeExpired() {
	now := c.now()
	for key, entry := range c.items {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(c.items, key)
		}
	}
}
