package cache

import (
	"context"
	"sync"
	"time"
)

const defaultOrderListTTL = 30 * time.Second

// OrderListCache memoises rendered order list responses per user. Entries are
// dropped whenever an order mutation commits for that user, so staleness is
// bounded by the TTL only for reads racing a mutation on another instance.
type OrderListCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]map[string]cacheEntry
}

type cacheEntry struct {
	payload   []byte
	expiresAt time.Time
}

// Option customises cache behaviour.
type Option func(*OrderListCache)

// WithTTL overrides the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *OrderListCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(c *OrderListCache) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewOrderListCache constructs an empty cache.
func NewOrderListCache(opts ...Option) *OrderListCache {
	cache := &OrderListCache{
		ttl:     defaultOrderListTTL,
		now:     time.Now,
		entries: make(map[string]map[string]cacheEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

// Get returns the cached payload for the user and query key, if still fresh.
func (c *OrderListCache) Get(userID, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byKey, ok := c.entries[userID]
	if !ok {
		return nil, false
	}
	entry, ok := byKey[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(byKey, key)
		return nil, false
	}
	return entry.payload, true
}

// Set stores the payload for the user and query key.
func (c *OrderListCache) Set(userID, key string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byKey, ok := c.entries[userID]
	if !ok {
		byKey = make(map[string]cacheEntry)
		c.entries[userID] = byKey
	}
	byKey[key] = cacheEntry{
		payload:   append([]byte(nil), payload...),
		expiresAt: c.now().Add(c.ttl),
	}
}

// InvalidateOrderCaches drops all cached responses for the user.
func (c *OrderListCache) InvalidateOrderCaches(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, userID)
	return nil
}
