package cache

import (
	"context"
	"testing"
	"time"
)

func TestOrderListCacheRoundTrip(t *testing.T) {
	cache := NewOrderListCache()
	cache.Set("user-1", "status=pending", []byte(`{"items":[]}`))

	payload, ok := cache.Get("user-1", "status=pending")
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if string(payload) != `{"items":[]}` {
		t.Fatalf("unexpected payload %q", payload)
	}

	if _, ok := cache.Get("user-1", "status=delivered"); ok {
		t.Fatalf("expected miss for different key")
	}
	if _, ok := cache.Get("user-2", "status=pending"); ok {
		t.Fatalf("expected miss for different user")
	}
}

func TestOrderListCacheExpiresEntries(t *testing.T) {
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	cache := NewOrderListCache(WithTTL(time.Minute), WithClock(func() time.Time { return now }))
	cache.Set("user-1", "all", []byte("payload"))

	now = now.Add(2 * time.Minute)
	if _, ok := cache.Get("user-1", "all"); ok {
		t.Fatalf("expected expired entry to miss")
	}
}

func TestOrderListCacheInvalidation(t *testing.T) {
	cache := NewOrderListCache()
	cache.Set("user-1", "all", []byte("payload"))
	cache.Set("user-2", "all", []byte("other"))

	if err := cache.InvalidateOrderCaches(context.Background(), "user-1"); err != nil {
		t.Fatalf("InvalidateOrderCaches: %v", err)
	}
	if _, ok := cache.Get("user-1", "all"); ok {
		t.Fatalf("expected invalidated entry to miss")
	}
	if _, ok := cache.Get("user-2", "all"); !ok {
		t.Fatalf("expected other user's entry to survive")
	}
}
