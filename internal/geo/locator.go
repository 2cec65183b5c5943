package geo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fleetbite/api/internal/domain"
)

// ErrNoCenterAvailable indicates that no active fulfillment center can
// serve the destination within the configured radius.
var ErrNoCenterAvailable = errors.New("geo: no fulfillment center available")

// CenterSource loads the active fulfillment centers considered for dispatch.
type CenterSource interface {
	ListActiveCenters(ctx context.Context) ([]domain.FulfillmentCenter, error)
}

// Match pairs a fulfillment center with its distance to the destination.
type Match struct {
	Center     domain.FulfillmentCenter
	DistanceKm float64
}

// LocatorDeps wires the locator's collaborators.
type LocatorDeps struct {
	Centers  CenterSource
	CacheTTL time.Duration
	Now      func() time.Time
}

// Locator resolves the nearest serving fulfillment center for a
// destination. Center listings are cached for a short TTL so bursts of
// checkouts do not re-read the center collection.
type Locator struct {
	centers CenterSource
	now     func() time.Time
	cache   *centerListCache
}

// NewLocator validates dependencies and builds a Locator.
func NewLocator(deps LocatorDeps) (*Locator, error) {
	if deps.Centers == nil {
		return nil, errors.New("geo locator: center source is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Locator{
		centers: deps.Centers,
		now:     now,
		cache:   newCenterListCache(ttl, func() time.Time { return now().UTC() }),
	}, nil
}

// NearestCenter returns the active center closest to point within
// maxRadiusKm. Centers with invalid coordinates are skipped. Ties keep the
// first center encountered. Returns ErrNoCenterAvailable when the radius
// excludes every center.
func (l *Locator) NearestCenter(ctx context.Context, point domain.LatLng, maxRadiusKm float64) (Match, error) {
	if !point.Valid() {
		return Match{}, fmt.Errorf("%w: destination has no usable coordinates", ErrNoCenterAvailable)
	}

	centers, err := l.listCenters(ctx)
	if err != nil {
		return Match{}, fmt.Errorf("list fulfillment centers: %w", err)
	}

	best := Match{DistanceKm: -1}
	for _, center := range centers {
		if !center.Active || !center.Coordinates.Valid() {
			continue
		}
		d := Distance(point, center.Coordinates)
		if d > maxRadiusKm {
			continue
		}
		if best.DistanceKm < 0 || d < best.DistanceKm {
			best = Match{Center: center, DistanceKm: d}
		}
	}
	if best.DistanceKm < 0 {
		return Match{}, ErrNoCenterAvailable
	}
	return best, nil
}

// InvalidateCache drops the cached center listing. Called after center
// administration writes so the next lookup observes fresh data.
func (l *Locator) InvalidateCache() {
	l.cache.Invalidate()
}

func (l *Locator) listCenters(ctx context.Context) ([]domain.FulfillmentCenter, error) {
	if centers, ok := l.cache.Get(); ok {
		return centers, nil
	}
	centers, err := l.centers.ListActiveCenters(ctx)
	if err != nil {
		return nil, err
	}
	l.cache.Put(centers)
	return centers, nil
}

type centerListCache struct {
	ttl time.Duration
	now func() time.Time
	mu  sync.RWMutex

	centers []domain.FulfillmentCenter
	expires time.Time
	loaded  bool
}

func newCenterListCache(ttl time.Duration, now func() time.Time) *centerListCache {
	return &centerListCache{ttl: ttl, now: now}
}

func (c *centerListCache) Get() ([]domain.FulfillmentCenter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded || c.now().After(c.expires) {
		return nil, false
	}
	out := make([]domain.FulfillmentCenter, len(c.centers))
	copy(out, c.centers)
	return out, true
}

func (c *centerListCache) Put(centers []domain.FulfillmentCenter) {
	stored := make([]domain.FulfillmentCenter, len(centers))
	copy(stored, centers)
	c.mu.Lock()
	c.centers = stored
	c.expires = c.now().Add(c.ttl)
	c.loaded = true
	c.mu.Unlock()
}

func (c *centerListCache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}
