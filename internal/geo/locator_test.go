package geo

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/fleetbite/api/internal/domain"
)

type stubCenterSource struct {
	calls   int
	centers []domain.FulfillmentCenter
	err     error
}

func (s *stubCenterSource) ListActiveCenters(ctx context.Context) ([]domain.FulfillmentCenter, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.centers, nil
}

func TestDistanceKnownPair(t *testing.T) {
	// Union Square to the Ferry Building, San Francisco; roughly 1.6 km.
	a := domain.LatLng{Lat: 37.7879, Lng: -122.4075}
	b := domain.LatLng{Lat: 37.7955, Lng: -122.3937}

	got := Distance(a, b)
	if math.Abs(got-1.47) > 0.1 {
		t.Fatalf("distance = %.3f km, want about 1.47", got)
	}
	if rev := Distance(b, a); math.Abs(rev-got) > 1e-9 {
		t.Fatalf("distance not symmetric: %.9f vs %.9f", got, rev)
	}
}

func TestDistanceZeroForSamePoint(t *testing.T) {
	p := domain.LatLng{Lat: 51.5007, Lng: -0.1246}
	if got := Distance(p, p); got != 0 {
		t.Fatalf("distance = %v, want 0", got)
	}
}

func TestNearestCenterPicksClosestWithinRadius(t *testing.T) {
	source := &stubCenterSource{centers: []domain.FulfillmentCenter{
		{ID: "fc_far", Active: true, Coordinates: domain.LatLng{Lat: 37.9, Lng: -122.5}},
		{ID: "fc_near", Active: true, Coordinates: domain.LatLng{Lat: 37.79, Lng: -122.41}},
		{ID: "fc_inactive", Active: false, Coordinates: domain.LatLng{Lat: 37.788, Lng: -122.408}},
		{ID: "fc_nocoords", Active: true},
	}}
	locator := mustLocator(t, source)

	match, err := locator.NearestCenter(context.Background(), domain.LatLng{Lat: 37.7879, Lng: -122.4075}, 15)
	if err != nil {
		t.Fatalf("NearestCenter returned error: %v", err)
	}
	if match.Center.ID != "fc_near" {
		t.Fatalf("matched center = %s, want fc_near", match.Center.ID)
	}
	if match.DistanceKm <= 0 || match.DistanceKm > 15 {
		t.Fatalf("distance out of range: %v", match.DistanceKm)
	}
}

func TestNearestCenterOutsideRadius(t *testing.T) {
	source := &stubCenterSource{centers: []domain.FulfillmentCenter{
		{ID: "fc_1", Active: true, Coordinates: domain.LatLng{Lat: 40.71, Lng: -74.0}},
	}}
	locator := mustLocator(t, source)

	_, err := locator.NearestCenter(context.Background(), domain.LatLng{Lat: 37.7879, Lng: -122.4075}, 15)
	if !errors.Is(err, ErrNoCenterAvailable) {
		t.Fatalf("error = %v, want ErrNoCenterAvailable", err)
	}
}

func TestNearestCenterRejectsUnroutablePoint(t *testing.T) {
	locator := mustLocator(t, &stubCenterSource{})

	_, err := locator.NearestCenter(context.Background(), domain.LatLng{}, 15)
	if !errors.Is(err, ErrNoCenterAvailable) {
		t.Fatalf("error = %v, want ErrNoCenterAvailable", err)
	}
}

func TestNearestCenterCachesListings(t *testing.T) {
	current := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	source := &stubCenterSource{centers: []domain.FulfillmentCenter{
		{ID: "fc_1", Active: true, Coordinates: domain.LatLng{Lat: 37.79, Lng: -122.41}},
	}}
	locator, err := NewLocator(LocatorDeps{
		Centers:  source,
		CacheTTL: time.Minute,
		Now:      func() time.Time { return current },
	})
	if err != nil {
		t.Fatalf("NewLocator returned error: %v", err)
	}

	point := domain.LatLng{Lat: 37.7879, Lng: -122.4075}
	for i := 0; i < 3; i++ {
		if _, err := locator.NearestCenter(context.Background(), point, 15); err != nil {
			t.Fatalf("lookup %d failed: %v", i, err)
		}
	}
	if source.calls != 1 {
		t.Fatalf("source calls = %d, want 1 (cached)", source.calls)
	}

	current = current.Add(2 * time.Minute)
	if _, err := locator.NearestCenter(context.Background(), point, 15); err != nil {
		t.Fatalf("lookup after expiry failed: %v", err)
	}
	if source.calls != 2 {
		t.Fatalf("source calls = %d, want 2 after TTL expiry", source.calls)
	}

	locator.InvalidateCache()
	if _, err := locator.NearestCenter(context.Background(), point, 15); err != nil {
		t.Fatalf("lookup after invalidation failed: %v", err)
	}
	if source.calls != 3 {
		t.Fatalf("source calls = %d, want 3 after invalidation", source.calls)
	}
}

func mustLocator(t *testing.T, source CenterSource) *Locator {
	t.Helper()
	locator, err := NewLocator(LocatorDeps{Centers: source})
	if err != nil {
		t.Fatalf("NewLocator returned error: %v", err)
	}
	return locator
}
