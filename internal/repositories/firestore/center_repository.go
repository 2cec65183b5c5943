package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/fleetbite/api/internal/domain"
	pfirestore "github.com/fleetbite/api/internal/platform/firestore"
	"github.com/fleetbite/api/internal/repositories"
)

const centersCollection = "fulfillmentCenters"

// CenterRepository stores fulfillment center records.
type CenterRepository struct {
	base *pfirestore.BaseRepository[centerDocument]
}

// NewCenterRepository constructs a Firestore-backed fulfillment center repository.
func NewCenterRepository(provider *pfirestore.Provider) (*CenterRepository, error) {
	if provider == nil {
		return nil, errors.New("center repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[centerDocument](provider, centersCollection, nil, nil)
	return &CenterRepository{base: base}, nil
}

// FindByID fetches a single fulfillment center.
func (r *CenterRepository) FindByID(ctx context.Context, centerID string) (domain.FulfillmentCenter, error) {
	if r == nil || r.base == nil {
		return domain.FulfillmentCenter{}, errors.New("center repository not initialised")
	}
	centerID = strings.TrimSpace(centerID)
	if centerID == "" {
		return domain.FulfillmentCenter{}, errors.New("center repository: center id is required")
	}
	doc, err := r.base.Get(ctx, centerID)
	if err != nil {
		return domain.FulfillmentCenter{}, err
	}
	return doc.Data.toDomain(centerID), nil
}

// ListActiveCenters returns every active dispatch origin. The set is small
// enough that the geo locator filters by distance in memory.
func (r *CenterRepository) ListActiveCenters(ctx context.Context) ([]domain.FulfillmentCenter, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("center repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("active", "==", true)
	})
	if err != nil {
		return nil, err
	}
	centers := make([]domain.FulfillmentCenter, 0, len(docs))
	for _, doc := range docs {
		centers = append(centers, doc.Data.toDomain(doc.ID))
	}
	return centers, nil
}

type centerDocument struct {
	Name        string    `firestore:"name"`
	Lat         float64   `firestore:"lat"`
	Lng         float64   `firestore:"lng"`
	Active      bool      `firestore:"active"`
	PrepMinutes int       `firestore:"prepMinutes,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func (d centerDocument) toDomain(id string) domain.FulfillmentCenter {
	return domain.FulfillmentCenter{
		ID:          id,
		Name:        d.Name,
		Coordinates: domain.LatLng{Lat: d.Lat, Lng: d.Lng},
		Active:      d.Active,
		PrepTime:    time.Duration(d.PrepMinutes) * time.Minute,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

var _ repositories.FulfillmentCenterRepository = (*CenterRepository)(nil)
