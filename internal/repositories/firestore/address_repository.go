package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/fleetbite/api/internal/domain"
	pfirestore "github.com/fleetbite/api/internal/platform/firestore"
	"github.com/fleetbite/api/internal/repositories"
)

const addressCollectionPattern = "users/%s/addresses"

// AddressRepository persists delivery addresses under the user document.
type AddressRepository struct {
	provider *pfirestore.Provider
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider}, nil
}

// List returns all addresses for the specified user ordered by most recent update.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("updatedAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var results []domain.Address
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("addresses.list", err)
		}
		addr, err := decodeAddressSnapshot(userID, snap)
		if err != nil {
			return nil, err
		}
		results = append(results, addr)
	}
	return results, nil
}

// Get fetches a single address by ID.
func (r *AddressRepository) Get(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	addressID = strings.TrimSpace(addressID)
	if addressID == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}

	snap, err := coll.Doc(addressID).Get(ctx)
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.get", err)
	}
	return decodeAddressSnapshot(userID, snap)
}

// Upsert creates or updates an address. The first address a user stores
// becomes the default.
func (r *AddressRepository) Upsert(ctx context.Context, userID string, addressID *string, addr domain.Address) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}

	var saved domain.Address
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var docRef *firestore.DocumentRef
		if addressID != nil && strings.TrimSpace(*addressID) != "" {
			docRef = coll.Doc(strings.TrimSpace(*addressID))
		} else {
			docRef = coll.NewDoc()
		}

		var doc addressDocument
		snap, err := tx.Get(docRef)
		switch status.Code(err) {
		case codes.NotFound:
			// new document
		case codes.OK:
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode address %s: %w", docRef.ID, err)
			}
		default:
			return err
		}

		now := time.Now().UTC()
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = now
		}
		doc.UpdatedAt = now
		doc.Label = strings.TrimSpace(addr.Label)
		doc.Line1 = strings.TrimSpace(addr.Line1)
		doc.Line2 = strings.TrimSpace(addr.Line2)
		doc.City = strings.TrimSpace(addr.City)
		doc.Region = strings.TrimSpace(addr.Region)
		doc.PostalCode = strings.TrimSpace(addr.PostalCode)
		doc.Country = strings.ToUpper(strings.TrimSpace(addr.Country))
		doc.Lat = addr.Coordinates.Lat
		doc.Lng = addr.Coordinates.Lng
		doc.Instructions = strings.TrimSpace(addr.Instructions)
		doc.IsDefault = addr.IsDefault

		if err := tx.Set(docRef, doc); err != nil {
			return err
		}
		if doc.IsDefault {
			if err := r.clearOtherDefaults(tx, coll, docRef.ID); err != nil {
				return err
			}
		}
		saved = doc.toDomain(userID, docRef.ID)
		return nil
	})
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.upsert", err)
	}
	return saved, nil
}

// Delete removes the address permanently.
func (r *AddressRepository) Delete(ctx context.Context, userID string, addressID string) error {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return err
	}
	addressID = strings.TrimSpace(addressID)
	if addressID == "" {
		return errors.New("address repository: address id is required")
	}
	if _, err := coll.Doc(addressID).Delete(ctx); err != nil {
		return pfirestore.WrapError("addresses.delete", err)
	}
	return nil
}

// SetDefault marks one address as the delivery default and clears the flag
// from the rest.
func (r *AddressRepository) SetDefault(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	addressID = strings.TrimSpace(addressID)
	if addressID == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}

	var saved domain.Address
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef := coll.Doc(addressID)
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var doc addressDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode address %s: %w", addressID, err)
		}
		doc.IsDefault = true
		doc.UpdatedAt = time.Now().UTC()
		if err := tx.Set(docRef, doc); err != nil {
			return err
		}
		if err := r.clearOtherDefaults(tx, coll, addressID); err != nil {
			return err
		}
		saved = doc.toDomain(userID, addressID)
		return nil
	})
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.set_default", err)
	}
	return saved, nil
}

func (r *AddressRepository) clearOtherDefaults(tx *firestore.Transaction, coll *firestore.CollectionRef, keepID string) error {
	snaps, err := tx.Documents(coll.Where("isDefault", "==", true)).GetAll()
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		if snap.Ref.ID == keepID {
			continue
		}
		if err := tx.Update(snap.Ref, []firestore.Update{{Path: "isDefault", Value: false}}); err != nil {
			return err
		}
	}
	return nil
}

func (r *AddressRepository) collection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("address repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("address repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(addressCollectionPattern, userID)), nil
}

type addressDocument struct {
	Label        string    `firestore:"label,omitempty"`
	Line1        string    `firestore:"line1"`
	Line2        string    `firestore:"line2,omitempty"`
	City         string    `firestore:"city,omitempty"`
	Region       string    `firestore:"region,omitempty"`
	PostalCode   string    `firestore:"postalCode,omitempty"`
	Country      string    `firestore:"country,omitempty"`
	Lat          float64   `firestore:"lat"`
	Lng          float64   `firestore:"lng"`
	Instructions string    `firestore:"instructions,omitempty"`
	IsDefault    bool      `firestore:"isDefault"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func (d addressDocument) toDomain(userID, id string) domain.Address {
	return domain.Address{
		ID:           id,
		UserID:       userID,
		Label:        d.Label,
		Line1:        d.Line1,
		Line2:        d.Line2,
		City:         d.City,
		Region:       d.Region,
		PostalCode:   d.PostalCode,
		Country:      d.Country,
		Coordinates:  domain.LatLng{Lat: d.Lat, Lng: d.Lng},
		Instructions: d.Instructions,
		IsDefault:    d.IsDefault,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func decodeAddressSnapshot(userID string, snap *firestore.DocumentSnapshot) (domain.Address, error) {
	var doc addressDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Address{}, fmt.Errorf("decode address %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(userID, snap.Ref.ID), nil
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)
