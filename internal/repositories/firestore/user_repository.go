package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	domain "github.com/fleetbite/api/internal/domain"
	pfirestore "github.com/fleetbite/api/internal/platform/firestore"
	"github.com/fleetbite/api/internal/repositories"
)

const userCollection = "users"

// UserRepository persists user profiles with roles and device tokens.
type UserRepository struct {
	base     *pfirestore.BaseRepository[userDocument]
	provider *pfirestore.Provider
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}

	base := pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil)
	return &UserRepository{base: base, provider: provider}, nil
}

// FindByID loads the user profile by UID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.UserProfile{}, errors.New("user id is required")
	}

	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.UserProfile{}, err
	}

	profile := toDomainProfile(doc.Data)
	profile.ID = doc.ID
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = doc.CreateTime
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = doc.UpdateTime
	}
	return profile, nil
}

// UpdateProfile upserts the user profile.
func (r *UserRepository) UpdateProfile(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	if r == nil || r.base == nil {
		return domain.UserProfile{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(profile.ID) == "" {
		return domain.UserProfile{}, errors.New("profile id is required")
	}

	now := time.Now().UTC()
	doc := fromDomainProfile(profile, now)

	result, err := r.base.Set(ctx, profile.ID, doc)
	if err != nil {
		return domain.UserProfile{}, err
	}
	saved := toDomainProfile(doc)
	saved.ID = profile.ID
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// AddDeviceToken registers a push token for the user, replacing a prior
// registration of the same token.
func (r *UserRepository) AddDeviceToken(ctx context.Context, userID string, token domain.DeviceToken) error {
	if r == nil || r.provider == nil {
		return errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	value := strings.TrimSpace(token.Token)
	if userID == "" || value == "" {
		return errors.New("user repository: user id and token are required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, userID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc userDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		tokens := make([]deviceTokenDocument, 0, len(doc.DeviceTokens)+1)
		for _, existing := range doc.DeviceTokens {
			if existing.Token != value {
				tokens = append(tokens, existing)
			}
		}
		tokens = append(tokens, deviceTokenDocument{
			Token:        value,
			Platform:     strings.TrimSpace(token.Platform),
			RegisteredAt: token.RegisteredAt.UTC(),
		})
		doc.DeviceTokens = tokens
		return tx.Set(ref, doc)
	})
	return pfirestore.WrapError("users.add_device_token", err)
}

// RemoveDeviceToken drops a push token, typically after the push provider
// reported it as permanently invalid.
func (r *UserRepository) RemoveDeviceToken(ctx context.Context, userID string, token string) error {
	if r == nil || r.provider == nil {
		return errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	token = strings.TrimSpace(token)
	if userID == "" || token == "" {
		return errors.New("user repository: user id and token are required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, userID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc userDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		tokens := doc.DeviceTokens[:0]
		for _, existing := range doc.DeviceTokens {
			if existing.Token != token {
				tokens = append(tokens, existing)
			}
		}
		doc.DeviceTokens = tokens
		return tx.Set(ref, doc)
	})
	return pfirestore.WrapError("users.remove_device_token", err)
}

type userDocument struct {
	UID          string                `firestore:"uid"`
	DisplayName  string                `firestore:"displayName"`
	Email        string                `firestore:"email"`
	Phone        string                `firestore:"phone,omitempty"`
	Locale       string                `firestore:"locale,omitempty"`
	Roles        []string              `firestore:"roles"`
	DeviceTokens []deviceTokenDocument `firestore:"deviceTokens,omitempty"`
	CreatedAt    time.Time             `firestore:"createdAt"`
	UpdatedAt    time.Time             `firestore:"updatedAt"`
}

type deviceTokenDocument struct {
	Token        string    `firestore:"token"`
	Platform     string    `firestore:"platform,omitempty"`
	RegisteredAt time.Time `firestore:"registeredAt"`
}

func toDomainProfile(doc userDocument) domain.UserProfile {
	tokens := make([]domain.DeviceToken, 0, len(doc.DeviceTokens))
	for _, t := range doc.DeviceTokens {
		tokens = append(tokens, domain.DeviceToken{
			Token:        t.Token,
			Platform:     t.Platform,
			RegisteredAt: t.RegisteredAt,
		})
	}
	return domain.UserProfile{
		DisplayName:  doc.DisplayName,
		Email:        strings.TrimSpace(doc.Email),
		Phone:        strings.TrimSpace(doc.Phone),
		Locale:       strings.TrimSpace(doc.Locale),
		Roles:        cloneStringSlice(doc.Roles),
		DeviceTokens: tokens,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}

func fromDomainProfile(profile domain.UserProfile, now time.Time) userDocument {
	tokens := make([]deviceTokenDocument, 0, len(profile.DeviceTokens))
	for _, t := range profile.DeviceTokens {
		value := strings.TrimSpace(t.Token)
		if value == "" {
			continue
		}
		tokens = append(tokens, deviceTokenDocument{
			Token:        value,
			Platform:     strings.TrimSpace(t.Platform),
			RegisteredAt: t.RegisteredAt.UTC(),
		})
	}
	doc := userDocument{
		UID:          profile.ID,
		DisplayName:  strings.TrimSpace(profile.DisplayName),
		Email:        strings.ToLower(strings.TrimSpace(profile.Email)),
		Phone:        strings.TrimSpace(profile.Phone),
		Locale:       strings.TrimSpace(profile.Locale),
		Roles:        normaliseRoles(profile.Roles),
		DeviceTokens: tokens,
		CreatedAt:    profile.CreatedAt,
		UpdatedAt:    now,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.Roles == nil {
		doc.Roles = []string{}
	}
	return doc
}

func cloneStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func normaliseRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	uniq := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		trimmed := strings.ToLower(strings.TrimSpace(role))
		if trimmed == "" {
			continue
		}
		uniq[trimmed] = struct{}{}
	}
	if len(uniq) == 0 {
		return nil
	}
	normalised := make([]string, 0, len(uniq))
	for role := range uniq {
		normalised = append(normalised, role)
	}
	sort.Strings(normalised)
	return normalised
}

var _ repositories.UserRepository = (*UserRepository)(nil)
