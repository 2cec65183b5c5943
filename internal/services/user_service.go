package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"

	domain "github.com/fleetbite/api/internal/domain"
	"github.com/fleetbite/api/internal/platform/auth"
	"github.com/fleetbite/api/internal/repositories"
)

var (
	// ErrUserInvalidInput indicates a malformed profile or address command.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserNotFound indicates the profile does not exist and could not be provisioned.
	ErrUserNotFound = errors.New("user: profile not found")
	// ErrUserInvalidDisplayName indicates the supplied display name failed validation.
	ErrUserInvalidDisplayName = errors.New("user: invalid display name")
	// ErrUserInvalidLanguageTag indicates the supplied locale tag is invalid.
	ErrUserInvalidLanguageTag = errors.New("user: invalid language tag")
	// ErrUserInvalidPhone indicates the supplied phone number failed validation.
	ErrUserInvalidPhone = errors.New("user: invalid phone number")
	// ErrUserAddressNotFound indicates the requested address does not exist.
	ErrUserAddressNotFound = errors.New("user: address not found")
	// ErrUserInvalidAddress indicates an address component failed validation.
	ErrUserInvalidAddress = errors.New("user: invalid address")

	errInvalidAddressLine1   = fmt.Errorf("%w: line1 is required", ErrUserInvalidAddress)
	errInvalidAddressCity    = fmt.Errorf("%w: city is required", ErrUserInvalidAddress)
	errInvalidAddressCountry = fmt.Errorf("%w: country must be a two-letter code", ErrUserInvalidAddress)
	errInvalidAddressPostal  = fmt.Errorf("%w: postal code is malformed", ErrUserInvalidAddress)
	errInvalidAddressCoords  = fmt.Errorf("%w: coordinates are out of range", ErrUserInvalidAddress)
)

var (
	userPhonePattern      = regexp.MustCompile(`^[0-9+()\-\s]{6,20}$`)
	addressCountryPattern = regexp.MustCompile(`^[A-Za-z]{2}$`)
	addressPostalPattern  = regexp.MustCompile(`^[0-9A-Za-z\-\s]{3,16}$`)

	deviceTokenPlatforms = map[string]struct{}{
		"ios":     {},
		"android": {},
		"web":     {},
	}
)

// UserServiceDeps bundles the dependencies required to construct a user service instance.
type UserServiceDeps struct {
	Users     repositories.UserRepository
	Addresses repositories.AddressRepository
	Firebase  auth.UserGetter
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type userService struct {
	users     repositories.UserRepository
	addresses repositories.AddressRepository
	firebase  auth.UserGetter
	clock     func() time.Time
	sanitizer *bluemonday.Policy
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("user service: address repository is required")
	}
	if deps.Firebase == nil {
		return nil, errors.New("user service: firebase user getter is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &userService{
		users:     deps.Users,
		addresses: deps.Addresses,
		firebase:  deps.Firebase,
		clock: func() time.Time {
			return clock().UTC()
		},
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
	}, nil
}

func (s *userService) GetProfile(ctx context.Context, userID string) (UserProfile, error) {
	return s.getProfile(ctx, userID)
}

func (s *userService) UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (UserProfile, error) {
	profile, err := s.getProfile(ctx, cmd.UserID)
	if err != nil {
		return UserProfile{}, err
	}

	if cmd.DisplayName != nil {
		name := strings.TrimSpace(*cmd.DisplayName)
		if err := validateDisplayName(name); err != nil {
			return UserProfile{}, err
		}
		profile.DisplayName = name
	}
	if cmd.Phone != nil {
		phone := strings.TrimSpace(*cmd.Phone)
		if phone != "" && !userPhonePattern.MatchString(phone) {
			return UserProfile{}, ErrUserInvalidPhone
		}
		profile.Phone = phone
	}
	if cmd.Locale != nil {
		canonical, err := canonicaliseLanguageTag(*cmd.Locale)
		if err != nil {
			return UserProfile{}, err
		}
		profile.Locale = canonical
	}

	profile.UpdatedAt = s.clock()
	saved, err := s.users.UpdateProfile(ctx, profile)
	if err != nil {
		return UserProfile{}, s.mapRepoError(err)
	}
	return saved, nil
}

func (s *userService) RegisterDeviceToken(ctx context.Context, cmd RegisterDeviceTokenCommand) error {
	userID := strings.TrimSpace(cmd.UserID)
	token := strings.TrimSpace(cmd.Token)
	platform := strings.ToLower(strings.TrimSpace(cmd.Platform))
	if userID == "" || token == "" {
		return fmt.Errorf("%w: user id and token are required", ErrUserInvalidInput)
	}
	if _, ok := deviceTokenPlatforms[platform]; !ok {
		return fmt.Errorf("%w: unknown device platform %q", ErrUserInvalidInput, cmd.Platform)
	}

	err := s.users.AddDeviceToken(ctx, userID, domain.DeviceToken{
		Token:        token,
		Platform:     platform,
		RegisteredAt: s.clock(),
	})
	if err != nil {
		return s.mapRepoError(err)
	}
	return nil
}

func (s *userService) RemoveDeviceToken(ctx context.Context, userID string, token string) error {
	userID = strings.TrimSpace(userID)
	token = strings.TrimSpace(token)
	if userID == "" || token == "" {
		return fmt.Errorf("%w: user id and token are required", ErrUserInvalidInput)
	}

	err := s.users.RemoveDeviceToken(ctx, userID, token)
	if err != nil && !isRepoNotFound(err) {
		return s.mapRepoError(err)
	}
	return nil
}

func (s *userService) ListAddresses(ctx context.Context, userID string) ([]Address, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	addresses, err := s.addresses.List(ctx, userID)
	if err != nil {
		return nil, s.mapRepoError(err)
	}
	return addresses, nil
}

func (s *userService) UpsertAddress(ctx context.Context, cmd UpsertAddressCommand) (Address, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Address{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}

	addr, err := s.sanitizeAddress(cmd.Address)
	if err != nil {
		return Address{}, err
	}
	addr.UserID = userID
	addr.UpdatedAt = s.clock()

	var addressID *string
	if cmd.AddressID != nil {
		trimmed := strings.TrimSpace(*cmd.AddressID)
		if trimmed == "" {
			return Address{}, fmt.Errorf("%w: address id must not be blank", ErrUserInvalidInput)
		}
		addressID = &trimmed
	}

	saved, err := s.addresses.Upsert(ctx, userID, addressID, addr)
	if err != nil {
		if isRepoNotFound(err) {
			return Address{}, ErrUserAddressNotFound
		}
		return Address{}, s.mapRepoError(err)
	}

	if cmd.IsDefault && !saved.IsDefault {
		saved, err = s.addresses.SetDefault(ctx, userID, saved.ID)
		if err != nil {
			return Address{}, s.mapRepoError(err)
		}
	}
	return saved, nil
}

func (s *userService) DeleteAddress(ctx context.Context, cmd DeleteAddressCommand) error {
	userID := strings.TrimSpace(cmd.UserID)
	addressID := strings.TrimSpace(cmd.AddressID)
	if userID == "" || addressID == "" {
		return fmt.Errorf("%w: user id and address id are required", ErrUserInvalidInput)
	}

	if err := s.addresses.Delete(ctx, userID, addressID); err != nil {
		if isRepoNotFound(err) {
			return ErrUserAddressNotFound
		}
		return s.mapRepoError(err)
	}
	return nil
}

// getProfile loads the stored profile, provisioning it from the Firebase user
// record on first access.
func (s *userService) getProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserProfile{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}

	profile, err := s.users.FindByID(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !isRepoNotFound(err) {
		return domain.UserProfile{}, s.mapRepoError(err)
	}

	record, err := s.firebase.GetUser(ctx, userID)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("%w: %v", ErrUserNotFound, err)
	}

	fresh := profileFromFirebase(record, s.clock())
	fresh.ID = userID

	saved, err := s.users.UpdateProfile(ctx, fresh)
	if err != nil {
		return domain.UserProfile{}, s.mapRepoError(err)
	}
	s.logger(ctx, "user.profile.provisioned", map[string]any{"user_id": userID})
	return saved, nil
}

func (s *userService) sanitizeAddress(addr Address) (Address, error) {
	clean := func(value string) string {
		return strings.TrimSpace(s.sanitizer.Sanitize(value))
	}

	sanitized := Address{
		ID:           strings.TrimSpace(addr.ID),
		Label:        clean(addr.Label),
		Line1:        clean(addr.Line1),
		Line2:        clean(addr.Line2),
		City:         clean(addr.City),
		Region:       clean(addr.Region),
		PostalCode:   strings.TrimSpace(addr.PostalCode),
		Country:      strings.ToUpper(strings.TrimSpace(addr.Country)),
		Coordinates:  addr.Coordinates,
		Instructions: clean(addr.Instructions),
		IsDefault:    addr.IsDefault,
		CreatedAt:    addr.CreatedAt,
	}

	if sanitized.Line1 == "" {
		return Address{}, errInvalidAddressLine1
	}
	if sanitized.City == "" {
		return Address{}, errInvalidAddressCity
	}
	if !addressCountryPattern.MatchString(sanitized.Country) {
		return Address{}, errInvalidAddressCountry
	}
	if !addressPostalPattern.MatchString(sanitized.PostalCode) {
		return Address{}, errInvalidAddressPostal
	}

	coords := sanitized.Coordinates
	if (coords.Lat != 0 || coords.Lng != 0) && !coords.Valid() {
		return Address{}, errInvalidAddressCoords
	}

	return sanitized, nil
}

func (s *userService) mapRepoError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrUserNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("user: repository unavailable: %w", err)
		}
	}
	return err
}

func validateDisplayName(name string) error {
	length := utf8.RuneCountInString(name)
	if length < 2 || length > 100 {
		return ErrUserInvalidDisplayName
	}
	return nil
}

func canonicaliseLanguageTag(tag string) (string, error) {
	tag = strings.ReplaceAll(strings.TrimSpace(tag), "_", "-")
	if tag == "" {
		return "", nil
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return "", errors.Join(ErrUserInvalidLanguageTag, err)
	}
	return parsed.String(), nil
}

func profileFromFirebase(record *firebaseauth.UserRecord, now time.Time) domain.UserProfile {
	if record == nil {
		return domain.UserProfile{}
	}

	profile := domain.UserProfile{
		Roles:     deriveRoles(record),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if record.UserInfo != nil {
		profile.ID = strings.TrimSpace(record.UserInfo.UID)
		profile.DisplayName = strings.TrimSpace(record.UserInfo.DisplayName)
		profile.Email = strings.ToLower(strings.TrimSpace(record.UserInfo.Email))
		profile.Phone = strings.TrimSpace(record.UserInfo.PhoneNumber)
	}
	if locale, ok := record.CustomClaims["locale"].(string); ok {
		if canonical, err := canonicaliseLanguageTag(locale); err == nil {
			profile.Locale = canonical
		}
	}
	return profile
}

func deriveRoles(record *firebaseauth.UserRecord) []string {
	roles := map[string]struct{}{auth.RoleCustomer: {}}
	if record == nil {
		return sortedRoleKeys(roles)
	}

	if value, ok := record.CustomClaims["role"].(string); ok {
		addRole(roles, value)
	}
	if raw, ok := record.CustomClaims["roles"]; ok {
		switch v := raw.(type) {
		case []any:
			for _, item := range v {
				if str, ok := item.(string); ok {
					addRole(roles, str)
				}
			}
		case []string:
			for _, str := range v {
				addRole(roles, str)
			}
		}
	}
	return sortedRoleKeys(roles)
}

func addRole(target map[string]struct{}, role string) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return
	}
	target[role] = struct{}{}
}

func sortedRoleKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
