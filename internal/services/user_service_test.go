package services

import (
	"context"
	"errors"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/fleetbite/api/internal/domain"
)

var userTestClock = func() time.Time {
	return time.Date(2024, time.June, 3, 8, 0, 0, 0, time.UTC)
}

func TestGetProfileReturnsStoredProfile(t *testing.T) {
	fixture := newUserFixture(t)
	fixture.users.profile = domain.UserProfile{ID: "user-1", DisplayName: "Dana"}

	profile, err := fixture.service.GetProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if profile.DisplayName != "Dana" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if fixture.firebase.calls != 0 {
		t.Fatalf("expected no firebase lookup, got %d", fixture.firebase.calls)
	}
}

func TestGetProfileProvisionsFromFirebase(t *testing.T) {
	fixture := newUserFixture(t)
	fixture.users.findErr = &stubPromotionRepoError{notFound: true}
	fixture.firebase.record = &firebaseauth.UserRecord{
		UserInfo: &firebaseauth.UserInfo{
			UID:         "user-1",
			Email:       "Dana@Example.com",
			DisplayName: " Dana ",
			PhoneNumber: "+1 555 0100",
		},
		CustomClaims: map[string]any{"role": "courier", "locale": "en_US"},
	}

	profile, err := fixture.service.GetProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if profile.Email != "dana@example.com" {
		t.Fatalf("expected lowercased email, got %q", profile.Email)
	}
	if profile.DisplayName != "Dana" {
		t.Fatalf("expected trimmed display name, got %q", profile.DisplayName)
	}
	if profile.Locale != "en-US" {
		t.Fatalf("expected canonical locale, got %q", profile.Locale)
	}
	if len(profile.Roles) != 2 || profile.Roles[0] != "courier" || profile.Roles[1] != "customer" {
		t.Fatalf("unexpected roles: %v", profile.Roles)
	}
	if !profile.CreatedAt.Equal(userTestClock()) {
		t.Fatalf("expected provisioning timestamp, got %v", profile.CreatedAt)
	}
}

func TestGetProfileRejectsUnknownUser(t *testing.T) {
	fixture := newUserFixture(t)
	fixture.users.findErr = &stubPromotionRepoError{notFound: true}
	fixture.firebase.err = errors.New("user record not found")

	if _, err := fixture.service.GetProfile(context.Background(), "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUpdateProfileCanonicalisesLocale(t *testing.T) {
	fixture := newUserFixture(t)
	fixture.users.profile = domain.UserProfile{ID: "user-1", DisplayName: "Dana", Locale: "en"}

	name := "Dana Q."
	locale := "ja_JP"
	profile, err := fixture.service.UpdateProfile(context.Background(), UpdateProfileCommand{
		UserID:      "user-1",
		DisplayName: &name,
		Locale:      &locale,
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if profile.DisplayName != "Dana Q." {
		t.Fatalf("unexpected display name %q", profile.DisplayName)
	}
	if profile.Locale != "ja-JP" {
		t.Fatalf("expected canonical locale, got %q", profile.Locale)
	}
	if !profile.UpdatedAt.Equal(userTestClock()) {
		t.Fatalf("expected updated timestamp, got %v", profile.UpdatedAt)
	}
}

func TestUpdateProfileRejectsShortDisplayName(t *testing.T) {
	fixture := newUserFixture(t)
	fixture.users.profile = domain.UserProfile{ID: "user-1", DisplayName: "Dana"}

	name := "x"
	_, err := fixture.service.UpdateProfile(context.Background(), UpdateProfileCommand{UserID: "user-1", DisplayName: &name})
	if !errors.Is(err, ErrUserInvalidDisplayName) {
		t.Fatalf("expected ErrUserInvalidDisplayName, got %v", err)
	}
}

func TestUpdateProfileRejectsMalformedPhone(t *testing.T) {
	fixture := newUserFixture(t)
	fixture.users.profile = domain.UserProfile{ID: "user-1", DisplayName: "Dana"}

	phone := "not a phone"
	_, err := fixture.service.UpdateProfile(context.Background(), UpdateProfileCommand{UserID: "user-1", Phone: &phone})
	if !errors.Is(err, ErrUserInvalidPhone) {
		t.Fatalf("expected ErrUserInvalidPhone, got %v", err)
	}
}

func TestRegisterDeviceTokenNormalisesPlatform(t *testing.T) {
	fixture := newUserFixture(t)

	err := fixture.service.RegisterDeviceToken(context.Background(), RegisterDeviceTokenCommand{
		UserID:   "user-1",
		Token:    " tok-1 ",
		Platform: "Android",
	})
	if err != nil {
		t.Fatalf("RegisterDeviceToken: %v", err)
	}
	if len(fixture.users.addedTokens) != 1 {
		t.Fatalf("expected one registered token, got %d", len(fixture.users.addedTokens))
	}
	registered := fixture.users.addedTokens[0]
	if registered.Token != "tok-1" || registered.Platform != "android" {
		t.Fatalf("unexpected token registration: %+v", registered)
	}
	if !registered.RegisteredAt.Equal(userTestClock()) {
		t.Fatalf("expected registration timestamp, got %v", registered.RegisteredAt)
	}
}

func TestRegisterDeviceTokenRejectsUnknownPlatform(t *testing.T) {
	fixture := newUserFixture(t)

	err := fixture.service.RegisterDeviceToken(context.Background(), RegisterDeviceTokenCommand{
		UserID:   "user-1",
		Token:    "tok-1",
		Platform: "blackberry",
	})
	if !errors.Is(err, ErrUserInvalidInput) {
		t.Fatalf("expected ErrUserInvalidInput, got %v", err)
	}
}

func TestRemoveDeviceTokenIgnoresMissingToken(t *testing.T) {
	fixture := newUserFixture(t)
	fixture.users.err = &stubPromotionRepoError{notFound: true}

	if err := fixture.service.RemoveDeviceToken(context.Background(), "user-1", "tok-gone"); err != nil {
		t.Fatalf("expected missing token to be ignored, got %v", err)
	}
}

func TestUpsertAddressStripsMarkupAndSetsDefault(t *testing.T) {
	fixture := newUserFixture(t)

	saved, err := fixture.service.UpsertAddress(context.Background(), UpsertAddressCommand{
		UserID: "user-1",
		Address: domain.Address{
			Label:        "Home",
			Line1:        " 12 Elm St ",
			City:         "Springfield",
			PostalCode:   "62704",
			Country:      "us",
			Coordinates:  domain.LatLng{Lat: 39.78, Lng: -89.65},
			Instructions: "<script>alert(1)</script>Ring twice",
		},
		IsDefault: true,
	})
	if err != nil {
		t.Fatalf("UpsertAddress: %v", err)
	}
	if saved.ID != "addr-new" {
		t.Fatalf("expected generated address id, got %q", saved.ID)
	}
	if saved.Line1 != "12 Elm St" {
		t.Fatalf("expected trimmed line1, got %q", saved.Line1)
	}
	if saved.Country != "US" {
		t.Fatalf("expected upper-cased country, got %q", saved.Country)
	}
	if saved.Instructions != "Ring twice" {
		t.Fatalf("expected sanitised instructions, got %q", saved.Instructions)
	}
	if len(fixture.addresses.defaulted) != 1 || fixture.addresses.defaulted[0] != "addr-new" {
		t.Fatalf("expected default promotion for addr-new, got %v", fixture.addresses.defaulted)
	}
}

func TestUpsertAddressRejectsMissingLine1(t *testing.T) {
	fixture := newUserFixture(t)

	_, err := fixture.service.UpsertAddress(context.Background(), UpsertAddressCommand{
		UserID: "user-1",
		Address: domain.Address{
			City:       "Springfield",
			PostalCode: "62704",
			Country:    "US",
		},
	})
	if !errors.Is(err, ErrUserInvalidAddress) {
		t.Fatalf("expected ErrUserInvalidAddress, got %v", err)
	}
}

func TestUpsertAddressRejectsBadCountry(t *testing.T) {
	fixture := newUserFixture(t)

	_, err := fixture.service.UpsertAddress(context.Background(), UpsertAddressCommand{
		UserID: "user-1",
		Address: domain.Address{
			Line1:      "12 Elm St",
			City:       "Springfield",
			PostalCode: "62704",
			Country:    "USA",
		},
	})
	if !errors.Is(err, ErrUserInvalidAddress) {
		t.Fatalf("expected ErrUserInvalidAddress, got %v", err)
	}
}

func TestUpsertAddressRejectsOutOfRangeCoordinates(t *testing.T) {
	fixture := newUserFixture(t)

	_, err := fixture.service.UpsertAddress(context.Background(), UpsertAddressCommand{
		UserID: "user-1",
		Address: domain.Address{
			Line1:       "12 Elm St",
			City:        "Springfield",
			PostalCode:  "62704",
			Country:     "US",
			Coordinates: domain.LatLng{Lat: 120, Lng: 10},
		},
	})
	if !errors.Is(err, ErrUserInvalidAddress) {
		t.Fatalf("expected ErrUserInvalidAddress, got %v", err)
	}
}

func TestDeleteAddressMissing(t *testing.T) {
	fixture := newUserFixture(t)
	fixture.addresses.deleteErr = &stubPromotionRepoError{notFound: true}

	err := fixture.service.DeleteAddress(context.Background(), DeleteAddressCommand{UserID: "user-1", AddressID: "addr-gone"})
	if !errors.Is(err, ErrUserAddressNotFound) {
		t.Fatalf("expected ErrUserAddressNotFound, got %v", err)
	}
}

// Test scaffolding ---------------------------------------------------------

type userFixture struct {
	service   UserService
	users     *stubUserRepository
	addresses *stubAddressRepository
	firebase  *stubUserGetter
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()

	users := &stubUserRepository{profile: domain.UserProfile{ID: "user-1", DisplayName: "Dana"}}
	addresses := &stubAddressRepository{}
	firebase := &stubUserGetter{}

	svc, err := NewUserService(UserServiceDeps{
		Users:     users,
		Addresses: addresses,
		Firebase:  firebase,
		Clock:     userTestClock,
	})
	if err != nil {
		t.Fatalf("NewUserService: %v", err)
	}

	return &userFixture{service: svc, users: users, addresses: addresses, firebase: firebase}
}

type stubUserGetter struct {
	record *firebaseauth.UserRecord
	err    error
	calls  int
}

func (s *stubUserGetter) GetUser(context.Context, string) (*firebaseauth.UserRecord, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.record, nil
}
