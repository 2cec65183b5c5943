package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/fleetbite/api/internal/domain"
	"github.com/fleetbite/api/internal/platform/notify"
)

func TestNotifyOrderUpdateSendsToEveryToken(t *testing.T) {
	users := &stubUserRepository{profile: domain.UserProfile{
		ID: "user-1",
		DeviceTokens: []domain.DeviceToken{
			{Token: "tok-a", Platform: "ios"},
			{Token: "tok-b", Platform: "android"},
		},
	}}
	sender := &stubPushSender{}
	svc := mustNotificationService(t, users, sender)

	err := svc.NotifyOrderUpdate(context.Background(), domain.Order{
		ID:     "ord_1",
		Number: "FB-20240601-000042",
		UserID: "user-1",
	}, domain.StatusChange{To: domain.OrderStatusConfirmed})
	if err != nil {
		t.Fatalf("NotifyOrderUpdate: %v", err)
	}

	if len(sender.sent) != 2 {
		t.Fatalf("sends = %d, want 2", len(sender.sent))
	}
	if sender.sent[0].msg.Data["order_id"] != "ord_1" {
		t.Fatalf("message data = %+v", sender.sent[0].msg.Data)
	}
	if sender.sent[0].msg.Title != "Order FB-20240601-000042" {
		t.Fatalf("title = %q", sender.sent[0].msg.Title)
	}
}

func TestNotifyOrderUpdatePrunesInvalidTokens(t *testing.T) {
	users := &stubUserRepository{profile: domain.UserProfile{
		ID: "user-1",
		DeviceTokens: []domain.DeviceToken{
			{Token: "tok-dead", Platform: "ios"},
			{Token: "tok-live", Platform: "android"},
		},
	}}
	sender := &stubPushSender{failures: map[string]error{
		"tok-dead": notify.ErrTokenInvalid,
	}}
	svc := mustNotificationService(t, users, sender)

	err := svc.NotifyOrderUpdate(context.Background(), domain.Order{
		ID:     "ord_1",
		UserID: "user-1",
	}, domain.StatusChange{To: domain.OrderStatusOutForDelivery})
	if err != nil {
		t.Fatalf("NotifyOrderUpdate: %v", err)
	}

	if len(users.removedTokens) != 1 || users.removedTokens[0] != "tok-dead" {
		t.Fatalf("removed tokens = %+v", users.removedTokens)
	}
	if len(sender.sent) != 1 || sender.sent[0].token != "tok-live" {
		t.Fatalf("sends = %+v", sender.sent)
	}
}

func TestNotifyOrderUpdateKeepsTokensOnTransientFailure(t *testing.T) {
	users := &stubUserRepository{profile: domain.UserProfile{
		ID: "user-1",
		DeviceTokens: []domain.DeviceToken{
			{Token: "tok-a", Platform: "ios"},
		},
	}}
	sender := &stubPushSender{failures: map[string]error{
		"tok-a": errors.New("fcm unavailable"),
	}}
	svc := mustNotificationService(t, users, sender)

	err := svc.NotifyOrderUpdate(context.Background(), domain.Order{
		ID:     "ord_1",
		UserID: "user-1",
	}, domain.StatusChange{To: domain.OrderStatusDelivered})
	if err != nil {
		t.Fatalf("NotifyOrderUpdate: %v", err)
	}
	if len(users.removedTokens) != 0 {
		t.Fatalf("removed tokens = %+v, want none", users.removedTokens)
	}
}

func TestNotifyOrderUpdateNoTokensIsNoop(t *testing.T) {
	users := &stubUserRepository{profile: domain.UserProfile{ID: "user-1"}}
	sender := &stubPushSender{}
	svc := mustNotificationService(t, users, sender)

	err := svc.NotifyOrderUpdate(context.Background(), domain.Order{
		ID:     "ord_1",
		UserID: "user-1",
	}, domain.StatusChange{To: domain.OrderStatusConfirmed})
	if err != nil {
		t.Fatalf("NotifyOrderUpdate: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("sends = %d, want 0", len(sender.sent))
	}
}

// Test scaffolding ------------------------------------------------------------

func mustNotificationService(t *testing.T, users *stubUserRepository, sender *stubPushSender) NotificationService {
	t.Helper()
	svc, err := NewPushNotificationService(PushNotificationServiceDeps{
		Users:  users,
		Sender: sender,
	})
	if err != nil {
		t.Fatalf("NewPushNotificationService: %v", err)
	}
	return svc
}

type stubUserRepository struct {
	profile       domain.UserProfile
	err           error
	findErr       error
	addedTokens   []domain.DeviceToken
	removedTokens []string
}

func (s *stubUserRepository) FindByID(context.Context, string) (domain.UserProfile, error) {
	if s.findErr != nil {
		return domain.UserProfile{}, s.findErr
	}
	if s.err != nil {
		return domain.UserProfile{}, s.err
	}
	return s.profile, nil
}

func (s *stubUserRepository) UpdateProfile(_ context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	if s.err != nil {
		return domain.UserProfile{}, s.err
	}
	s.profile = profile
	return profile, nil
}

func (s *stubUserRepository) AddDeviceToken(_ context.Context, _ string, token domain.DeviceToken) error {
	if s.err != nil {
		return s.err
	}
	s.addedTokens = append(s.addedTokens, token)
	s.profile.DeviceTokens = append(s.profile.DeviceTokens, token)
	return nil
}

func (s *stubUserRepository) RemoveDeviceToken(_ context.Context, _ string, token string) error {
	if s.err != nil {
		return s.err
	}
	s.removedTokens = append(s.removedTokens, token)
	kept := s.profile.DeviceTokens[:0]
	for _, device := range s.profile.DeviceTokens {
		if device.Token != token {
			kept = append(kept, device)
		}
	}
	s.profile.DeviceTokens = kept
	return nil
}

type sentPush struct {
	token string
	msg   notify.PushMessage
}

type stubPushSender struct {
	failures map[string]error
	sent     []sentPush
}

func (s *stubPushSender) Send(_ context.Context, token string, msg notify.PushMessage) error {
	if err, ok := s.failures[token]; ok {
		return err
	}
	s.sent = append(s.sent, sentPush{token: token, msg: msg})
	return nil
}
