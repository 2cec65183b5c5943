package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/fleetbite/api/internal/domain"
	"github.com/fleetbite/api/internal/platform/notify"
	"github.com/fleetbite/api/internal/repositories"
)

// PushSender delivers one message to one device token.
type PushSender interface {
	Send(ctx context.Context, token string, msg notify.PushMessage) error
}

// PushNotificationServiceDeps bundles collaborators for the push fan-out.
type PushNotificationServiceDeps struct {
	Users  repositories.UserRepository
	Sender PushSender
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type pushNotificationService struct {
	users  repositories.UserRepository
	sender PushSender
	logger func(context.Context, string, map[string]any)
}

// NewPushNotificationService wires dependencies into a NotificationService
// that fans order updates out to the owner's registered devices.
func NewPushNotificationService(deps PushNotificationServiceDeps) (NotificationService, error) {
	if deps.Users == nil {
		return nil, errors.New("notification service: user repository is required")
	}
	if deps.Sender == nil {
		return nil, errors.New("notification service: push sender is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &pushNotificationService{
		users:  deps.Users,
		sender: deps.Sender,
		logger: logger,
	}, nil
}

// NotifyOrderUpdate delivers the status change to every device token the
// owner has registered. Permanently invalid tokens are pruned; transient
// delivery failures are logged and leave the token untouched.
func (s *pushNotificationService) NotifyOrderUpdate(ctx context.Context, order Order, change StatusChange) error {
	profile, err := s.users.FindByID(ctx, order.UserID)
	if err != nil {
		return fmt.Errorf("load recipient profile: %w", err)
	}
	if len(profile.DeviceTokens) == 0 {
		return nil
	}

	msg := orderStatusMessage(order, change)
	for _, device := range profile.DeviceTokens {
		err := s.sender.Send(ctx, device.Token, msg)
		if err == nil {
			continue
		}
		if errors.Is(err, notify.ErrTokenInvalid) {
			if removeErr := s.users.RemoveDeviceToken(ctx, profile.ID, device.Token); removeErr != nil {
				s.logger(ctx, "notification.token.prune.failed", map[string]any{
					"user":  profile.ID,
					"error": removeErr.Error(),
				})
			} else {
				s.logger(ctx, "notification.token.pruned", map[string]any{
					"user":     profile.ID,
					"platform": device.Platform,
				})
			}
			continue
		}
		s.logger(ctx, "notification.send.failed", map[string]any{
			"user":  profile.ID,
			"order": order.ID,
			"error": err.Error(),
		})
	}
	return nil
}

func orderStatusMessage(order Order, change StatusChange) notify.PushMessage {
	var body string
	switch change.To {
	case domain.OrderStatusPending:
		body = "We received your payment and your order is in the queue."
	case domain.OrderStatusConfirmed:
		body = "Your order is confirmed and being prepared."
	case domain.OrderStatusReadyForDelivery:
		body = "Your order is packed and waiting for a courier."
	case domain.OrderStatusOutForDelivery:
		body = "Your order is on its way."
	case domain.OrderStatusDelivered:
		body = "Your order was delivered. Enjoy!"
	case domain.OrderStatusCancelled:
		body = "Your order was cancelled."
	case domain.OrderStatusFailed:
		body = "There was a problem with your order payment."
	default:
		body = "Your order status changed to " + string(change.To) + "."
	}
	return notify.PushMessage{
		Title: "Order " + order.Number,
		Body:  body,
		Data: map[string]string{
			"order_id": order.ID,
			"status":   string(change.To),
		},
	}
}
