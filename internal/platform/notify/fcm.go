package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/fleetbite/api/internal/platform/config"
	"google.golang.org/api/option"
)

const defaultSendTimeout = 5 * time.Second

// ErrTokenInvalid marks device tokens the provider reports as permanently
// dead. Callers should prune such tokens; any other failure is transient.
var ErrTokenInvalid = errors.New("notify: device token invalid")

// PushMessage is one notification destined for a single device token.
type PushMessage struct {
	Title string
	Body  string
	Data  map[string]string
}

// FCMSender delivers push messages through Firebase Cloud Messaging.
type FCMSender struct {
	client  *messaging.Client
	timeout time.Duration
}

// FCMOption customises FCMSender instances.
type FCMOption func(*FCMSender)

// WithSendTimeout overrides the timeout used for FCM calls.
func WithSendTimeout(d time.Duration) FCMOption {
	return func(s *FCMSender) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewFCMSender constructs an FCMSender backed by the Firebase Admin SDK.
func NewFCMSender(ctx context.Context, cfg config.FirebaseConfig, opts ...FCMOption) (*FCMSender, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase messaging client: %w", err)
	}

	sender := &FCMSender{
		client:  client,
		timeout: defaultSendTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sender)
		}
	}
	return sender, nil
}

// Send delivers one message to one token. Permanently invalid tokens are
// reported as ErrTokenInvalid.
func (s *FCMSender) Send(ctx context.Context, token string, msg PushMessage) error {
	if s == nil || s.client == nil {
		return errors.New("notify: fcm sender not initialised")
	}
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	_, err := s.client.Send(ctx, &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
	})
	if err != nil {
		if messaging.IsUnregistered(err) {
			return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
		return err
	}
	return nil
}
