package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/fleetbite/api/internal/domain"
	"github.com/fleetbite/api/internal/payments"
)

var paymentTestClock = func() time.Time {
	return time.Date(2024, time.June, 2, 9, 30, 0, 0, time.UTC)
}

func TestInitiateCreatesIntentAndBindsOrder(t *testing.T) {
	fix := newPaymentFixture(t)
	fix.orders.seed(domain.Order{
		ID:       "ord_1",
		Number:   "FB-20240602-000001",
		UserID:   "user-1",
		Status:   domain.OrderStatusAwaitingPayment,
		Currency: "USD",
		Charges:  domain.ChargeBreakdown{FinalAmount: 2950},
	})
	fix.gateway.intent = payments.Intent{
		ID:           "pi_1",
		Provider:     "stripe",
		ClientSecret: "pi_1_secret",
		Amount:       2950,
		Currency:     "USD",
	}

	result, err := fix.service.Initiate(context.Background(), InitiatePaymentCommand{
		OrderID: "ord_1",
		UserID:  "user-1",
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if result.IntentID != "pi_1" || result.ClientSecret != "pi_1_secret" {
		t.Fatalf("result = %+v", result)
	}
	if len(fix.gateway.created) != 1 {
		t.Fatalf("intents created = %d, want 1", len(fix.gateway.created))
	}
	req := fix.gateway.created[0]
	if req.Amount != 2950 || req.Metadata["order_id"] != "ord_1" {
		t.Fatalf("intent request = %+v", req)
	}

	stored := fix.orders.orders["ord_1"]
	if stored.Payment == nil || stored.Payment.IntentID != "pi_1" {
		t.Fatalf("payment = %+v", stored.Payment)
	}
	if stored.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("payment status = %s", stored.Payment.Status)
	}
}

func TestInitiateRejectsAlreadyPaidOrder(t *testing.T) {
	fix := newPaymentFixture(t)
	fix.orders.seed(domain.Order{
		ID:      "ord_1",
		UserID:  "user-1",
		Status:  domain.OrderStatusPending,
		Payment: &domain.PaymentState{IntentID: "pi_1", Status: domain.PaymentStatusPaid},
	})

	_, err := fix.service.Initiate(context.Background(), InitiatePaymentCommand{
		OrderID: "ord_1",
		UserID:  "user-1",
	})
	if !errors.Is(err, ErrPaymentAlreadyPaid) {
		t.Fatalf("error = %v, want ErrPaymentAlreadyPaid", err)
	}
	if len(fix.gateway.created) != 0 {
		t.Fatalf("intents created = %d, want 0", len(fix.gateway.created))
	}
}

func TestConfirmAppliesProviderSuccess(t *testing.T) {
	fix := newPaymentFixture(t)
	fix.orders.seed(domain.Order{
		ID:      "ord_1",
		UserID:  "user-1",
		Status:  domain.OrderStatusAwaitingPayment,
		Payment: &domain.PaymentState{IntentID: "pi_1", Provider: "stripe", Status: domain.PaymentStatusPending},
	})
	fix.gateway.details = payments.PaymentDetails{IntentID: "pi_1", Status: payments.StatusSucceeded}

	order, err := fix.service.Confirm(context.Background(), ConfirmPaymentCommand{
		OrderID: "ord_1",
		UserID:  "user-1",
	})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("status = %s, want pending", order.Status)
	}
	if order.Payment.Status != domain.PaymentStatusPaid {
		t.Fatalf("payment status = %s", order.Payment.Status)
	}
	if order.Payment.ReceivedAt == nil {
		t.Fatal("receivedAt not set")
	}
	if len(fix.notifier.changes) != 1 || fix.notifier.changes[0].To != domain.OrderStatusPending {
		t.Fatalf("notifications = %+v", fix.notifier.changes)
	}
}

func TestConfirmRejectsUnsettledPayment(t *testing.T) {
	fix := newPaymentFixture(t)
	fix.orders.seed(domain.Order{
		ID:      "ord_1",
		UserID:  "user-1",
		Status:  domain.OrderStatusAwaitingPayment,
		Payment: &domain.PaymentState{IntentID: "pi_1", Status: domain.PaymentStatusPending},
	})
	fix.gateway.details = payments.PaymentDetails{IntentID: "pi_1", Status: payments.StatusPending}

	_, err := fix.service.Confirm(context.Background(), ConfirmPaymentCommand{
		OrderID: "ord_1",
		UserID:  "user-1",
	})
	if !errors.Is(err, ErrPaymentNotSuccessful) {
		t.Fatalf("error = %v, want ErrPaymentNotSuccessful", err)
	}
	stored := fix.orders.orders["ord_1"]
	if stored.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("payment status = %s, want untouched", stored.Payment.Status)
	}
}

func TestConfirmIsIdempotentWhenAlreadyPaid(t *testing.T) {
	fix := newPaymentFixture(t)
	fix.orders.seed(domain.Order{
		ID:      "ord_1",
		UserID:  "user-1",
		Status:  domain.OrderStatusPending,
		Payment: &domain.PaymentState{IntentID: "pi_1", Status: domain.PaymentStatusPaid},
	})

	order, err := fix.service.Confirm(context.Background(), ConfirmPaymentCommand{
		OrderID: "ord_1",
		UserID:  "user-1",
	})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("status = %s", order.Status)
	}
	if fix.gateway.lookups != 0 {
		t.Fatalf("provider lookups = %d, want 0", fix.gateway.lookups)
	}
}

func TestCancelByIntentRestoresCartAndStock(t *testing.T) {
	fix := newPaymentFixture(t)
	fix.orders.seed(domain.Order{
		ID:       "ord_1",
		UserID:   "user-1",
		CenterID: "center-1",
		Status:   domain.OrderStatusPending,
		Lines: []domain.OrderLine{
			{ProductID: "prod-1", Name: "Burrito", Quantity: 2},
		},
		Payment: &domain.PaymentState{IntentID: "pi_1", Provider: "stripe", Status: domain.PaymentStatusPending},
	})

	err := fix.service.CancelByIntent(context.Background(), CancelByIntentCommand{
		IntentID:    "pi_1",
		RequesterID: "user-1",
		Reason:      "ordered by mistake",
	})
	if err != nil {
		t.Fatalf("CancelByIntent: %v", err)
	}

	if len(fix.gateway.cancelled) != 1 || fix.gateway.cancelled[0] != "pi_1" {
		t.Fatalf("provider cancels = %+v", fix.gateway.cancelled)
	}
	stored := fix.orders.orders["ord_1"]
	if stored.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s", stored.Status)
	}
	if stored.Payment.Status != domain.PaymentStatusCancelled {
		t.Fatalf("payment status = %s", stored.Payment.Status)
	}
	if len(fix.carts.cart.Items) != 1 || fix.carts.cart.Items[0].ProductID != "prod-1" || fix.carts.cart.Items[0].Quantity != 2 {
		t.Fatalf("restored cart = %+v", fix.carts.cart)
	}
	if len(fix.stock.restores) != 1 || fix.stock.restores[0].Lines[0].Quantity != 2 {
		t.Fatalf("restores = %+v", fix.stock.restores)
	}
}

func TestCancelByIntentReleasesPromotionUsage(t *testing.T) {
	fix := newPaymentFixture(t)
	fix.usage.usage = domain.PromotionUsage{PromotionID: "promo-1", UserID: "user-1", Times: 1}
	fix.orders.seed(domain.Order{
		ID:       "ord_1",
		UserID:   "user-1",
		CenterID: "center-1",
		Status:   domain.OrderStatusPending,
		Lines:    []domain.OrderLine{{ProductID: "prod-1", Quantity: 1}},
		Charges:  domain.ChargeBreakdown{PromoCode: "SAVE10", PromotionID: "promo-1"},
		Payment:  &domain.PaymentState{IntentID: "pi_1", Provider: "stripe", Status: domain.PaymentStatusPending},
	})

	err := fix.service.CancelByIntent(context.Background(), CancelByIntentCommand{
		IntentID:    "pi_1",
		RequesterID: "user-1",
	})
	if err != nil {
		t.Fatalf("CancelByIntent: %v", err)
	}
	if fix.usage.removals != 1 {
		t.Fatalf("usage removals = %d, want 1", fix.usage.removals)
	}
}

func TestCancelByIntentRejectsForeignRequester(t *testing.T) {
	fix := newPaymentFixture(t)
	fix.orders.seed(domain.Order{
		ID:      "ord_1",
		UserID:  "user-1",
		Status:  domain.OrderStatusPending,
		Payment: &domain.PaymentState{IntentID: "pi_1", Status: domain.PaymentStatusPending},
	})

	err := fix.service.CancelByIntent(context.Background(), CancelByIntentCommand{
		IntentID:    "pi_1",
		RequesterID: "user-2",
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("error = %v, want ErrOrderNotFound", err)
	}
	if len(fix.gateway.cancelled) != 0 {
		t.Fatalf("provider cancels = %d, want 0", len(fix.gateway.cancelled))
	}
}

func TestCancelByIntentRejectsTerminalOrder(t *testing.T) {
	fix := newPaymentFixture(t)
	fix.orders.seed(domain.Order{
		ID:      "ord_1",
		UserID:  "user-1",
		Status:  domain.OrderStatusDelivered,
		Payment: &domain.PaymentState{IntentID: "pi_1", Status: domain.PaymentStatusPaid},
	})

	err := fix.service.CancelByIntent(context.Background(), CancelByIntentCommand{
		IntentID:    "pi_1",
		RequesterID: "user-1",
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("error = %v, want ErrOrderInvalidState", err)
	}
}

func TestOnProviderEventSucceededConfirmsOrderOnce(t *testing.T) {
	fix := newPaymentFixture(t)
	fix.orders.seed(domain.Order{
		ID:      "ord_1",
		UserID:  "user-1",
		Status:  domain.OrderStatusAwaitingPayment,
		Payment: &domain.PaymentState{IntentID: "pi_1", Provider: "stripe", Status: domain.PaymentStatusPending},
	})
	fix.parser.event = payments.ProviderEvent{
		ID:       "evt_1",
		Type:     payments.EventPaymentSucceeded,
		Provider: "stripe",
		IntentID: "pi_1",
	}

	cmd := ProviderEventCommand{Provider: "stripe", Payload: []byte(`{}`), Signature: "sig"}
	if err := fix.service.OnProviderEvent(context.Background(), cmd); err != nil {
		t.Fatalf("OnProviderEvent: %v", err)
	}

	stored := fix.orders.orders["ord_1"]
	if stored.Status != domain.OrderStatusConfirmed {
		t.Fatalf("status = %s, want confirmed", stored.Status)
	}
	if stored.Payment.Status != domain.PaymentStatusPaid {
		t.Fatalf("payment status = %s", stored.Payment.Status)
	}
	historyLen := len(stored.History)

	// Redelivered events must not change anything further.
	if err := fix.service.OnProviderEvent(context.Background(), cmd); err != nil {
		t.Fatalf("OnProviderEvent redelivery: %v", err)
	}
	stored = fix.orders.orders["ord_1"]
	if len(stored.History) != historyLen {
		t.Fatalf("history grew on redelivery: %d -> %d", historyLen, len(stored.History))
	}
	if len(fix.notifier.changes) != 1 {
		t.Fatalf("notifications = %d, want 1", len(fix.notifier.changes))
	}
}

func TestOnProviderEventFailedFailsOrder(t *testing.T) {
	fix := newPaymentFixture(t)
	fix.orders.seed(domain.Order{
		ID:      "ord_1",
		UserID:  "user-1",
		Status:  domain.OrderStatusAwaitingPayment,
		Payment: &domain.PaymentState{IntentID: "pi_1", Status: domain.PaymentStatusPending},
	})
	fix.parser.event = payments.ProviderEvent{
		ID:          "evt_2",
		Type:        payments.EventPaymentFailed,
		IntentID:    "pi_1",
		FailureCode: "card_declined",
	}

	err := fix.service.OnProviderEvent(context.Background(), ProviderEventCommand{
		Provider: "stripe",
		Payload:  []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("OnProviderEvent: %v", err)
	}
	stored := fix.orders.orders["ord_1"]
	if stored.Status != domain.OrderStatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if stored.Payment.Status != domain.PaymentStatusFailed || stored.Payment.FailureCode != "card_declined" {
		t.Fatalf("payment = %+v", stored.Payment)
	}
}

func TestOnProviderEventIgnoresUnknownTypes(t *testing.T) {
	fix := newPaymentFixture(t)
	fix.orders.seed(domain.Order{
		ID:      "ord_1",
		UserID:  "user-1",
		Status:  domain.OrderStatusAwaitingPayment,
		Payment: &domain.PaymentState{IntentID: "pi_1", Status: domain.PaymentStatusPending},
	})
	fix.parser.event = payments.ProviderEvent{ID: "evt_3", Type: payments.EventIgnored}

	err := fix.service.OnProviderEvent(context.Background(), ProviderEventCommand{
		Provider: "stripe",
		Payload:  []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("OnProviderEvent: %v", err)
	}
	if stored := fix.orders.orders["ord_1"]; stored.Status != domain.OrderStatusAwaitingPayment {
		t.Fatalf("status = %s, want untouched", stored.Status)
	}
}

func TestOnProviderEventRejectsBadSignature(t *testing.T) {
	fix := newPaymentFixture(t)
	fix.parser.err = errors.New("signature mismatch")

	err := fix.service.OnProviderEvent(context.Background(), ProviderEventCommand{
		Provider:  "stripe",
		Payload:   []byte(`{}`),
		Signature: "bad",
	})
	if !errors.Is(err, ErrPaymentEventRejected) {
		t.Fatalf("error = %v, want ErrPaymentEventRejected", err)
	}
}

// Test scaffolding ------------------------------------------------------------

type paymentFixture struct {
	service  PaymentService
	orders   *stubOrderRepository
	carts    *stubCartRepository
	stock    *stubStockRepository
	usage    *stubPromotionUsageRepository
	gateway  *fakePaymentGateway
	parser   *fakeWebhookParser
	notifier *captureNotifier
	events   *captureOrderEvents
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()

	fix := &paymentFixture{
		orders:   &stubOrderRepository{},
		carts:    &stubCartRepository{},
		stock:    &stubStockRepository{},
		usage:    &stubPromotionUsageRepository{},
		gateway:  &fakePaymentGateway{},
		parser:   &fakeWebhookParser{},
		notifier: &captureNotifier{},
		events:   &captureOrderEvents{},
	}

	promotions, err := NewPromotionService(PromotionServiceDeps{
		Promotions: &stubPromotionRepository{err: &stubPromotionRepoError{notFound: true}},
		Usage:      fix.usage,
		Clock:      paymentTestClock,
	})
	if err != nil {
		t.Fatalf("NewPromotionService: %v", err)
	}

	service, err := NewPaymentService(PaymentServiceDeps{
		Orders:     fix.orders,
		Carts:      fix.carts,
		Stock:      fix.stock,
		Promotions: promotions,
		Gateway:    fix.gateway,
		Parsers:    map[string]payments.WebhookParser{"stripe": fix.parser},
		Clock:      paymentTestClock,
		Events:     fix.events,
		Notifier:   fix.notifier,
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	fix.service = service
	return fix
}

type fakePaymentGateway struct {
	intent    payments.Intent
	details   payments.PaymentDetails
	createErr error
	cancelErr error
	lookupErr error
	created   []payments.IntentRequest
	cancelled []string
	lookups   int
}

func (f *fakePaymentGateway) CreateIntent(_ context.Context, _ payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error) {
	if f.createErr != nil {
		return payments.Intent{}, f.createErr
	}
	f.created = append(f.created, req)
	return f.intent, nil
}

func (f *fakePaymentGateway) Cancel(_ context.Context, _ payments.PaymentContext, req payments.CancelRequest) (payments.PaymentDetails, error) {
	if f.cancelErr != nil {
		return payments.PaymentDetails{}, f.cancelErr
	}
	f.cancelled = append(f.cancelled, req.IntentID)
	return payments.PaymentDetails{IntentID: req.IntentID, Status: payments.StatusCancelled}, nil
}

func (f *fakePaymentGateway) LookupPayment(_ context.Context, _ payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error) {
	f.lookups++
	if f.lookupErr != nil {
		return payments.PaymentDetails{}, f.lookupErr
	}
	return f.details, nil
}

type fakeWebhookParser struct {
	event payments.ProviderEvent
	err   error
}

func (f *fakeWebhookParser) ParseEvent([]byte, string) (payments.ProviderEvent, error) {
	if f.err != nil {
		return payments.ProviderEvent{}, f.err
	}
	return f.event, nil
}
