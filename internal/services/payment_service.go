package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/fleetbite/api/internal/domain"
	"github.com/fleetbite/api/internal/payments"
	"github.com/fleetbite/api/internal/repositories"
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentAlreadyPaid rejects initiating or re-applying a settled payment.
	ErrPaymentAlreadyPaid = errors.New("payment: order is already paid")
	// ErrPaymentNotSuccessful rejects confirmation while the provider has not settled.
	ErrPaymentNotSuccessful = errors.New("payment: provider has not settled the payment")
	// ErrPaymentEventRejected signals an unverifiable provider event payload.
	ErrPaymentEventRejected = errors.New("payment: provider event rejected")
)

// paymentGateway abstracts payments.Manager for easier testing.
type paymentGateway interface {
	CreateIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error)
	Cancel(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CancelRequest) (payments.PaymentDetails, error)
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error)
}

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Stock       repositories.StockRepository
	Promotions  PromotionService
	Gateway     paymentGateway
	Parsers     map[string]payments.WebhookParser
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Notifier    NotificationService
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders     repositories.OrderRepository
	carts      repositories.CartRepository
	stock      repositories.StockRepository
	promotions PromotionService
	gateway    paymentGateway
	parsers    map[string]payments.WebhookParser
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	notifier   NotificationService
	logger     func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("payment service: cart repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("payment service: stock repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: payment gateway is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	parsers := make(map[string]payments.WebhookParser, len(deps.Parsers))
	for key, parser := range deps.Parsers {
		key = strings.TrimSpace(strings.ToLower(key))
		if key == "" || parser == nil {
			return nil, fmt.Errorf("payment service: invalid webhook parser registration for key %q", key)
		}
		parsers[key] = parser
	}

	return &paymentService{
		orders:     deps.Orders,
		carts:      deps.Carts,
		stock:      deps.Stock,
		promotions: deps.Promotions,
		gateway:    deps.Gateway,
		parsers:    parsers,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		events:   deps.Events,
		notifier: deps.Notifier,
		logger:   logger,
	}, nil
}

func (s *paymentService) Initiate(ctx context.Context, cmd InitiatePaymentCommand) (PaymentIntentResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentIntentResult{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return PaymentIntentResult{}, fmt.Errorf("%w: user id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentIntentResult{}, s.mapRepositoryError(err)
	}
	if order.UserID != userID {
		return PaymentIntentResult{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if order.Payment != nil && order.Payment.Status == domain.PaymentStatusPaid {
		return PaymentIntentResult{}, ErrPaymentAlreadyPaid
	}
	if order.Status.IsTerminal() {
		return PaymentIntentResult{}, fmt.Errorf("%w: order is already %s", ErrOrderInvalidState, order.Status)
	}

	intent, err := s.gateway.CreateIntent(ctx, payments.PaymentContext{
		PreferredProvider: cmd.Provider,
		Currency:          order.Currency,
	}, payments.IntentRequest{
		Amount:      order.Charges.FinalAmount,
		Currency:    order.Currency,
		Description: "Order " + order.Number,
		Metadata: map[string]string{
			"order_id":     order.ID,
			"order_number": order.Number,
			"user_id":      order.UserID,
		},
		IdempotencyKey: order.ID,
	})
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return PaymentIntentResult{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
		}
		return PaymentIntentResult{}, err
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if current.Payment != nil && current.Payment.Status == domain.PaymentStatusPaid {
			return ErrPaymentAlreadyPaid
		}
		current.Payment = &domain.PaymentState{
			IntentID: intent.ID,
			Provider: intent.Provider,
			Status:   domain.PaymentStatusPending,
			Amount:   intent.Amount,
			Currency: intent.Currency,
		}
		current.UpdatedAt = s.now()
		if err := s.orders.Update(txCtx, current); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return PaymentIntentResult{}, err
	}

	s.logger(ctx, "payment.initiated", map[string]any{
		"order":    order.ID,
		"intent":   intent.ID,
		"provider": intent.Provider,
		"amount":   intent.Amount,
	})
	return PaymentIntentResult{
		OrderID:      order.ID,
		IntentID:     intent.ID,
		Provider:     intent.Provider,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
	}, nil
}

func (s *paymentService) Confirm(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.UserID != userID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if order.Payment == nil || order.Payment.IntentID == "" {
		return Order{}, fmt.Errorf("%w: no payment intent on order", ErrPaymentInvalidInput)
	}
	if intentID := strings.TrimSpace(cmd.IntentID); intentID != "" && intentID != order.Payment.IntentID {
		return Order{}, fmt.Errorf("%w: intent does not belong to order", ErrPaymentInvalidInput)
	}
	if order.Payment.Status == domain.PaymentStatusPaid {
		return order, nil
	}

	details, err := s.gateway.LookupPayment(ctx, payments.PaymentContext{
		PreferredProvider: order.Payment.Provider,
		Currency:          order.Currency,
	}, payments.LookupRequest{IntentID: order.Payment.IntentID})
	if err != nil {
		return Order{}, err
	}
	if details.Status != payments.StatusSucceeded {
		return Order{}, fmt.Errorf("%w: provider status is %s", ErrPaymentNotSuccessful, details.Status)
	}

	updated, change, applied, err := s.applySettlement(ctx, order.Payment.IntentID, settlement{
		succeeded: true,
		target:    domain.OrderStatusPending,
	})
	if err != nil {
		return Order{}, err
	}
	if applied {
		s.afterSettlement(ctx, updated, change)
	}
	return updated, nil
}

func (s *paymentService) CancelByIntent(ctx context.Context, cmd CancelByIntentCommand) error {
	intentID := strings.TrimSpace(cmd.IntentID)
	if intentID == "" {
		return fmt.Errorf("%w: intent id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByPaymentIntent(ctx, intentID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if requester := strings.TrimSpace(cmd.RequesterID); requester != "" && order.UserID != requester {
		return fmt.Errorf("%w: intent %s", ErrOrderNotFound, intentID)
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("%w: order is already %s", ErrOrderInvalidState, order.Status)
	}

	if _, err := s.gateway.Cancel(ctx, payments.PaymentContext{
		PreferredProvider: order.Payment.Provider,
		Currency:          order.Currency,
	}, payments.CancelRequest{
		IntentID: intentID,
		Reason:   cmd.Reason,
	}); err != nil {
		return err
	}

	var (
		updated Order
		change  StatusChange
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		// Reads first, writes after: the in-transaction intent lookup and
		// the stock snapshot must complete before the order, stock, and
		// cart writes are buffered.
		current, err := s.orders.FindByPaymentIntent(txCtx, intentID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if current.Status.IsTerminal() {
			return fmt.Errorf("%w: order is already %s", ErrOrderInvalidState, current.Status)
		}

		now := s.now()
		change = StatusChange{
			From:      current.Status,
			To:        domain.OrderStatusCancelled,
			ActorID:   current.UserID,
			ActorRole: RoleCustomer,
			Reason:    strings.TrimSpace(cmd.Reason),
			At:        now,
		}
		current.Status = domain.OrderStatusCancelled
		current.History = append(current.History, change)
		current.UpdatedAt = now
		if current.Payment != nil {
			current.Payment.Status = domain.PaymentStatusCancelled
		}

		items := make([]domain.CartItem, 0, len(current.Lines))
		lines := make([]repositories.StockLine, 0, len(current.Lines))
		for _, line := range current.Lines {
			items = append(items, domain.CartItem{
				ProductID: line.ProductID,
				Name:      line.Name,
				Quantity:  line.Quantity,
			})
			lines = append(lines, repositories.StockLine{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
			})
		}
		if err := s.stock.Restore(txCtx, repositories.StockRestoreRequest{
			CenterID: current.CenterID,
			OrderID:  current.ID,
			Lines:    lines,
		}); err != nil {
			return err
		}

		if err := s.orders.Update(txCtx, current); err != nil {
			return s.mapRepositoryError(err)
		}
		if _, err := s.carts.UpsertCart(txCtx, domain.Cart{
			ID:       current.UserID,
			UserID:   current.UserID,
			Currency: current.Currency,
			Items:    items,
		}); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = current
		return nil
	})
	if err != nil {
		return err
	}

	s.releasePromotionUsage(ctx, updated)
	s.afterSettlement(ctx, updated, change)
	s.logger(ctx, "payment.intent.cancelled", map[string]any{
		"order":  updated.ID,
		"intent": intentID,
	})
	return nil
}

func (s *paymentService) OnProviderEvent(ctx context.Context, cmd ProviderEventCommand) error {
	parser, err := s.parserFor(cmd.Provider)
	if err != nil {
		return err
	}

	event, err := parser.ParseEvent(cmd.Payload, cmd.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPaymentEventRejected, err)
	}

	switch event.Type {
	case payments.EventPaymentSucceeded:
		updated, change, applied, err := s.applySettlement(ctx, event.IntentID, settlement{
			succeeded: true,
			target:    domain.OrderStatusConfirmed,
		})
		if err != nil {
			return err
		}
		if applied {
			s.afterSettlement(ctx, updated, change)
		}
		return nil
	case payments.EventPaymentFailed:
		updated, change, applied, err := s.applySettlement(ctx, event.IntentID, settlement{
			succeeded:   false,
			target:      domain.OrderStatusFailed,
			failureCode: event.FailureCode,
		})
		if err != nil {
			return err
		}
		if applied {
			s.afterSettlement(ctx, updated, change)
		}
		return nil
	default:
		s.logger(ctx, "payment.event.ignored", map[string]any{
			"provider": event.Provider,
			"type":     event.Type,
			"event":    event.ID,
		})
		return nil
	}
}

// settlement describes how a provider outcome maps onto the order.
type settlement struct {
	succeeded   bool
	target      OrderStatus
	failureCode string
}

// applySettlement applies a provider outcome against a freshly read order in
// one transaction. Re-applying an already recorded outcome is a no-op.
func (s *paymentService) applySettlement(ctx context.Context, intentID string, outcome settlement) (Order, StatusChange, bool, error) {
	var (
		updated Order
		change  StatusChange
		applied bool
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByPaymentIntent(txCtx, intentID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if order.Payment == nil {
			return fmt.Errorf("%w: no payment intent on order", ErrPaymentInvalidInput)
		}

		now := s.now()
		if outcome.succeeded {
			if order.Payment.Status == domain.PaymentStatusPaid {
				updated = order
				return nil
			}
			order.Payment.Status = domain.PaymentStatusPaid
			order.Payment.ReceivedAt = valuePtr(now)
		} else {
			if order.Payment.Status == domain.PaymentStatusFailed {
				updated = order
				return nil
			}
			order.Payment.Status = domain.PaymentStatusFailed
			order.Payment.FailureCode = outcome.failureCode
			order.Payment.ReceivedAt = valuePtr(now)
		}

		if !order.Status.IsTerminal() && order.Status != outcome.target {
			if _, err := transitionRuleFor(order.Status, outcome.target, RoleSystem); err == nil {
				change = StatusChange{
					From:      order.Status,
					To:        outcome.target,
					ActorRole: RoleSystem,
					At:        now,
				}
				order.Status = outcome.target
				order.History = append(order.History, change)
			}
		}
		order.UpdatedAt = now

		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = order
		applied = true
		return nil
	})
	if err != nil {
		return Order{}, StatusChange{}, false, err
	}
	return updated, change, applied, nil
}

// releasePromotionUsage refunds the order's promo redemption once its
// cancellation committed. Best effort; a failure only costs the user one
// slot of the per-user cap.
func (s *paymentService) releasePromotionUsage(ctx context.Context, order Order) {
	if s.promotions == nil {
		return
	}
	promoID := strings.TrimSpace(order.Charges.PromotionID)
	if promoID == "" {
		return
	}
	if err := s.promotions.ReleaseUsage(ctx, promoID, order.UserID); err != nil {
		s.logger(ctx, "payment.promo.release.failed", map[string]any{
			"order": order.ID,
			"promo": promoID,
			"error": err.Error(),
		})
	}
}

// afterSettlement runs the best-effort fan-out once a settlement committed.
func (s *paymentService) afterSettlement(ctx context.Context, order Order, change StatusChange) {
	if change.To == "" {
		return
	}
	if s.events != nil {
		event := OrderEvent{
			EventID:    orderEventIDPrefix + s.newID(),
			Type:       statusEventType(change.To),
			OrderID:    order.ID,
			Number:     order.Number,
			UserID:     order.UserID,
			Status:     change.To,
			PrevStatus: change.From,
			OccurredAt: change.At,
			Metadata:   map[string]string{"actor_role": change.ActorRole},
		}
		if err := s.events.PublishOrderEvent(ctx, event); err != nil {
			s.logger(ctx, "payment.event.publish.failed", map[string]any{
				"order": order.ID,
				"type":  event.Type,
				"error": err.Error(),
			})
		}
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyOrderUpdate(ctx, order, change); err != nil {
			s.logger(ctx, "payment.notify.failed", map[string]any{
				"order": order.ID,
				"to":    string(change.To),
				"error": err.Error(),
			})
		}
	}
}

func (s *paymentService) parserFor(provider string) (payments.WebhookParser, error) {
	key := strings.TrimSpace(strings.ToLower(provider))
	if key == "" && len(s.parsers) == 1 {
		for _, parser := range s.parsers {
			return parser, nil
		}
	}
	parser, ok := s.parsers[key]
	if !ok {
		return nil, fmt.Errorf("%w: no webhook parser for provider %q", ErrPaymentInvalidInput, provider)
	}
	return parser, nil
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *paymentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *paymentService) now() time.Time {
	return s.clock()
}
