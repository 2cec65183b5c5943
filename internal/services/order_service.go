package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/fleetbite/api/internal/domain"
	"github.com/fleetbite/api/internal/geo"
	"github.com/fleetbite/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventCancelled     = "order.cancelled"

	orderIDPrefix      = "ord_"
	orderEventIDPrefix = "evt_"

	// orderNumberAttempts bounds the retry loop for number collisions.
	orderNumberAttempts = 3

	// defaultMinReorderSubtotal gates reorders whose current catalog prices
	// sum below a sensible basket size.
	defaultMinReorderSubtotal int64 = 1000
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates a rejected status transition.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderEmptyCart rejects placement from a cart without purchasable lines.
	ErrOrderEmptyCart = errors.New("order: cart is empty")
	// ErrOrderInvalidAddress rejects placement without a routable delivery address.
	ErrOrderInvalidAddress = errors.New("order: invalid delivery address")
	// ErrOrderBelowMinimum rejects reorders below the minimum basket value.
	ErrOrderBelowMinimum = errors.New("order: subtotal below minimum")
	// ErrOrderInsufficientStock aborts placement when any line cannot be reserved.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
)

// CacheInvalidator flushes read-side caches that embed order or stock data.
// Invalidation runs after the placement transaction commits and never blocks
// the order result.
type CacheInvalidator interface {
	InvalidateOrderCaches(ctx context.Context, userID string) error
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders             repositories.OrderRepository
	Carts              repositories.CartRepository
	Products           repositories.ProductRepository
	Stock              repositories.StockRepository
	Addresses          repositories.AddressRepository
	Counters           repositories.CounterRepository
	Locator            *geo.Locator
	Pricing            PricingEngine
	Promotions         PromotionService
	UnitOfWork         repositories.UnitOfWork
	Clock              func() time.Time
	IDGenerator        func() string
	Events             OrderEventPublisher
	Notifier           NotificationService
	Receipts           ReceiptArchiver
	Caches             CacheInvalidator
	Delivery           domain.DeliveryParams
	MinReorderSubtotal int64
	Logger             func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	carts       repositories.CartRepository
	products    repositories.ProductRepository
	stock       repositories.StockRepository
	addresses   repositories.AddressRepository
	counters    repositories.CounterRepository
	locator     *geo.Locator
	pricing     PricingEngine
	promotions  PromotionService
	unitOfWork  repositories.UnitOfWork
	clock       func() time.Time
	newID       func() string
	events      OrderEventPublisher
	notifier    NotificationService
	receipts    ReceiptArchiver
	caches      CacheInvalidator
	delivery    domain.DeliveryParams
	minReorder  int64
	sanitizer   *bluemonday.Policy
	logger      func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("order service: stock repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("order service: address repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Locator == nil {
		return nil, errors.New("order service: center locator is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing engine is required")
	}
	if deps.Promotions == nil {
		return nil, errors.New("order service: promotion service is required")
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

	delivery := deps.Delivery
	if delivery.AvgSpeedKmh <= 0 {
		delivery = domain.DefaultDeliveryParams()
	}

	minReorder := deps.MinReorderSubtotal
	if minReorder <= 0 {
		minReorder = defaultMinReorderSubtotal
	}

	return &orderService{
		orders:     deps.Orders,
		carts:      deps.Carts,
		products:   deps.Products,
		stock:      deps.Stock,
		addresses:  deps.Addresses,
		counters:   deps.Counters,
		locator:    deps.Locator,
		pricing:    deps.Pricing,
		promotions: deps.Promotions,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:      idGen,
		events:     deps.Events,
		notifier:   deps.Notifier,
		receipts:   deps.Receipts,
		caches:     deps.Caches,
		delivery:   delivery,
		minReorder: minReorder,
		sanitizer:  bluemonday.StrictPolicy(),
		logger:     logger,
	}, nil
}

// orderAssembly carries the resolved inputs of one placement attempt through
// the pipeline shared by CreateFromCart and Reorder.
type orderAssembly struct {
	userID      string
	items       []domain.CartItem
	addressID   string
	tipAmount   int64
	promoCode   string
	notes       string
	consumeCart bool
	minSubtotal int64
}

func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if cmd.TipAmount < 0 {
		return Order{}, fmt.Errorf("%w: tip amount must not be negative", ErrOrderInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if cart.IsEmpty() {
		return Order{}, ErrOrderEmptyCart
	}

	return s.assembleAndPlace(ctx, orderAssembly{
		userID:      userID,
		items:       cart.Items,
		addressID:   strings.TrimSpace(cmd.AddressID),
		tipAmount:   cmd.TipAmount,
		promoCode:   strings.TrimSpace(cmd.PromoCode),
		notes:       s.sanitizeText(cmd.Notes),
		consumeCart: true,
	})
}

func (s *orderService) Reorder(ctx context.Context, cmd ReorderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	sourceID := strings.TrimSpace(cmd.SourceOrderID)
	if sourceID == "" {
		return Order{}, fmt.Errorf("%w: source order id is required", ErrOrderInvalidInput)
	}
	if cmd.TipAmount < 0 {
		return Order{}, fmt.Errorf("%w: tip amount must not be negative", ErrOrderInvalidInput)
	}

	source, err := s.orders.FindByID(ctx, sourceID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if source.UserID != userID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, sourceID)
	}

	items := make([]domain.CartItem, 0, len(source.Lines))
	for _, line := range source.Lines {
		if line.Quantity <= 0 {
			continue
		}
		items = append(items, domain.CartItem{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
		})
	}
	if len(items) == 0 {
		return Order{}, ErrOrderEmptyCart
	}

	addressID := strings.TrimSpace(cmd.AddressID)
	if addressID == "" {
		addressID = source.Address.ID
	}

	return s.assembleAndPlace(ctx, orderAssembly{
		userID:      userID,
		items:       items,
		addressID:   addressID,
		tipAmount:   cmd.TipAmount,
		promoCode:   strings.TrimSpace(cmd.PromoCode),
		minSubtotal: s.minReorder,
	})
}

// assembleAndPlace runs the placement pipeline: resolve the destination, pick
// the dispatch center, price the basket, then atomically persist the order,
// reserve stock, record promo usage, and consume the cart.
func (s *orderService) assembleAndPlace(ctx context.Context, a orderAssembly) (Order, error) {
	address, err := s.resolveDeliveryAddress(ctx, a.userID, a.addressID)
	if err != nil {
		return Order{}, err
	}

	match, err := s.locator.NearestCenter(ctx, address.Coordinates, s.delivery.MaxRadiusKm)
	if err != nil {
		return Order{}, err
	}

	lines, subtotal, currency, err := s.resolveOrderLines(ctx, a.items)
	if err != nil {
		return Order{}, err
	}
	if a.minSubtotal > 0 && subtotal < a.minSubtotal {
		return Order{}, fmt.Errorf("%w: subtotal %d is below the required %d", ErrOrderBelowMinimum, subtotal, a.minSubtotal)
	}

	breakdown, err := s.pricing.Price(ctx, PriceRequest{
		Subtotal:   subtotal,
		DistanceKm: match.DistanceKm,
		TipAmount:  a.tipAmount,
	})
	if err != nil {
		return Order{}, err
	}

	var promo *Promotion
	if a.promoCode != "" {
		result, err := s.promotions.Validate(ctx, ValidatePromotionCommand{
			Code:        a.promoCode,
			UserID:      a.userID,
			Subtotal:    breakdown.ProductSubtotal,
			DeliveryFee: breakdown.DeliveryFee,
			ServiceFee:  breakdown.ServiceFee,
		})
		if err != nil {
			return Order{}, err
		}
		promo = valuePtr(result.Promotion)
		breakdown.Discount = result.Discount
		breakdown.DiscountScope = result.Promotion.Scope()
		breakdown.PromoCode = result.Promotion.Code
		breakdown.PromotionID = result.Promotion.ID
		breakdown.FinalAmount = breakdown.OriginalAmount - breakdown.Discount + breakdown.TipAmount
	}

	now := s.now()
	window := s.deliveryWindow(now, match)

	order := Order{
		ID:       s.nextOrderID(),
		UserID:   a.userID,
		CenterID: match.Center.ID,
		Status:   domain.OrderStatusAwaitingPayment,
		Lines:    lines,
		Charges:  breakdown,
		Currency: currency,
		Address:  address,
		Window:   window,
		History: []StatusChange{{
			To:        domain.OrderStatusAwaitingPayment,
			ActorID:   a.userID,
			ActorRole: RoleCustomer,
			At:        now,
		}},
		PlacedAt:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if a.notes != "" {
		order.Address.Instructions = a.notes
	}

	stockLines := make([]repositories.StockLine, 0, len(lines))
	for _, line := range lines {
		stockLines = append(stockLines, repositories.StockLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
		})
	}

	var placed Order
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		number, err := s.generateOrderNumber(ctx, now)
		if err != nil {
			return Order{}, err
		}
		order.Number = number

		err = s.runInTx(ctx, func(txCtx context.Context) error {
			// Reads precede every write: Firestore rejects a transactional
			// read once a write is buffered. Re-reading the cart inside the
			// transaction also makes concurrent placements for the same user
			// conflict instead of both consuming the cart.
			if a.consumeCart {
				current, err := s.carts.GetCart(txCtx, a.userID)
				if err != nil {
					if isRepoNotFound(err) {
						return ErrOrderEmptyCart
					}
					return s.mapRepositoryError(err)
				}
				if current.IsEmpty() {
					return ErrOrderEmptyCart
				}
			}
			if _, err := s.stock.Decrement(txCtx, repositories.StockDecrementRequest{
				CenterID: order.CenterID,
				OrderID:  order.ID,
				Lines:    stockLines,
			}); err != nil {
				return s.mapStockError(err)
			}
			if err := s.orders.Insert(txCtx, order); err != nil {
				return s.mapRepositoryError(err)
			}
			if promo != nil {
				if err := s.promotions.RecordUsage(txCtx, promo.ID, a.userID); err != nil {
					return err
				}
			}
			if a.consumeCart {
				if err := s.carts.Delete(txCtx, a.userID); err != nil {
					return s.mapRepositoryError(err)
				}
			}
			return nil
		})
		if err == nil {
			placed = order
			break
		}
		if errors.Is(err, ErrOrderConflict) && attempt < orderNumberAttempts-1 {
			s.logger(ctx, "order.number.collision", map[string]any{
				"number":  order.Number,
				"attempt": attempt + 1,
			})
			continue
		}
		return Order{}, err
	}
	if placed.ID == "" {
		return Order{}, fmt.Errorf("%w: could not allocate a unique order number", ErrOrderConflict)
	}

	s.invalidateCaches(ctx, placed.UserID)
	s.publishEvent(ctx, OrderEvent{
		EventID:    orderEventIDPrefix + s.newID(),
		Type:       orderEventCreated,
		OrderID:    placed.ID,
		Number:     placed.Number,
		UserID:     placed.UserID,
		Status:     placed.Status,
		OccurredAt: s.now(),
		Metadata:   map[string]string{"center": placed.CenterID},
	})
	s.logger(ctx, "order.created", map[string]any{
		"order":  placed.ID,
		"number": placed.Number,
		"center": placed.CenterID,
		"amount": placed.Charges.FinalAmount,
	})
	return placed, nil
}

func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !canReadOrder(order, cmd.ActorID, cmd.ActorRole) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := OrderStatus(strings.TrimSpace(string(cmd.TargetStatus)))
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	var (
		updated Order
		change  StatusChange
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
			return fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
		}

		rule, err := transitionRuleFor(order.Status, target, cmd.ActorRole)
		if err != nil {
			return err
		}

		change, err = s.applyStatusTransition(&order, rule, target, cmd, s.now())
		if err != nil {
			return err
		}

		if rule.restoresStock {
			if err := s.restoreStock(txCtx, order); err != nil {
				return err
			}
		}

		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		if rule.restoresCart {
			if err := s.recreateCart(txCtx, order); err != nil {
				return err
			}
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.afterTransition(ctx, updated, change)
	return updated, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	return s.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      cmd.OrderID,
		TargetStatus: domain.OrderStatusCancelled,
		ActorID:      cmd.ActorID,
		ActorRole:    cmd.ActorRole,
		Reason:       cmd.Reason,
	})
}

// applyStatusTransition mutates the order for an accepted transition and
// returns the history entry that was appended.
func (s *orderService) applyStatusTransition(order *Order, rule transitionRule, target OrderStatus, cmd OrderStatusTransitionCommand, now time.Time) (StatusChange, error) {
	actor := strings.TrimSpace(cmd.ActorID)

	if rule.ownerOnly && strings.EqualFold(cmd.ActorRole, RoleCustomer) && actor != order.UserID {
		return StatusChange{}, fmt.Errorf("%w: only the order owner may request %s", ErrOrderInvalidState, target)
	}

	if strings.EqualFold(cmd.ActorRole, RoleCourier) {
		if order.CourierID != "" && order.CourierID != actor {
			return StatusChange{}, fmt.Errorf("%w: order is assigned to another courier", ErrOrderConflict)
		}
	}
	if rule.bindsCourier && order.CourierID == "" {
		order.CourierID = actor
	}
	if rule.clearsCourier {
		order.CourierID = ""
	}

	change := StatusChange{
		From:      order.Status,
		To:        target,
		ActorID:   actor,
		ActorRole: strings.ToLower(strings.TrimSpace(cmd.ActorRole)),
		Reason:    s.sanitizeText(cmd.Reason),
		At:        now,
	}

	order.Status = target
	order.History = append(order.History, change)
	order.UpdatedAt = now
	if target == domain.OrderStatusDelivered {
		order.DeliveredAt = valuePtr(now)
	}
	if target == domain.OrderStatusCancelled || target == domain.OrderStatusFailed {
		if order.Payment != nil && order.Payment.Status == domain.PaymentStatusPending {
			order.Payment.Status = domain.PaymentStatusCancelled
		}
	}
	return change, nil
}

// afterTransition runs the best-effort fan-out once the transition committed:
// event publishing, push notification, promo usage release on cancellation,
// and receipt archiving on delivery.
func (s *orderService) afterTransition(ctx context.Context, order Order, change StatusChange) {
	if change.To == domain.OrderStatusCancelled {
		s.releasePromotionUsage(ctx, order)
	}
	s.publishEvent(ctx, OrderEvent{
		EventID:    orderEventIDPrefix + s.newID(),
		Type:       statusEventType(change.To),
		OrderID:    order.ID,
		Number:     order.Number,
		UserID:     order.UserID,
		Status:     change.To,
		PrevStatus: change.From,
		OccurredAt: change.At,
		Metadata:   map[string]string{"actor_role": change.ActorRole},
	})

	if s.notifier != nil {
		if err := s.notifier.NotifyOrderUpdate(ctx, order, change); err != nil {
			s.logger(ctx, "order.notify.failed", map[string]any{
				"order": order.ID,
				"to":    string(change.To),
				"error": err.Error(),
			})
		}
	}

	if change.To == domain.OrderStatusDelivered && s.receipts != nil {
		if ref, err := s.receipts.ArchiveReceipt(ctx, order); err != nil {
			s.logger(ctx, "order.receipt.archive.failed", map[string]any{
				"order": order.ID,
				"error": err.Error(),
			})
		} else {
			s.logger(ctx, "order.receipt.archived", map[string]any{
				"order":   order.ID,
				"receipt": ref,
			})
		}
	}
}

func statusEventType(target OrderStatus) string {
	if target == domain.OrderStatusCancelled {
		return orderEventCancelled
	}
	return orderEventStatusChanged
}

// resolveDeliveryAddress loads the requested address, or the user's default
// when none was named, and requires usable coordinates.
func (s *orderService) resolveDeliveryAddress(ctx context.Context, userID, addressID string) (Address, error) {
	if addressID != "" {
		address, err := s.addresses.Get(ctx, userID, addressID)
		if err != nil {
			if isRepoNotFound(err) {
				return Address{}, fmt.Errorf("%w: address %s not found", ErrOrderInvalidAddress, addressID)
			}
			return Address{}, s.mapRepositoryError(err)
		}
		if !address.Coordinates.Valid() {
			return Address{}, fmt.Errorf("%w: address %s has no usable coordinates", ErrOrderInvalidAddress, addressID)
		}
		return address, nil
	}

	list, err := s.addresses.List(ctx, userID)
	if err != nil {
		return Address{}, s.mapRepositoryError(err)
	}
	for _, address := range list {
		if address.IsDefault && address.Coordinates.Valid() {
			return address, nil
		}
	}
	return Address{}, fmt.Errorf("%w: no default delivery address with coordinates", ErrOrderInvalidAddress)
}

// resolveOrderLines prices every requested line against the current catalog.
func (s *orderService) resolveOrderLines(ctx context.Context, items []domain.CartItem) ([]OrderLine, int64, string, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.Quantity > 0 {
			ids = append(ids, item.ProductID)
		}
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, 0, "", s.mapRepositoryError(err)
	}

	lines := make([]OrderLine, 0, len(items))
	var subtotal int64
	currency := ""
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		product, ok := products[item.ProductID]
		if !ok || !product.Active {
			return nil, 0, "", fmt.Errorf("%w: product %s", ErrPricingProductUnavailable, item.ProductID)
		}
		if product.UnitPrice < 0 {
			return nil, 0, "", fmt.Errorf("%w: product %s has an invalid price", ErrPricingProductUnavailable, item.ProductID)
		}
		lineTotal := product.UnitPrice * int64(item.Quantity)
		lines = append(lines, OrderLine{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  item.Quantity,
			UnitPrice: product.UnitPrice,
			LineTotal: lineTotal,
		})
		subtotal += lineTotal
		if currency == "" {
			currency = product.Currency
		}
	}
	if len(lines) == 0 {
		return nil, 0, "", ErrOrderEmptyCart
	}
	if currency == "" {
		currency = "USD"
	}
	return lines, subtotal, currency, nil
}

// deliveryWindow quotes the arrival interval from prep time plus travel time
// at the configured average courier speed.
func (s *orderService) deliveryWindow(now time.Time, match geo.Match) DeliveryWindow {
	prep := match.Center.PrepTime
	if prep <= 0 {
		prep = s.delivery.DefaultPrepTime
	}
	travel := time.Duration(match.DistanceKm / s.delivery.AvgSpeedKmh * float64(time.Hour))
	arrival := now.Add(prep).Add(travel)
	return DeliveryWindow{
		EarliestAt: arrival.Add(-s.delivery.WindowBefore),
		LatestAt:   arrival.Add(s.delivery.WindowAfter),
	}
}

func (s *orderService) restoreStock(ctx context.Context, order Order) error {
	lines := make([]repositories.StockLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, repositories.StockLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
		})
	}
	if err := s.stock.Restore(ctx, repositories.StockRestoreRequest{
		CenterID: order.CenterID,
		OrderID:  order.ID,
		Lines:    lines,
	}); err != nil {
		return s.mapStockError(err)
	}
	return nil
}

// recreateCart hands a cancelled order's items back as the user's cart so
// they can adjust and place again.
func (s *orderService) recreateCart(ctx context.Context, order Order) error {
	items := make([]domain.CartItem, 0, len(order.Lines))
	for _, line := range order.Lines {
		items = append(items, domain.CartItem{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
		})
	}
	cart := domain.Cart{
		ID:       order.UserID,
		UserID:   order.UserID,
		Currency: order.Currency,
		Items:    items,
	}
	if _, err := s.carts.UpsertCart(ctx, cart); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

// releasePromotionUsage refunds a promo redemption once a cancellation
// committed, so the cancelled order does not burn the per-user cap.
func (s *orderService) releasePromotionUsage(ctx context.Context, order Order) {
	promoID := strings.TrimSpace(order.Charges.PromotionID)
	if promoID == "" {
		return
	}
	if err := s.promotions.ReleaseUsage(ctx, promoID, order.UserID); err != nil {
		s.logger(ctx, "order.promo.release.failed", map[string]any{
			"order": order.ID,
			"promo": promoID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	day := now.Format("20060102")
	seq, err := s.counters.Next(ctx, "orders-"+day, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("FB-%s-%06d", day, seq), nil
}

func canReadOrder(order Order, actorID, actorRole string) bool {
	switch strings.ToLower(strings.TrimSpace(actorRole)) {
	case RoleStaff, RoleAdmin, RoleSystem:
		return true
	case RoleCourier:
		return order.CourierID == actorID || order.Status == domain.OrderStatusReadyForDelivery
	default:
		return order.UserID == actorID
	}
}

// sanitizeText strips markup from free-text input before it is persisted on
// the order document or its history.
func (s *orderService) sanitizeText(value string) string {
	if s.sanitizer == nil {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(s.sanitizer.Sanitize(value))
}

func (s *orderService) mapRepositoryError(err error) error {
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
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) mapStockError(err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %v", ErrOrderInsufficientStock, err)
		case repositories.StockErrorNotFound:
			return fmt.Errorf("%w: %v", ErrOrderInsufficientStock, err)
		case repositories.StockErrorInvalidInput:
			return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
	}
	return err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func (s *orderService) invalidateCaches(ctx context.Context, userID string) {
	if s.caches == nil {
		return
	}
	if err := s.caches.InvalidateOrderCaches(ctx, userID); err != nil {
		s.logger(ctx, "order.cache.invalidate.failed", map[string]any{
			"user":  userID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func valuePtr[T any](v T) *T {
	return &v
}
