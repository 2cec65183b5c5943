package services

import (
	"context"
	"time"

	domain "github.com/fleetbite/api/internal/domain"
	"github.com/fleetbite/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	LatLng             = domain.LatLng
	Address            = domain.Address
	UserProfile        = domain.UserProfile
	DeviceToken        = domain.DeviceToken
	Product            = domain.Product
	StockLevel         = domain.StockLevel
	FulfillmentCenter  = domain.FulfillmentCenter
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	Promotion          = domain.Promotion
	PromotionType      = domain.PromotionType
	PromotionUsage     = domain.PromotionUsage
	ChargeBreakdown    = domain.ChargeBreakdown
	OrderStatus        = domain.OrderStatus
	OrderLine          = domain.OrderLine
	StatusChange       = domain.StatusChange
	PaymentState       = domain.PaymentState
	DeliveryWindow     = domain.DeliveryWindow
	Order              = domain.Order
	OrderEvent         = domain.OrderEvent
	SystemHealthReport = domain.SystemHealthReport
)

// CartService manages mutable cart state for a single user.
type CartService interface {
	GetOrCreateCart(ctx context.Context, userID string) (Cart, error)
	UpsertItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// PricingEngine computes delivery charges from cart contents, distance, and promotions.
type PricingEngine interface {
	Price(ctx context.Context, req PriceRequest) (ChargeBreakdown, error)
	PreviewCharges(ctx context.Context, cmd ChargesPreviewCommand) (ChargeBreakdown, error)
}

// PromotionService validates promo codes against order context and manages promotions.
type PromotionService interface {
	Validate(ctx context.Context, cmd ValidatePromotionCommand) (PromotionValidationResult, error)
	RecordUsage(ctx context.Context, promotionID string, userID string) error
	ReleaseUsage(ctx context.Context, promotionID string, userID string) error
	CreatePromotion(ctx context.Context, cmd UpsertPromotionCommand) (Promotion, error)
	UpdatePromotion(ctx context.Context, cmd UpsertPromotionCommand) (Promotion, error)
	ListPromotions(ctx context.Context, filter PromotionListFilter) (domain.CursorPage[Promotion], error)
}

// OrderService encapsulates order placement, reads, and status lifecycle.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (Order, error)
	Reorder(ctx context.Context, cmd ReorderCommand) (Order, error)
	GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// PaymentService bridges orders to the PSP and applies provider outcomes.
type PaymentService interface {
	Initiate(ctx context.Context, cmd InitiatePaymentCommand) (PaymentIntentResult, error)
	Confirm(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error)
	CancelByIntent(ctx context.Context, cmd CancelByIntentCommand) error
	OnProviderEvent(ctx context.Context, cmd ProviderEventCommand) error
}

// UserService manages profile, address, and device token surfaces.
type UserService interface {
	GetProfile(ctx context.Context, userID string) (UserProfile, error)
	UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (UserProfile, error)
	RegisterDeviceToken(ctx context.Context, cmd RegisterDeviceTokenCommand) error
	RemoveDeviceToken(ctx context.Context, userID string, token string) error
	ListAddresses(ctx context.Context, userID string) ([]Address, error)
	UpsertAddress(ctx context.Context, cmd UpsertAddressCommand) (Address, error)
	DeleteAddress(ctx context.Context, cmd DeleteAddressCommand) error
}

// NotificationService fans order updates out to the order actors' registered devices.
type NotificationService interface {
	NotifyOrderUpdate(ctx context.Context, order Order, change StatusChange) error
}

// OrderEventPublisher accepts order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// ReceiptArchiver persists a durable receipt document for completed orders.
type ReceiptArchiver interface {
	ArchiveReceipt(ctx context.Context, order Order) (string, error)
}

// SystemService aggregates utility endpoints (health checks, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// Command and DTO definitions ------------------------------------------------

type UpsertCartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

type RemoveCartItemCommand struct {
	UserID    string
	ProductID string
}

// PriceRequest carries the already-resolved inputs for a fee computation.
type PriceRequest struct {
	Subtotal   int64
	DistanceKm float64
	TipAmount  int64
	Promotion  *Promotion
}

// ChargesPreviewCommand resolves cart, address, and promo before pricing.
type ChargesPreviewCommand struct {
	UserID    string
	AddressID string
	TipAmount int64
	PromoCode string
}

type ValidatePromotionCommand struct {
	Code        string
	UserID      string
	Subtotal    int64
	DeliveryFee int64
	ServiceFee  int64
}

// PromotionValidationResult reports the matched promotion and the discount it grants.
type PromotionValidationResult struct {
	Promotion Promotion
	Discount  int64
}

type PromotionListFilter = repositories.PromotionListFilter

type UpsertPromotionCommand struct {
	Promotion Promotion
	ActorID   string
}

type OrderListFilter = repositories.OrderListFilter

type CreateOrderFromCartCommand struct {
	UserID    string
	AddressID string
	TipAmount int64
	PromoCode string
	Notes     string
}

type ReorderCommand struct {
	UserID        string
	SourceOrderID string
	AddressID     string
	TipAmount     int64
	PromoCode     string
}

type GetOrderCommand struct {
	OrderID   string
	ActorID   string
	ActorRole string
}

type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   OrderStatus
	ActorID        string
	ActorRole      string
	Reason         string
	ExpectedStatus *OrderStatus
}

type CancelOrderCommand struct {
	OrderID   string
	ActorID   string
	ActorRole string
	Reason    string
}

type InitiatePaymentCommand struct {
	OrderID  string
	UserID   string
	Provider string
}

// PaymentIntentResult returns the PSP intent handle for client confirmation.
type PaymentIntentResult struct {
	OrderID      string
	IntentID     string
	Provider     string
	ClientSecret string
	Amount       int64
	Currency     string
}

type ConfirmPaymentCommand struct {
	OrderID  string
	UserID   string
	IntentID string
}

type CancelByIntentCommand struct {
	IntentID    string
	RequesterID string
	Reason      string
}

// ProviderEventCommand carries a raw PSP webhook for verification and dispatch.
type ProviderEventCommand struct {
	Provider  string
	Payload   []byte
	Signature string
}

type UpdateProfileCommand struct {
	UserID      string
	DisplayName *string
	Phone       *string
	Locale      *string
}

type RegisterDeviceTokenCommand struct {
	UserID   string
	Token    string
	Platform string
}

type UpsertAddressCommand struct {
	UserID    string
	AddressID *string
	Address   Address
	IsDefault bool
}

type DeleteAddressCommand struct {
	UserID    string
	AddressID string
}

type CounterCommand struct {
	CounterID string
	Step      int64
}

// DateRange narrows list queries to a placement window.
type DateRange = domain.RangeQuery[time.Time]
