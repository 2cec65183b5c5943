package domain

import (
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64
	Lng float64
}

// Valid reports whether the coordinate is inside the representable range
// and not the zero-value placeholder used for unresolved addresses.
func (p LatLng) Valid() bool {
	if p.Lat == 0 && p.Lng == 0 {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Address is a delivery destination from a user's address book.
type Address struct {
	ID           string
	UserID       string
	Label        string
	Line1        string
	Line2        string
	City         string
	Region       string
	PostalCode   string
	Country      string
	Coordinates  LatLng
	Instructions string
	IsDefault    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserProfile captures account data shared across layers.
type UserProfile struct {
	ID           string
	Email        string
	DisplayName  string
	Phone        string
	Locale       string
	Roles        []string
	DeviceTokens []DeviceToken
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasRole reports whether the profile carries the given role.
func (u UserProfile) HasRole(role string) bool {
	for _, r := range u.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// DeviceToken is a push-notification registration for one device.
type DeviceToken struct {
	Token        string
	Platform     string
	RegisteredAt time.Time
}

// Product is the sellable read model referenced by cart lines.
type Product struct {
	ID        string
	Name      string
	UnitPrice int64
	Currency  string
	Active    bool
	UpdatedAt time.Time
}

// StockLevel tracks per-center availability for one product.
type StockLevel struct {
	ProductID string
	CenterID  string
	OnHand    int
	UpdatedAt time.Time
}

// FulfillmentCenter is a dispatch origin with a service radius.
type FulfillmentCenter struct {
	ID          string
	Name        string
	Coordinates LatLng
	Active      bool
	PrepTime    time.Duration
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

/// Cart is a user's pending selection. A cart is consumed exactly once:
// placing an order deletes it in the same transaction.
type Cart struct {
	ID        string
	UserID    string
	Items     []CartItem
	Currency  string
	UpdatedAt time.Time
}

// CartItem is one product line in a cart. Unit prices are resolved from
// the product store at pricing time, never trusted from the stored line.
type CartItem struct {
	ProductID string
	Name      string
	Quantity  int
}

// IsEmpty reports whether the cart has no purchasable lines.
func (c Cart) IsEmpty() bool {
	for _, item := range c.Items {
		if item.Quantity > 0 {
			return false
		}
	}
	return true
}

// PromotionType distinguishes the single discount component a code carries.
type PromotionType string

const (
	// PromotionPercent discounts a percentage of the product subtotal.
	PromotionPercent PromotionType = "percent"
	// PromotionFixed discounts a fixed amount in minor units.
	PromotionFixed PromotionType = "fixed"
)

// PromotionScope names the single charge component a code discounts.
type PromotionScope string

const (
	// PromoScopeProduct discounts the product subtotal.
	PromoScopeProduct PromotionScope = "product"
	// PromoScopeService discounts the service fee.
	PromoScopeService PromotionScope = "service"
	// PromoScopeDelivery discounts the delivery fee.
	PromoScopeDelivery PromotionScope = "delivery"
)

// Promotion is a redeemable discount code. Exactly one of PercentOff or
// AmountOff is meaningful, selected by Type, and the discount lands on
// exactly one charge component, selected by AppliesTo.
type Promotion struct {
	ID             string
	Code           string
	Type           PromotionType
	AppliesTo      PromotionScope
	PercentOff     int
	AmountOff      int64
	MinOrderAmount int64
	PerUserLimit   int
	StartsAt       time.Time
	ExpiresAt      time.Time
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Scope returns AppliesTo, defaulting to the product subtotal for codes
// persisted before scoping existed.
func (p Promotion) Scope() PromotionScope {
	if p.AppliesTo == "" {
		return PromoScopeProduct
	}
	return p.AppliesTo
}

// PromotionUsage is the per-user redemption ledger entry for one code.
type PromotionUsage struct {
	PromotionID string
	UserID      string
	Times       int
	LastUsedAt  time.Time
}

// ChargeBreakdown itemizes everything a user pays for one order, in minor
// units of the order currency.
type ChargeBreakdown struct {
	ProductSubtotal int64
	DeliveryFee     int64
	ServiceFee      int64
	Discount        int64
	DiscountScope   PromotionScope
	TipAmount       int64
	OriginalAmount  int64
	FinalAmount     int64
	DistanceKm      float64
	PromoCode       string
	PromotionID     string
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	// OrderStatusAwaitingPayment is the state between placement and a
	// successful payment.
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	// OrderStatusPending means payment settled and the order awaits staff review.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed means staff accepted the order for preparation.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusReadyForDelivery means the order is packed and awaits a courier.
	OrderStatusReadyForDelivery OrderStatus = "ready_for_delivery"
	// OrderStatusOutForDelivery means a courier picked the order up.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered is the terminal success state.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is the terminal state for user or staff cancellation.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusFailed is the terminal state for payment failure.
	OrderStatusFailed OrderStatus = "failed"
)

// TerminalOrderStatuses lists states with no outgoing transitions.
var TerminalOrderStatuses = []OrderStatus{
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusFailed,
}

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	for _, st := range TerminalOrderStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// OrderLine is one priced product line frozen at order placement.
type OrderLine struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64
	LineTotal int64
}

// StatusChange is one entry in an order's status history.
type StatusChange struct {
	From      OrderStatus
	To        OrderStatus
	ActorID   string
	ActorRole string
	Reason    string
	At        time.Time
}

// Payment status values recorded on PaymentState.Status.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusPaid      = "paid"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
)

// PaymentState mirrors the provider-side intent an order is settled through.
type PaymentState struct {
	IntentID    string
	Provider    string
	Status      string
	Amount      int64
	Currency    string
	ReceivedAt  *time.Time
	FailureCode string
}

// DeliveryWindow is the estimated arrival interval quoted at placement.
type DeliveryWindow struct {
	EarliestAt time.Time
	LatestAt   time.Time
}

// Order is the fulfillment aggregate. History always holds at least the
// placement entry; CourierID is set only while a courier is bound.
type Order struct {
	ID          string
	Number      string
	UserID      string
	CenterID    string
	CourierID   string
	Status      OrderStatus
	Lines       []OrderLine
	Charges     ChargeBreakdown
	Currency    string
	Address     Address
	Window      DeliveryWindow
	Payment     *PaymentState
	History     []StatusChange
	PlacedAt    time.Time
	DeliveredAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderEvent is the message published after order mutations commit.
type OrderEvent struct {
	EventID    string
	Type       string
	OrderID    string
	Number     string
	UserID     string
	Status     OrderStatus
	PrevStatus OrderStatus
	OccurredAt time.Time
	Metadata   map[string]string
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage wraps a page of results with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
