package repositories

import (
	"context"
	"time"

	domain "github.com/fleetbite/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Products() ProductRepository
	Stock() StockRepository
	Centers() FulfillmentCenterRepository
	Orders() OrderRepository
	Promotions() PromotionRepository
	PromotionUsage() PromotionUsageRepository
	Users() UserRepository
	Addresses() AddressRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository owns cart persistence. Delete participates in the order
// placement transaction so a cart is consumed exactly once.
type CartRepository interface {
	UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	ReplaceItems(ctx context.Context, userID string, items []domain.CartItem) (domain.Cart, error)
	Delete(ctx context.Context, userID string) error
}

// ProductRepository reads the sellable product catalog.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
}

// StockRepository manages per-center stock levels with transactional guarantees.
// Decrement fails the whole transaction when any line would go negative.
type StockRepository interface {
	Decrement(ctx context.Context, req StockDecrementRequest) (StockDecrementResult, error)
	Restore(ctx context.Context, req StockRestoreRequest) error
	GetLevel(ctx context.Context, centerID string, productID string) (domain.StockLevel, error)
	ListLowStock(ctx context.Context, query StockLowStockQuery) (domain.CursorPage[domain.StockLevel], error)
}

// StockDecrementRequest asks for an atomic multi-line stock decrement at one center.
type StockDecrementRequest struct {
	CenterID string
	OrderID  string
	Lines    []StockLine
}

// StockLine is one product/quantity pair in a stock mutation.
type StockLine struct {
	ProductID string
	Quantity  int
}

// StockDecrementResult reports remaining levels after a successful decrement.
type StockDecrementResult struct {
	CenterID  string
	Remaining map[string]int
	AppliedAt time.Time
}

// StockRestoreRequest returns previously decremented quantities, used by
// cancellations before handoff to a courier.
type StockRestoreRequest struct {
	CenterID string
	OrderID  string
	Lines    []StockLine
}

// StockLowStockQuery filters the low-stock listing for operations tooling.
type StockLowStockQuery struct {
	CenterID   string
	Threshold  int
	Pagination domain.Pagination
}

// FulfillmentCenterRepository stores dispatch origins.
type FulfillmentCenterRepository interface {
	FindByID(ctx context.Context, centerID string) (domain.FulfillmentCenter, error)
	ListActiveCenters(ctx context.Context) ([]domain.FulfillmentCenter, error)
}

// OrderRepository persists order aggregates including status history.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByPaymentIntent(ctx context.Context, intentID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// PromotionRepository maintains promotion definitions.
type PromotionRepository interface {
	Insert(ctx context.Context, promotion domain.Promotion) error
	Update(ctx context.Context, promotion domain.Promotion) error
	FindByCode(ctx context.Context, code string) (domain.Promotion, error)
	List(ctx context.Context, filter PromotionListFilter) (domain.CursorPage[domain.Promotion], error)
}

// PromotionUsageRepository records per-user usage counts to enforce limits.
type PromotionUsageRepository interface {
	GetUsage(ctx context.Context, promoID string, userID string) (domain.PromotionUsage, error)
	IncrementUsage(ctx context.Context, promoID string, userID string, now time.Time) (domain.PromotionUsage, error)
	RemoveUsage(ctx context.Context, promoID string, userID string) error
}

// UserRepository stores user profiles including roles and device tokens.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.UserProfile, error)
	UpdateProfile(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error)
	AddDeviceToken(ctx context.Context, userID string, token domain.DeviceToken) error
	RemoveDeviceToken(ctx context.Context, userID string, token string) error
}

// AddressRepository stores delivery addresses per user.
type AddressRepository interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Get(ctx context.Context, userID string, addressID string) (domain.Address, error)
	Upsert(ctx context.Context, userID string, addressID *string, addr domain.Address) (domain.Address, error)
	Delete(ctx context.Context, userID string, addressID string) error
	SetDefault(ctx context.Context, userID string, addressID string) (domain.Address, error)
}

// CounterRepository hands out monotonically increasing sequence values.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID     string
	CourierID  string
	CenterID   string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type PromotionListFilter struct {
	Status     []string
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
