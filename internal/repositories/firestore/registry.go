package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/fleetbite/api/internal/platform/firestore"
	"github.com/fleetbite/api/internal/repositories"
)

// Registry bundles all Firestore-backed repositories behind the
// repositories.Registry contract and carries the shared unit of work.
type Registry struct {
	provider *pfirestore.Provider

	carts          *CartRepository
	products       *ProductRepository
	stock          *StockRepository
	centers        *CenterRepository
	orders         *OrderRepository
	promotions     *PromotionRepository
	promotionUsage *PromotionUsageRepository
	users          *UserRepository
	addresses      *AddressRepository
	counters       *CounterRepository
	health         repositories.HealthRepository
}

// NewRegistry builds every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry: firestore provider is required")
	}

	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	stock, err := NewStockRepository(provider)
	if err != nil {
		return nil, err
	}
	centers, err := NewCenterRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	promotions, err := NewPromotionRepository(provider)
	if err != nil {
		return nil, err
	}
	promotionUsage, err := NewPromotionUsageRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	addresses, err := NewAddressRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				_, err := provider.Client(ctx)
				return err
			},
		},
	})
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:       provider,
		carts:          carts,
		products:       products,
		stock:          stock,
		centers:        centers,
		orders:         orders,
		promotions:     promotions,
		promotionUsage: promotionUsage,
		users:          users,
		addresses:      addresses,
		counters:       counters,
		health:         health,
	}, nil
}

// RunInTx opens a Firestore transaction and stamps it on the context so
// repository calls made by fn join the same transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(pfirestore.ContextWithTx(ctx, tx))
	})
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Carts() repositories.CartRepository                { return r.carts }
func (r *Registry) Products() repositories.ProductRepository          { return r.products }
func (r *Registry) Stock() repositories.StockRepository               { return r.stock }
func (r *Registry) Centers() repositories.FulfillmentCenterRepository { return r.centers }
func (r *Registry) Orders() repositories.OrderRepository              { return r.orders }
func (r *Registry) Promotions() repositories.PromotionRepository      { return r.promotions }
func (r *Registry) PromotionUsage() repositories.PromotionUsageRepository {
	return r.promotionUsage
}
func (r *Registry) Users() repositories.UserRepository        { return r.users }
func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }
func (r *Registry) Counters() repositories.CounterRepository  { return r.counters }
func (r *Registry) Health() repositories.HealthRepository     { return r.health }

var _ repositories.Registry = (*Registry)(nil)
