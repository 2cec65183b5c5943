package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/fleetbite/api/internal/domain"
	"github.com/fleetbite/api/internal/geo"
)

func TestFeePricingEngine_PriceLongDistanceSurcharge(t *testing.T) {
	engine := newTestPricingEngine(t, nil)

	breakdown, err := engine.Price(context.Background(), PriceRequest{
		Subtotal:   2000,
		DistanceKm: 12,
	})
	if err != nil {
		t.Fatalf("Price returned error: %v", err)
	}

	if breakdown.DeliveryFee != 1100 {
		t.Fatalf("expected delivery fee 1100 got %d", breakdown.DeliveryFee)
	}
	if breakdown.ServiceFee != 350 {
		t.Fatalf("expected service fee 350 got %d", breakdown.ServiceFee)
	}
	if breakdown.OriginalAmount != 3450 {
		t.Fatalf("expected original amount 3450 got %d", breakdown.OriginalAmount)
	}
	if breakdown.FinalAmount != 3450 {
		t.Fatalf("expected final amount 3450 got %d", breakdown.FinalAmount)
	}
}

func TestFeePricingEngine_PriceShortDistance(t *testing.T) {
	engine := newTestPricingEngine(t, nil)

	breakdown, err := engine.Price(context.Background(), PriceRequest{
		Subtotal:   1500,
		DistanceKm: 8,
		TipAmount:  200,
	})
	if err != nil {
		t.Fatalf("Price returned error: %v", err)
	}

	if breakdown.DeliveryFee != 900 {
		t.Fatalf("expected delivery fee 900 got %d", breakdown.DeliveryFee)
	}
	if breakdown.ServiceFee != 150 {
		t.Fatalf("expected base service fee without surcharge got %d", breakdown.ServiceFee)
	}
	if breakdown.FinalAmount != 1500+900+150+200 {
		t.Fatalf("unexpected final amount %d", breakdown.FinalAmount)
	}
}

func TestFeePricingEngine_PriceBillsExactDistance(t *testing.T) {
	engine := newTestPricingEngine(t, nil)

	// 12.3 km at 50 cents per km is 615 cents, not 13 started kilometres.
	breakdown, err := engine.Price(context.Background(), PriceRequest{
		Subtotal:   1000,
		DistanceKm: 12.3,
	})
	if err != nil {
		t.Fatalf("Price returned error: %v", err)
	}
	if breakdown.DeliveryFee != 500+615 {
		t.Fatalf("expected delivery fee 1115 got %d", breakdown.DeliveryFee)
	}
}

func TestFeePricingEngine_PriceRoundsDistanceChargeUpToCent(t *testing.T) {
	engine := newTestPricingEngine(t, nil)

	// 3.33 km at 50 cents per km is 166.5 cents, billed as 167.
	breakdown, err := engine.Price(context.Background(), PriceRequest{
		Subtotal:   1000,
		DistanceKm: 3.33,
	})
	if err != nil {
		t.Fatalf("Price returned error: %v", err)
	}
	if breakdown.DeliveryFee != 500+167 {
		t.Fatalf("expected delivery fee 667 got %d", breakdown.DeliveryFee)
	}
}

func TestFeePricingEngine_PriceDiscountCapAndTip(t *testing.T) {
	engine := newTestPricingEngine(t, nil)

	promo := domain.Promotion{Code: "BIG", Type: domain.PromotionFixed, AmountOff: 2500}
	breakdown, err := engine.Price(context.Background(), PriceRequest{
		Subtotal:   2000,
		DistanceKm: 12,
		TipAmount:  500,
		Promotion:  &promo,
	})
	if err != nil {
		t.Fatalf("Price returned error: %v", err)
	}
	if breakdown.Discount != 2000 {
		t.Fatalf("expected discount capped at subtotal got %d", breakdown.Discount)
	}
	if breakdown.FinalAmount != 3450-2000+500 {
		t.Fatalf("unexpected final amount %d", breakdown.FinalAmount)
	}
	if breakdown.PromoCode != "BIG" {
		t.Fatalf("expected promo code on breakdown got %q", breakdown.PromoCode)
	}
}

func TestFeePricingEngine_PriceRejectsNegativeInputs(t *testing.T) {
	engine := newTestPricingEngine(t, nil)

	if _, err := engine.Price(context.Background(), PriceRequest{Subtotal: -1}); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected ErrPricingInvalidInput got %v", err)
	}
	if _, err := engine.Price(context.Background(), PriceRequest{TipAmount: -1}); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected ErrPricingInvalidInput got %v", err)
	}
}

func TestFeePricingEngine_PreviewCharges(t *testing.T) {
	point := domain.LatLng{Lat: 37.7879, Lng: -122.4075}
	deps := &pricingStubDeps{
		cart: domain.Cart{
			ID:     "cart-1",
			UserID: "user-1",
			Items: []domain.CartItem{
				{ProductID: "prod-1", Quantity: 2},
				{ProductID: "prod-2", Quantity: 1},
			},
		},
		products: map[string]domain.Product{
			"prod-1": {ID: "prod-1", UnitPrice: 700, Active: true},
			"prod-2": {ID: "prod-2", UnitPrice: 600, Active: true},
		},
		address: domain.Address{ID: "addr-1", UserID: "user-1", Coordinates: point},
		centers: []domain.FulfillmentCenter{
			{ID: "fc-1", Coordinates: point, Active: true},
		},
	}
	engine := newTestPricingEngine(t, deps)

	breakdown, err := engine.PreviewCharges(context.Background(), ChargesPreviewCommand{
		UserID:    "user-1",
		AddressID: "addr-1",
		TipAmount: 300,
	})
	if err != nil {
		t.Fatalf("PreviewCharges returned error: %v", err)
	}

	if breakdown.ProductSubtotal != 2000 {
		t.Fatalf("expected subtotal 2000 got %d", breakdown.ProductSubtotal)
	}
	if breakdown.DeliveryFee != 500 || breakdown.ServiceFee != 150 {
		t.Fatalf("unexpected fees: delivery %d service %d", breakdown.DeliveryFee, breakdown.ServiceFee)
	}
	if breakdown.FinalAmount != 2000+500+150+300 {
		t.Fatalf("unexpected final amount %d", breakdown.FinalAmount)
	}
}

func TestFeePricingEngine_PreviewChargesEmptyCart(t *testing.T) {
	deps := &pricingStubDeps{
		cart: domain.Cart{ID: "cart-1", UserID: "user-1"},
	}
	engine := newTestPricingEngine(t, deps)

	_, err := engine.PreviewCharges(context.Background(), ChargesPreviewCommand{UserID: "user-1", AddressID: "addr-1"})
	if !errors.Is(err, ErrPricingCartEmpty) {
		t.Fatalf("expected ErrPricingCartEmpty got %v", err)
	}
}

func TestCartSubtotalRejectsInactiveProduct(t *testing.T) {
	cart := domain.Cart{Items: []domain.CartItem{{ProductID: "prod-1", Quantity: 1}}}
	products := map[string]domain.Product{
		"prod-1": {ID: "prod-1", UnitPrice: 700, Active: false},
	}
	if _, err := CartSubtotal(cart, products); !errors.Is(err, ErrPricingProductUnavailable) {
		t.Fatalf("expected ErrPricingProductUnavailable got %v", err)
	}
}

// Test scaffolding ------------------------------------------------------------

type pricingStubDeps struct {
	cart     domain.Cart
	cartErr  error
	products map[string]domain.Product
	address  domain.Address
	addrErr  error
	centers  []domain.FulfillmentCenter
}

func newTestPricingEngine(t *testing.T, deps *pricingStubDeps) *FeePricingEngine {
	t.Helper()
	if deps == nil {
		deps = &pricingStubDeps{}
	}
	locator, err := geo.NewLocator(geo.LocatorDeps{
		Centers: &pricingStubCenterSource{centers: deps.centers},
	})
	if err != nil {
		t.Fatalf("NewLocator: %v", err)
	}
	promo, err := NewPromotionService(PromotionServiceDeps{
		Promotions: &stubPromotionRepository{err: &stubPromotionRepoError{notFound: true}},
		Usage:      &stubPromotionUsageRepository{},
	})
	if err != nil {
		t.Fatalf("NewPromotionService: %v", err)
	}
	engine, err := NewFeePricingEngine(FeePricingEngineDeps{
		Carts:     &stubCartRepository{cart: deps.cart, err: deps.cartErr},
		Products:  &stubProductRepository{products: deps.products},
		Addresses: &stubAddressRepository{address: deps.address, err: deps.addrErr},
		Locator:   locator,
		Promotion: promo,
		Now:       func() time.Time { return time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewFeePricingEngine: %v", err)
	}
	return engine
}

type pricingStubCenterSource struct {
	centers []domain.FulfillmentCenter
}

func (s *pricingStubCenterSource) ListActiveCenters(context.Context) ([]domain.FulfillmentCenter, error) {
	return s.centers, nil
}

type stubCartRepository struct {
	cart     domain.Cart
	err      error
	deleted  int
	getCalls int
	getFunc  func(ctx context.Context, userID string) (domain.Cart, error)
}

func (s *stubCartRepository) UpsertCart(_ context.Context, cart domain.Cart) (domain.Cart, error) {
	if s.err != nil {
		return domain.Cart{}, s.err
	}
	s.cart = cart
	return cart, nil
}

func (s *stubCartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	s.getCalls++
	if s.getFunc != nil {
		return s.getFunc(ctx, userID)
	}
	if s.err != nil {
		return domain.Cart{}, s.err
	}
	return s.cart, nil
}

func (s *stubCartRepository) ReplaceItems(_ context.Context, _ string, items []domain.CartItem) (domain.Cart, error) {
	if s.err != nil {
		return domain.Cart{}, s.err
	}
	s.cart.Items = items
	return s.cart, nil
}

func (s *stubCartRepository) Delete(context.Context, string) error {
	if s.err != nil {
		return s.err
	}
	s.deleted++
	s.cart = domain.Cart{}
	return nil
}

type stubProductRepository struct {
	products map[string]domain.Product
	err      error
}

func (s *stubProductRepository) FindByID(_ context.Context, productID string) (domain.Product, error) {
	if s.err != nil {
		return domain.Product{}, s.err
	}
	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, &stubPromotionRepoError{notFound: true}
	}
	return product, nil
}

func (s *stubProductRepository) FindByIDs(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := s.products[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}

type stubAddressRepository struct {
	address   domain.Address
	list      []domain.Address
	err       error
	deleteErr error
	deleted   []string
	defaulted []string
}

func (s *stubAddressRepository) List(context.Context, string) ([]domain.Address, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.list, nil
}

func (s *stubAddressRepository) Get(context.Context, string, string) (domain.Address, error) {
	if s.err != nil {
		return domain.Address{}, s.err
	}
	return s.address, nil
}

func (s *stubAddressRepository) Upsert(_ context.Context, _ string, addressID *string, addr domain.Address) (domain.Address, error) {
	if s.err != nil {
		return domain.Address{}, s.err
	}
	if addressID != nil {
		addr.ID = *addressID
	} else if addr.ID == "" {
		addr.ID = "addr-new"
	}
	s.address = addr
	return addr, nil
}

func (s *stubAddressRepository) Delete(_ context.Context, _ string, addressID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if s.err != nil {
		return s.err
	}
	s.deleted = append(s.deleted, addressID)
	return nil
}

func (s *stubAddressRepository) SetDefault(_ context.Context, _ string, addressID string) (domain.Address, error) {
	if s.err != nil {
		return domain.Address{}, s.err
	}
	s.defaulted = append(s.defaulted, addressID)
	s.address.IsDefault = true
	return s.address, nil
}
