package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	domain "github.com/fleetbite/api/internal/domain"
	"github.com/fleetbite/api/internal/geo"
	"github.com/fleetbite/api/internal/repositories"
)

var (
	// ErrPricingInvalidInput signals bad request data such as negative amounts.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingCartEmpty is returned when a preview is requested for an empty cart.
	ErrPricingCartEmpty = errors.New("pricing: cart is empty")
	// ErrPricingProductUnavailable indicates a cart line references a missing or inactive product.
	ErrPricingProductUnavailable = errors.New("pricing: product unavailable")
)

// FeePricingEngine computes order charges from the fee schedule, delivery
// distance, and an optional promotion.
type FeePricingEngine struct {
	carts     repositories.CartRepository
	products  repositories.ProductRepository
	addresses repositories.AddressRepository
	locator   *geo.Locator
	promotion PromotionService
	fees      domain.FeeSchedule
	delivery  domain.DeliveryParams
	logger    func(context.Context, string, map[string]any)
	now       func() time.Time
}

// FeePricingEngineDeps bundles collaborators for NewFeePricingEngine.
type FeePricingEngineDeps struct {
	Carts     repositories.CartRepository
	Products  repositories.ProductRepository
	Addresses repositories.AddressRepository
	Locator   *geo.Locator
	Promotion PromotionService
	Fees      *domain.FeeSchedule
	Delivery  *domain.DeliveryParams
	Logger    func(context.Context, string, map[string]any)
	Now       func() time.Time
}

// NewFeePricingEngine validates dependencies and constructs the engine.
func NewFeePricingEngine(deps FeePricingEngineDeps) (*FeePricingEngine, error) {
	if deps.Carts == nil {
		return nil, errors.New("pricing engine: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("pricing engine: product repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("pricing engine: address repository is required")
	}
	if deps.Locator == nil {
		return nil, errors.New("pricing engine: center locator is required")
	}
	if deps.Promotion == nil {
		return nil, errors.New("pricing engine: promotion service is required")
	}
	fees := domain.DefaultFeeSchedule()
	if deps.Fees != nil {
		fees = *deps.Fees
	}
	delivery := domain.DefaultDeliveryParams()
	if deps.Delivery != nil {
		delivery = *deps.Delivery
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &FeePricingEngine{
		carts:     deps.Carts,
		products:  deps.Products,
		addresses: deps.Addresses,
		locator:   deps.Locator,
		promotion: deps.Promotion,
		fees:      fees,
		delivery:  delivery,
		logger:    logger,
		now:       func() time.Time { return now().UTC() },
	}, nil
}

// Price computes the charge breakdown from already-resolved inputs.
// The distance component bills the exact kilometre figure, rounded up to
// the next cent.
func (e *FeePricingEngine) Price(_ context.Context, req PriceRequest) (ChargeBreakdown, error) {
	if req.Subtotal < 0 || req.TipAmount < 0 || req.DistanceKm < 0 {
		return ChargeBreakdown{}, ErrPricingInvalidInput
	}

	distanceCharge := int64(math.Ceil(req.DistanceKm * float64(e.fees.PerKmRate)))
	deliveryFee := e.fees.BaseDeliveryFee + distanceCharge
	serviceFee := e.fees.BaseServiceFee
	if req.DistanceKm > e.fees.LongDistanceKm {
		serviceFee += e.fees.LongDistanceSurcharge
	}

	breakdown := ChargeBreakdown{
		ProductSubtotal: req.Subtotal,
		DeliveryFee:     deliveryFee,
		ServiceFee:      serviceFee,
		TipAmount:       req.TipAmount,
		DistanceKm:      req.DistanceKm,
	}
	if req.Promotion != nil {
		promo := *req.Promotion
		base := breakdown.ProductSubtotal
		switch promo.Scope() {
		case domain.PromoScopeService:
			base = breakdown.ServiceFee
		case domain.PromoScopeDelivery:
			base = breakdown.DeliveryFee
		}
		breakdown.Discount = PromotionDiscount(promo, base)
		breakdown.DiscountScope = promo.Scope()
		breakdown.PromoCode = promo.Code
	}
	breakdown.OriginalAmount = breakdown.ProductSubtotal + breakdown.DeliveryFee + breakdown.ServiceFee
	breakdown.FinalAmount = breakdown.OriginalAmount - breakdown.Discount + breakdown.TipAmount
	return breakdown, nil
}

// PreviewCharges resolves the caller's cart, address, and promo code, then
// prices the prospective order without placing it.
func (e *FeePricingEngine) PreviewCharges(ctx context.Context, cmd ChargesPreviewCommand) (ChargeBreakdown, error) {
	if strings.TrimSpace(cmd.UserID) == "" || strings.TrimSpace(cmd.AddressID) == "" {
		return ChargeBreakdown{}, ErrPricingInvalidInput
	}
	if cmd.TipAmount < 0 {
		return ChargeBreakdown{}, ErrPricingInvalidInput
	}

	cart, err := e.carts.GetCart(ctx, cmd.UserID)
	if err != nil {
		return ChargeBreakdown{}, err
	}
	if cart.IsEmpty() {
		return ChargeBreakdown{}, ErrPricingCartEmpty
	}

	subtotal, err := e.resolveSubtotal(ctx, cart)
	if err != nil {
		return ChargeBreakdown{}, err
	}

	address, err := e.addresses.Get(ctx, cmd.UserID, cmd.AddressID)
	if err != nil {
		return ChargeBreakdown{}, err
	}

	match, err := e.locator.NearestCenter(ctx, address.Coordinates, e.delivery.MaxRadiusKm)
	if err != nil {
		return ChargeBreakdown{}, err
	}

	breakdown, err := e.Price(ctx, PriceRequest{
		Subtotal:   subtotal,
		DistanceKm: match.DistanceKm,
		TipAmount:  cmd.TipAmount,
	})
	if err != nil {
		return ChargeBreakdown{}, err
	}

	if code := strings.TrimSpace(cmd.PromoCode); code != "" {
		result, err := e.promotion.Validate(ctx, ValidatePromotionCommand{
			Code:        code,
			UserID:      cmd.UserID,
			Subtotal:    breakdown.ProductSubtotal,
			DeliveryFee: breakdown.DeliveryFee,
			ServiceFee:  breakdown.ServiceFee,
		})
		if err != nil {
			return ChargeBreakdown{}, err
		}
		breakdown.Discount = result.Discount
		breakdown.DiscountScope = result.Promotion.Scope()
		breakdown.PromoCode = result.Promotion.Code
		breakdown.FinalAmount = breakdown.OriginalAmount - breakdown.Discount + breakdown.TipAmount
	}

	e.logger(ctx, "pricing.preview", map[string]any{
		"userId":     cmd.UserID,
		"centerId":   match.Center.ID,
		"distanceKm": match.DistanceKm,
		"final":      breakdown.FinalAmount,
	})
	return breakdown, nil
}

func (e *FeePricingEngine) resolveSubtotal(ctx context.Context, cart Cart) (int64, error) {
	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		if item.Quantity <= 0 {
			continue
		}
		ids = append(ids, item.ProductID)
	}
	products, err := e.products.FindByIDs(ctx, ids)
	if err != nil {
		return 0, err
	}
	return CartSubtotal(cart, products)
}

// CartSubtotal sums cart lines against catalog prices. Stored line prices are
// never trusted; every line must resolve to an active product.
func CartSubtotal(cart Cart, products map[string]Product) (int64, error) {
	var subtotal int64
	for _, item := range cart.Items {
		if item.Quantity <= 0 {
			continue
		}
		product, ok := products[item.ProductID]
		if !ok || !product.Active {
			return 0, fmt.Errorf("%w: product %s", ErrPricingProductUnavailable, item.ProductID)
		}
		if product.UnitPrice < 0 {
			return 0, fmt.Errorf("%w: product %s has invalid price", ErrPricingProductUnavailable, item.ProductID)
		}
		subtotal += product.UnitPrice * int64(item.Quantity)
	}
	return subtotal, nil
}
