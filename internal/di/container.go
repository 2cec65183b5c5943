package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleetbite/api/internal/domain"
	"github.com/fleetbite/api/internal/geo"
	"github.com/fleetbite/api/internal/payments"
	"github.com/fleetbite/api/internal/platform/auth"
	"github.com/fleetbite/api/internal/platform/config"
	"github.com/fleetbite/api/internal/repositories"
	"github.com/fleetbite/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart       services.CartService
	Pricing    services.PricingEngine
	Orders     services.OrderService
	Payments   services.PaymentService
	Promotions services.PromotionService
	Users      services.UserService
	Notifier   services.NotificationService
	System     services.SystemService
}

// Infrastructure carries externally constructed collaborators (PSP clients,
// publishers, push senders) that the container wires into services. Every
// field is optional; services degrade to their built-in defaults when a
// collaborator is absent.
type Infrastructure struct {
	Firebase   auth.UserGetter
	Gateway    *payments.Manager
	Parsers    map[string]payments.WebhookParser
	Events     services.OrderEventPublisher
	Receipts   services.ReceiptArchiver
	Caches     services.CacheInvalidator
	PushSender services.PushSender
	Health     repositories.HealthRepository
	Build      services.BuildInfo
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring will provide real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(ctx context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	fees := feeScheduleFromConfig(cfg.Fulfillment)
	delivery := deliveryParamsFromConfig(cfg.Fulfillment)

	locator, err := geo.NewLocator(geo.LocatorDeps{
		Centers: reg.Centers(),
		Now:     time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build center locator: %w", err)
	}

	// Promotions stay wired even when the feature flag is off: the pricing
	// engine and order service consult them for discount recalculation. The
	// flag only controls whether admin promotion routes are exposed.
	promotionSvc, err := services.NewPromotionService(services.PromotionServiceDeps{
		Promotions: reg.Promotions(),
		Usage:      reg.PromotionUsage(),
		Clock:      time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build promotion service: %w", err)
	}
	svc.Promotions = promotionSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Repository:      reg.Carts(),
		Products:        reg.Products(),
		Clock:           time.Now,
		DefaultCurrency: cfg.Fulfillment.DefaultCurrency,
		Logger:          infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	pricing, err := services.NewFeePricingEngine(services.FeePricingEngineDeps{
		Carts:     reg.Carts(),
		Products:  reg.Products(),
		Addresses: reg.Addresses(),
		Locator:   locator,
		Promotion: svc.Promotions,
		Fees:      &fees,
		Delivery:  &delivery,
		Logger:    infra.Logger,
		Now:       time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricing

	if cfg.Features.EnablePushNotifications && infra.PushSender != nil {
		notifier, err := services.NewPushNotificationService(services.PushNotificationServiceDeps{
			Users:  reg.Users(),
			Sender: infra.PushSender,
			Logger: infra.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build notification service: %w", err)
		}
		svc.Notifier = notifier
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:             reg.Orders(),
		Carts:              reg.Carts(),
		Products:           reg.Products(),
		Stock:              reg.Stock(),
		Addresses:          reg.Addresses(),
		Counters:           reg.Counters(),
		Locator:            locator,
		Pricing:            svc.Pricing,
		Promotions:         svc.Promotions,
		UnitOfWork:         reg,
		Clock:              time.Now,
		Events:             infra.Events,
		Notifier:           svc.Notifier,
		Receipts:           infra.Receipts,
		Caches:             infra.Caches,
		Delivery:           delivery,
		MinReorderSubtotal: cfg.Fulfillment.MinReorderSubtotal,
		Logger:             infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if infra.Gateway != nil {
		paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
			Orders:     reg.Orders(),
			Carts:      reg.Carts(),
			Stock:      reg.Stock(),
			Promotions: svc.Promotions,
			Gateway:    infra.Gateway,
			Parsers:    infra.Parsers,
			UnitOfWork: reg,
			Clock:      time.Now,
			Events:     infra.Events,
			Notifier:   svc.Notifier,
			Logger:     infra.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment service: %w", err)
		}
		svc.Payments = paymentSvc
	}

	if infra.Firebase != nil {
		userSvc, err := services.NewUserService(services.UserServiceDeps{
			Users:     reg.Users(),
			Addresses: reg.Addresses(),
			Firebase:  infra.Firebase,
			Clock:     time.Now,
			Logger:    infra.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build user service: %w", err)
		}
		svc.Users = userSvc
	}

	healthRepo := infra.Health
	if healthRepo == nil {
		healthRepo = reg.Health()
	}
	if healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Counters:         reg.Counters(),
			Clock:            time.Now,
			Build:            infra.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

func feeScheduleFromConfig(cfg config.FulfillmentConfig) domain.FeeSchedule {
	fees := domain.DefaultFeeSchedule()
	if cfg.BaseDeliveryFee > 0 {
		fees.BaseDeliveryFee = cfg.BaseDeliveryFee
	}
	if cfg.PerKmRate > 0 {
		fees.PerKmRate = cfg.PerKmRate
	}
	if cfg.BaseServiceFee > 0 {
		fees.BaseServiceFee = cfg.BaseServiceFee
	}
	if cfg.LongDistanceSurcharge > 0 {
		fees.LongDistanceSurcharge = cfg.LongDistanceSurcharge
	}
	if cfg.LongDistanceKm > 0 {
		fees.LongDistanceKm = cfg.LongDistanceKm
	}
	return fees
}

func deliveryParamsFromConfig(cfg config.FulfillmentConfig) domain.DeliveryParams {
	params := domain.DefaultDeliveryParams()
	if cfg.MaxRadiusKm > 0 {
		params.MaxRadiusKm = cfg.MaxRadiusKm
	}
	if cfg.AvgSpeedKmh > 0 {
		params.AvgSpeedKmh = cfg.AvgSpeedKmh
	}
	if cfg.DefaultPrepTime > 0 {
		params.DefaultPrepTime = cfg.DefaultPrepTime
	}
	if cfg.WindowBefore > 0 {
		params.WindowBefore = cfg.WindowBefore
	}
	if cfg.WindowAfter > 0 {
		params.WindowAfter = cfg.WindowAfter
	}
	return params
}
