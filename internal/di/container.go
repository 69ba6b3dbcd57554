package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/craftbazaar/api/internal/platform/config"
	"github.com/craftbazaar/api/internal/repositories"
	"github.com/craftbazaar/api/internal/services"
)

// Repositories bundles the persistence contracts the service layer consumes.
// Production wiring provides Firestore-backed implementations, tests can
// supply in-memory stubs.
type Repositories struct {
	Orders   repositories.OrderRepository
	Products repositories.ProductRepository
	Counters repositories.CounterRepository
	Health   repositories.HealthRepository
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Checkout  services.CheckoutService
	Orders    services.OrderService
	Disputes  services.DisputeService
	Analytics services.AnalyticsService
	Catalog   services.CatalogService
	System    services.SystemService
}

// ContainerDeps carries the external dependencies NewContainer wires into the
// service layer.
type ContainerDeps struct {
	Config       config.Config
	Repositories Repositories
	Events       services.OrderEventPublisher
	Logger       *zap.Logger
	Build        services.BuildInfo
}

// Container holds the assembled runtime dependencies.
type Container struct {
	Config       config.Config
	Repositories Repositories
	Services     Services
}

// NewContainer constructs the service layer from the provided repositories.
func NewContainer(ctx context.Context, deps ContainerDeps) (*Container, error) {
	if deps.Repositories.Orders == nil {
		return nil, errors.New("di: order repository is required")
	}
	if deps.Repositories.Products == nil {
		return nil, errors.New("di: product repository is required")
	}
	if deps.Repositories.Counters == nil {
		return nil, errors.New("di: counter repository is required")
	}

	svc, err := buildServices(deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       deps.Config,
		Repositories: deps.Repositories,
		Services:     svc,
	}, nil
}

func buildServices(deps ContainerDeps) (Services, error) {
	var svc Services

	logger := serviceLogger(deps.Logger)

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:   deps.Repositories.Orders,
		Products: deps.Repositories.Products,
		Counters: deps.Repositories.Counters,
		Clock:    time.Now,
		Events:   deps.Events,
		Logger:   logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders: deps.Repositories.Orders,
		Clock:  time.Now,
		Events: deps.Events,
		Logger: logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	disputeSvc, err := services.NewDisputeService(services.DisputeServiceDeps{
		Orders: deps.Repositories.Orders,
		Clock:  time.Now,
		Events: deps.Events,
		Logger: logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build dispute service: %w", err)
	}
	svc.Disputes = disputeSvc

	if deps.Config.Features.EnableAnalytics {
		analyticsSvc, err := services.NewAnalyticsService(services.AnalyticsServiceDeps{
			Orders: deps.Repositories.Orders,
			Clock:  time.Now,
			Logger: logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build analytics service: %w", err)
		}
		svc.Analytics = analyticsSvc
	}

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: deps.Repositories.Products,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	if deps.Repositories.Health != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: deps.Repositories.Health,
			Clock:            time.Now,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

// serviceLogger adapts a zap logger to the event/fields callback the service
// layer expects. A nil logger yields a nil callback, which services treat as
// a no-op.
func serviceLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		return nil
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}
