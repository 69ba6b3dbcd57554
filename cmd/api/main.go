package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/craftbazaar/api/internal/di"
	"github.com/craftbazaar/api/internal/handlers"
	"github.com/craftbazaar/api/internal/platform/config"
	"github.com/craftbazaar/api/internal/platform/events"
	pfirestore "github.com/craftbazaar/api/internal/platform/firestore"
	"github.com/craftbazaar/api/internal/platform/idempotency"
	"github.com/craftbazaar/api/internal/platform/observability"
	"github.com/craftbazaar/api/internal/repositories"
	firestoreRepo "github.com/craftbazaar/api/internal/repositories/firestore"
	"github.com/craftbazaar/api/internal/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Close(closeCtx); err != nil {
			logger.Warn("failed to close firestore provider", zap.Error(err))
		}
	}()

	var (
		publisher   services.OrderEventPublisher
		eventsTopic *pubsub.Topic
	)
	if cfg.Features.EnableEventPublishing {
		projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
		if projectID == "" {
			projectID = cfg.Firestore.ProjectID
		}
		pubsubClient, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer pubsubClient.Close()

		eventsTopic = pubsubClient.Topic(cfg.PubSub.EventsTopic)
		publisher, err = events.NewPubSubOrderEventPublisher(eventsTopic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
	}

	orderRepo, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	productRepo, err := firestoreRepo.NewProductRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}
	counterRepo, err := firestoreRepo.NewCounterRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise counter repository", zap.Error(err))
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(dependencyChecks(provider, eventsTopic))
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}

	build := buildInfo(cfg, startedAt)

	container, err := di.NewContainer(ctx, di.ContainerDeps{
		Config: cfg,
		Repositories: di.Repositories{
			Orders:   orderRepo,
			Products: productRepo,
			Counters: counterRepo,
			Health:   healthRepo,
		},
		Events: publisher,
		Logger: logger.Named("services"),
		Build:  build,
	})
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}

	checkoutHandlers := handlers.NewCheckoutHandlers(container.Services.Checkout)
	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders, container.Services.Disputes)
	sellerHandlers := handlers.NewSellerHandlers(container.Services.Orders, container.Services.Disputes, container.Services.Analytics)
	productHandlers := handlers.NewProductHandlers(container.Services.Catalog)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(container.Services.System),
		handlers.WithHealthBuildInfo(build),
	)

	checkoutRoutes := checkoutHandlers.Routes
	if idempotencyMiddleware := buildIdempotencyMiddleware(ctx, provider, logger); idempotencyMiddleware != nil {
		checkoutRoutes = func(r chi.Router) {
			r.Use(idempotencyMiddleware)
			checkoutHandlers.Routes(r)
		}
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutRoutes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithSellerRoutes(sellerHandlers.Routes),
		handlers.WithProductRoutes(productHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("craftbazaar api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildIdempotencyMiddleware guards checkout retries with a Firestore-backed
// idempotency store. A client initialisation failure disables the guard
// instead of blocking startup.
func buildIdempotencyMiddleware(ctx context.Context, provider *pfirestore.Provider, logger *zap.Logger) func(http.Handler) http.Handler {
	client, err := provider.Client(ctx)
	if err != nil {
		logger.Warn("idempotency store unavailable, checkout retries are unguarded", zap.Error(err))
		return nil
	}
	store := idempotency.NewFirestoreStore(client)
	return idempotency.Middleware(store,
		idempotency.WithMethods(http.MethodPost),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)
}

// dependencyChecks probes the Firestore client and, when event publishing is
// enabled, the Pub/Sub events topic.
func dependencyChecks(provider *pfirestore.Provider, topic *pubsub.Topic) []repositories.DependencyCheck {
	checks := []repositories.DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				_, err := provider.Client(ctx)
				return err
			},
		},
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name: "pubsub",
			Check: func(ctx context.Context) error {
				exists, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("events topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}
	return checks
}

func buildInfo(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	return services.BuildInfo{
		Version:     version,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}
