package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-checkout/internal/admin"
	"ms-checkout/internal/auth"
	"ms-checkout/internal/checkout"
	checkout_api "ms-checkout/internal/checkout/api"
	"ms-checkout/internal/config"
	"ms-checkout/internal/database/migrations"
	"ms-checkout/internal/inventory"
	"ms-checkout/internal/kafka"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order"
	"ms-checkout/internal/order/db"
	rediswrap "ms-checkout/internal/order/redis"
	"ms-checkout/internal/reconcile"
	"ms-checkout/internal/sweeper"
	"ms-checkout/internal/webhook"
)

func verifyConnections(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*bun.DB, *redis.Client) {
	if cfg.Database.DSN == "" {
		logger.Fatal("CONFIG", "POSTGRES_DSN not set")
	}

	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	logger.Info("DATABASE", "✅ PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}

	if err := rediswrap.EnableKeyspaceNotifications(ctx, redisClient); err != nil {
		logger.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
	} else {
		logger.Info("REDIS", "Keyspace notifications enabled for expired events")
	}

	logger.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s", cfg.Redis.Addr))
	return bunDB, redisClient
}

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting Checkout Service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx := context.Background()

	httpClient := &http.Client{
		Timeout: time.Second * 10,
	}

	logger.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, logger)
	defer bunDB.Close()
	defer redisClient.Close()

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.RunMigrations(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	logger.Info("DATABASE", "Schema migrations applied")

	var publisher order.KafkaPublisher = kafka.NoopPublisher{}
	if cfg.Kafka.Enabled {
		kafkaProducer := kafka.NewProducer(cfg.Kafka.Brokers)
		defer kafkaProducer.Close()

		requiredTopics := []string{
			cfg.Kafka.Topics.OrderCreated,
			cfg.Kafka.Topics.OrderPaid,
			cfg.Kafka.Topics.OrderCancelled,
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, requiredTopics); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			logger.Info("KAFKA", "Required topics ensured successfully")
		}
		publisher = kafkaProducer
		logger.Info("KAFKA", "Kafka producer initialized successfully")
	} else {
		logger.Warn("KAFKA", "Kafka disabled, order lifecycle events will not be published")
	}

	checkout.InitStripe(cfg.Providers.StripeSecretKey)

	dbLayer := &db.DB{Bun: bunDB}
	holds := rediswrap.NewHolds(redisClient)
	orderService := order.NewOrderService(dbLayer, inventory.NewLedger(bunDB), holds, publisher, logger)

	gateways := map[string]checkout.SessionCreator{
		models.ProviderStripe: &checkout.StripeGateway{},
		models.ProviderYampi: &checkout.YampiGateway{
			APIURL: cfg.Providers.YampiAPIURL,
			Secret: cfg.Providers.YampiWebhookSecret,
			Client: httpClient,
		},
		models.ProviderAppmax: &checkout.AppmaxGateway{
			APIURL: cfg.Providers.AppmaxAPIURL,
			APIKey: cfg.Providers.AppmaxAPIKey,
			Client: httpClient,
		},
	}
	checkoutService := checkout.NewService(orderService, checkout.NewSettingsDB(bunDB), gateways, cfg.Checkout, logger)
	checkoutHandler := checkout_api.NewHandler(checkoutService, logger)

	webhookHandler := webhook.NewHandler(webhook.NewIngestor(dbLayer, orderService, logger), cfg.Providers, logger)

	cancellers := map[string]sweeper.UpstreamCanceller{
		models.ProviderStripe: sweeper.StripeCanceller{},
		models.ProviderAppmax: &sweeper.AppmaxCanceller{
			APIURL: cfg.Providers.AppmaxAPIURL,
			APIKey: cfg.Providers.AppmaxAPIKey,
			Client: httpClient,
		},
	}
	sweep := sweeper.NewSweeper(orderService, cancellers, cfg.Checkout.HoldTTL, logger)

	reconciler := reconcile.NewReconciler(orderService, &reconcile.AppmaxClient{
		APIURL: cfg.Providers.AppmaxAPIURL,
		APIKey: cfg.Providers.AppmaxAPIKey,
		Client: httpClient,
	}, logger)
	reconcileHandler := reconcile.NewHandler(reconciler, logger)

	adminHandler := admin.NewHandler(orderService, sweep, reconciler, logger)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	// --- Public Routes ---
	r.Post("/api/checkout", checkoutHandler.Checkout)
	r.Post("/api/webhooks/{provider}", webhookHandler.Receive)
	logger.Info("ROUTER", "Checkout and webhook endpoints registered")

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware())
		logger.Info("AUTH", "JWT middleware applied to protected API routes")

		r.Post("/api/reconcile", reconcileHandler.Reconcile)
		logger.Info("ROUTER", "Reconcile endpoint registered at /api/reconcile")

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)

			r.Post("/api/admin/commerce", adminHandler.Commerce)
			r.Get("/api/checkout/settings", checkoutHandler.GetSettings)
			r.Post("/api/checkout/settings", checkoutHandler.UpdateSettings)
			logger.Info("ROUTER", "Admin commerce and settings endpoints registered")
		})
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()

	go sweep.Start(sweepCtx, cfg.Checkout.SweepInterval)
	logger.Info("SWEEPER", fmt.Sprintf("Reservation sweeper started with %s interval", cfg.Checkout.SweepInterval))

	go func() {
		for orderID := range holds.SubscribeExpiredHolds(sweepCtx) {
			logger.Info("SWEEPER", fmt.Sprintf("Hold expired for order %s", orderID))
			if _, err := sweep.SweepOrder(sweepCtx, orderID); err != nil {
				logger.Error("SWEEPER", fmt.Sprintf("Failed to sweep expired order %s: %v", orderID, err))
			}
		}
	}()
	logger.Info("REDIS", "Hold expiry subscription started")

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 Checkout Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	stopSweep()

	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "✅ Checkout Service shutdown complete")
	}
}
