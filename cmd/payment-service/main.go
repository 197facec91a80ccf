package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/briefly60/payment-service/internal/api/rest"
	"github.com/briefly60/payment-service/internal/config"
	"github.com/briefly60/payment-service/internal/gateway/sslcommerz"
	"github.com/briefly60/payment-service/internal/kafka"
	"github.com/briefly60/payment-service/internal/metrics"
	"github.com/briefly60/payment-service/internal/repository"
	"github.com/briefly60/payment-service/internal/repository/postgres"
	"github.com/briefly60/payment-service/internal/service"
	"github.com/briefly60/payment-service/internal/worker"
	"github.com/briefly60/payment-service/pkg/logger"
)

var log *logger.Logger

func init() {
	logLevel := logger.INFO
	if os.Getenv("DEBUG") == "true" {
		logLevel = logger.DEBUG
	}
	log = logger.New(logLevel)
}

func main() {
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	promRegistry := prometheus.NewRegistry()
	paymentMetrics := metrics.NewPaymentMetrics(promRegistry)

	// Lifecycle store: PostgreSQL when a DSN is configured, in-memory otherwise.
	var subscriptionRepo repository.SubscriptionRepository
	if cfg.Database.DSN != "" {
		dbPool, err := postgres.NewConnection(ctx, cfg.Database.DSN, log)
		if err != nil {
			log.Fatal("Failed to connect to database: %v", err)
		}
		defer dbPool.Close()
		subscriptionRepo = repository.NewPostgresSubscriptionRepository(dbPool, log)
	} else {
		log.Warn("No database DSN configured, using in-memory store")
		subscriptionRepo = repository.NewInMemorySubscriptionRepository(log)
	}

	if cfg.Redis.Enabled {
		cache, err := repository.NewRedisCacheRepository(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Fatal("Failed to connect to Redis: %v", err)
		}
		defer cache.Close()
		subscriptionRepo = repository.NewCachedSubscriptionRepository(subscriptionRepo, cache, log)
	}

	// Event producer is optional; payment processing never depends on it.
	var events kafka.Producer
	if cfg.Kafka.Enabled {
		events, err = kafka.NewProducer(cfg.Kafka.Brokers, log)
		if err != nil {
			log.Errorw("Failed to create Kafka producer, events disabled", "error", err)
			events = nil
		} else {
			defer events.Close()
		}
	}

	gateway, err := sslcommerz.NewClient(sslcommerz.Config{
		StoreID:       cfg.SSLCommerz.StoreID,
		StorePassword: cfg.SSLCommerz.StorePassword,
		Live:          cfg.SSLCommerz.Live,
	}, log)
	if err != nil {
		log.Fatal("Failed to create SSLCommerz client: %v", err)
	}

	planSvc := service.NewPlanService(log)
	subscriptionSvc := service.NewSubscriptionService(
		subscriptionRepo,
		planSvc,
		gateway,
		events,
		paymentMetrics,
		service.CallbackURLs{
			SuccessURL: cfg.App.CallbackURL("success"),
			FailURL:    cfg.App.CallbackURL("fail"),
			CancelURL:  cfg.App.CallbackURL("cancel"),
			IPNURL:     cfg.App.CallbackURL("ipn"),
		},
		log,
	)

	expirer := worker.NewExpirer(subscriptionRepo, 0, log)
	go expirer.Start(ctx)

	if os.Getenv("GIN_MODE") == "release" || cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := rest.SetupRouter(subscriptionSvc, planSvc, promRegistry, cfg, log)
	server := rest.NewServer(router, cfg, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped gracefully")
}
