package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"storefront/internal/app/baskets"
	"storefront/internal/app/orders"
	"storefront/internal/app/payments"
	"storefront/internal/config"
	"storefront/internal/domain"
	"storefront/internal/gateway"
	kafka_handler "storefront/internal/handler/kafka"
	"storefront/internal/infrastructure/database"
	kafka_infra "storefront/internal/infrastructure/kafka"
	"storefront/internal/metrics"
	"storefront/internal/outbox"
	basket_pg "storefront/internal/repository/basket_repo/postgres"
	inbox_pg "storefront/internal/repository/inbox_repo/postgres"
	inventory_pg "storefront/internal/repository/inventory_repo/postgres"
	order_pg "storefront/internal/repository/order_repo/postgres"
	outbox_pg "storefront/internal/repository/outbox_repo/postgres"
	payment_pg "storefront/internal/repository/payment_repo/postgres"
	"storefront/internal/router"
)

func connectDB(cfg *config.Config, logger *zap.Logger) (*sql.DB, error) {
	dbConfig := database.DBConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.Name,
		SSLMode:  cfg.DBConfig.SSLMode,
	}

	maxRetries := 10
	retryDelay := 5 * time.Second

	var err error
	for i := 0; i < maxRetries; i++ {
		var db *sql.DB
		db, err = database.NewPostgresDB(dbConfig)
		if err == nil {
			return db, nil
		}
		logger.Warn("Failed to connect to database, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_in", retryDelay),
			zap.Error(err))
		time.Sleep(retryDelay)
	}
	return nil, err
}

func runMigrations(cfg *config.Config) error {
	m, err := migrate.New(cfg.MigrationsPath, cfg.GetDBMigrationConnectionString())
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	return nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"

	appLogger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = appLogger.Sync() }()
	appLogger.Info("Storefront starting...")

	appLogger.Info("Waiting for database to be available...")
	db, err := connectDB(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Could not connect to database after multiple retries. Exiting.", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			appLogger.Error("Error closing database connection", zap.Error(err))
		} else {
			appLogger.Info("Database connection closed.")
		}
	}()
	appLogger.Info("Successfully connected to PostgreSQL database!")

	appLogger.Info("Running database migrations...")
	if err := runMigrations(cfg); err != nil {
		appLogger.Fatal("Database migrations failed", zap.Error(err))
	}
	appLogger.Info("Database migrations completed successfully (or no new migrations).")

	kafkaBrokers := cfg.GetKafkaBrokers()
	requiredTopics := []string{
		cfg.KafkaOrderEventsTopic,
		cfg.KafkaPaymentEventsTopic,
	}
	if cfg.GatewayEventRelayEnabled {
		requiredTopics = append(requiredTopics, cfg.KafkaGatewayEventsTopic)
	}

	topicsCtx, topicsCancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = kafka_infra.EnsureTopics(topicsCtx, kafkaBrokers, requiredTopics, appLogger)
	topicsCancel()
	if err != nil {
		appLogger.Fatal("Failed to ensure Kafka topics", zap.Error(err))
	}

	kafkaProducer, err := kafka_infra.NewProducer(kafkaBrokers, appLogger.With(zap.String("component", "KafkaProducer")))
	if err != nil {
		appLogger.Fatal("Failed to create Kafka producer", zap.Error(err))
	}
	defer func() {
		if err := kafkaProducer.Close(); err != nil {
			appLogger.Error("Error closing Kafka producer", zap.Error(err))
		} else {
			appLogger.Info("Kafka producer closed.")
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.New(registry)

	transactor := database.NewTransactor(db, appLogger.With(zap.String("component", "Transactor")))
	orderRepository := order_pg.NewOrderRepository(appLogger.With(zap.String("component", "OrderRepository")))
	paymentRepository := payment_pg.NewPaymentRepository(appLogger.With(zap.String("component", "PaymentRepository")))
	basketRepository := basket_pg.NewBasketRepository(appLogger.With(zap.String("component", "BasketRepository")))
	inventoryRepository := inventory_pg.NewInventoryRepository(appLogger.With(zap.String("component", "InventoryRepository")))
	outboxRepository := outbox_pg.NewOutboxRepository(appLogger.With(zap.String("component", "OutboxRepository")))
	inboxRepository := inbox_pg.NewInboxRepository()

	stripeGateway, err := gateway.NewStripeGateway(gateway.StripeConfig{
		APIKey: cfg.StripeAPIKey,
		Logger: appLogger.With(zap.String("component", "StripeGateway")),
	})
	if err != nil {
		appLogger.Fatal("Failed to create payment gateway client", zap.Error(err))
	}
	verifier := gateway.NewVerifier(cfg.WebhookSigningSecret, cfg.WebhookTolerance)

	shipping := domain.FlatRateShipping{Fee: cfg.ShippingFlatFee, FreeThreshold: cfg.FreeShippingThreshold}

	stateMachine := orders.NewStateMachine(
		orderRepository,
		inventoryRepository,
		outboxRepository,
		cfg.KafkaOrderEventsTopic,
		appLogger.With(zap.String("component", "OrderStateMachine")),
	)

	orderService := orders.NewOrderService(
		transactor,
		orderRepository,
		basketRepository,
		inventoryRepository,
		outboxRepository,
		stateMachine,
		orders.Config{
			Currency:         cfg.Currency,
			Shipping:         shipping,
			OrderEventsTopic: cfg.KafkaOrderEventsTopic,
		},
		appMetrics,
		appLogger.With(zap.String("component", "OrderService")),
	)

	paymentService := payments.NewPaymentService(
		transactor,
		payments.Repositories{
			Orders:    orderRepository,
			Payments:  paymentRepository,
			Baskets:   basketRepository,
			Inventory: inventoryRepository,
			Inbox:     inboxRepository,
			Outbox:    outboxRepository,
		},
		stripeGateway,
		verifier,
		stateMachine,
		payments.Config{
			Currency:           cfg.Currency,
			Shipping:           shipping,
			PaymentEventsTopic: cfg.KafkaPaymentEventsTopic,
			GatewayTimeout:     cfg.GatewayTimeout,
		},
		appMetrics,
		appLogger.With(zap.String("component", "PaymentService")),
	)

	basketService := baskets.NewBasketService(
		transactor,
		basketRepository,
		inventoryRepository,
		shipping,
		appLogger.With(zap.String("component", "BasketService")),
	)
	appLogger.Info("Services initialized.")

	outboxProcessor := outbox.NewProcessor(
		transactor,
		outboxRepository,
		kafkaProducer,
		outbox.ProcessorConfig{
			PollInterval: cfg.OutboxPollInterval,
			PollTimeout:  cfg.OutboxPollTimeout,
			BatchSize:    cfg.OutboxBatchSize,
			MaxAttempts:  cfg.OutboxMaxAttempts,
		},
		appMetrics,
		appLogger.With(zap.String("component", "OutboxProcessor")),
	)

	var gatewayEventsConsumer *kafka_infra.Consumer
	if cfg.GatewayEventRelayEnabled {
		gatewayEventsConsumer = kafka_infra.NewConsumer(
			kafkaBrokers,
			cfg.KafkaGatewayEventsTopic,
			cfg.KafkaConsumerGroup,
			kafka_handler.GatewayEventMessageHandler(
				paymentService,
				appLogger.With(zap.String("component", "GatewayEventHandler")),
			),
			appLogger.With(zap.String("component", "GatewayEventsConsumer")),
		)
	}

	handler := router.New(
		router.Config{AllowedOrigins: cfg.GetAllowedOrigins()},
		router.Services{Orders: orderService, Payments: paymentService, Baskets: basketService},
		appMetrics,
		registry,
		appLogger.With(zap.String("component", "HTTPHandler")),
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctxMain, cancelMain := context.WithCancel(context.Background())
	defer cancelMain()

	go func() {
		appLogger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		appLogger.Info("Starting Outbox Processor...")
		outboxProcessor.Start(ctxMain)
		appLogger.Info("Outbox Processor stopped.")
	}()

	consumerDone := make(chan struct{})
	if gatewayEventsConsumer != nil {
		go func() {
			defer close(consumerDone)
			appLogger.Info("Starting Gateway Events Kafka Consumer...")
			gatewayEventsConsumer.Run(ctxMain)
			appLogger.Info("Gateway Events Kafka Consumer stopped.")
		}()
	} else {
		close(consumerDone)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	appLogger.Info("Shutting down application...")

	cancelMain()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		appLogger.Info("HTTP server gracefully shut down.")
	}

	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		appLogger.Warn("Gateway Events Kafka Consumer did not stop before the shutdown deadline.")
	}
	if gatewayEventsConsumer != nil {
		if err := gatewayEventsConsumer.Close(); err != nil {
			appLogger.Error("Error closing Gateway Events Kafka Consumer", zap.Error(err))
		}
	}

	outboxProcessor.Stop()

	appLogger.Info("Application gracefully shut down.")
}
