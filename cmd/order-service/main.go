package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rosepetal/storefront/internal/bootstrap"
	"github.com/rosepetal/storefront/internal/catalog"
	"github.com/rosepetal/storefront/internal/circuitbreaker"
	"github.com/rosepetal/storefront/internal/config"
	"github.com/rosepetal/storefront/internal/events"
	"github.com/rosepetal/storefront/internal/idempotency"
	"github.com/rosepetal/storefront/internal/invoices"
	"github.com/rosepetal/storefront/internal/metrics"
	"github.com/rosepetal/storefront/internal/orders"
	"github.com/rosepetal/storefront/internal/payments"
	"github.com/rosepetal/storefront/internal/server"
	"github.com/rosepetal/storefront/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := bootstrap.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := bootstrap.OpenStore(ctx, cfg, true, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	defer st.Close()

	m := metrics.New("orders")
	breakers := circuitbreaker.NewManager(circuitbreaker.Config{
		MaxFailures:   5,
		Timeout:       30 * time.Second,
		OnStateChange: m.BreakerStateChanged,
	}, logger)

	hub := websocket.NewHub("order-service", cfg.CORSOrigin, logger)
	go hub.Run(ctx)

	publishers := events.MultiPublisher{hub}
	if cfg.KafkaEnabled() {
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		publishers = append(publishers, events.NewGuardedPublisher(producer, breakers.Get("kafka")))
	} else {
		logger.Warn("KAFKA_BROKERS not set; domain events stay in-process")
	}
	publisher := m.InstrumentPublisher(publishers)

	var idem idempotency.Store = idempotency.NewMemoryStore()
	if cfg.RedisAddr != "" {
		redisStore := idempotency.NewRedisStore(cfg.RedisAddr, "order-service")
		if err := redisStore.Ping(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisStore.Close()
		idem = redisStore
	}

	orderService := orders.NewService(st, catalog.NewResolver(st), publisher, m, logger)
	orderHandler := orders.NewHandler(orderService, logger)
	orderHandler.SetIdempotency(idempotency.Middleware(idem, cfg.IdempotencyTTL, logger))

	paymentService := payments.NewService(st, publisher, m, cfg.StrictRefunds, logger)
	invoiceService := invoices.NewService(st, cfg.InvoiceDir, publisher, m, logger)

	handler := server.New(server.Deps{
		Handlers: []server.RouteRegistrar{
			orderHandler,
			payments.NewHandler(paymentService, logger),
			invoices.NewHandler(invoiceService, logger),
			catalog.NewHandler(st, logger),
		},
		Store:      st,
		Breakers:   breakers,
		Metrics:    m,
		WebSocket:  hub.HandleWebSocket,
		InvoiceDir: cfg.InvoiceDir,
		CORSOrigin: cfg.CORSOrigin,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":          cfg.Port,
			"store":         cfg.StoreDriver,
			"kafka":         cfg.KafkaEnabled(),
			"redis":         cfg.RedisAddr != "",
			"strict_refund": cfg.StrictRefunds,
		}).Info("Starting order service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server gracefully stopped")
}
