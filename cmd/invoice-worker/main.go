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
	"github.com/rosepetal/storefront/internal/circuitbreaker"
	"github.com/rosepetal/storefront/internal/config"
	"github.com/rosepetal/storefront/internal/events"
	"github.com/rosepetal/storefront/internal/invoices"
	"github.com/rosepetal/storefront/internal/metrics"
	"github.com/rosepetal/storefront/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := bootstrap.NewLogger(cfg.LogLevel)
	if !cfg.KafkaEnabled() {
		logger.Fatal("KAFKA_BROKERS is required for the invoice worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := bootstrap.OpenStore(ctx, cfg, false, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	defer st.Close()

	m := metrics.New("invoice_worker")
	breakers := circuitbreaker.NewManager(circuitbreaker.Config{OnStateChange: m.BreakerStateChanged}, logger)

	producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka producer")
	}
	defer producer.Close()
	publisher := m.InstrumentPublisher(events.NewGuardedPublisher(producer, breakers.Get("kafka")))

	service := invoices.NewService(st, cfg.InvoiceDir, publisher, m, logger)
	consumer, err := events.NewKafkaConsumerWithRetry(
		cfg.KafkaBrokers,
		cfg.KafkaGroupID,
		[]events.Type{events.OrderPaid},
		invoices.NewPaidHandler(service, logger),
		logger,
	)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer")
	}
	defer consumer.Close()

	srv := &http.Server{
		Addr: ":" + cfg.WorkerPort,
		Handler: server.New(server.Deps{
			Store:      st,
			Breakers:   breakers,
			Metrics:    m,
			InvoiceDir: cfg.InvoiceDir,
			CORSOrigin: cfg.CORSOrigin,
			Logger:     logger,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Worker status server failed")
		}
	}()

	go reportMetrics(ctx, consumer.Metrics(), logger)

	logger.WithFields(logrus.Fields{
		"topic":    events.OrderPaid,
		"group_id": cfg.KafkaGroupID,
		"port":     cfg.WorkerPort,
	}).Info("Invoice worker started")

	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Error("Consumer stopped with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	logger.Info("Invoice worker stopped")
}

func reportMetrics(ctx context.Context, cm *events.ConsumerMetrics, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.WithFields(logrus.Fields{
				"processed":     cm.Processed.Load(),
				"succeeded":     cm.Succeeded.Load(),
				"failed":        cm.Failed.Load(),
				"retries":       cm.Retries.Load(),
				"dead_lettered": cm.DeadLettered.Load(),
			}).Info("Consumer metrics")
		}
	}
}
