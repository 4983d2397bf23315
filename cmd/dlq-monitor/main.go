package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rosepetal/storefront/internal/bootstrap"
	"github.com/rosepetal/storefront/internal/config"
	"github.com/rosepetal/storefront/internal/events"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := bootstrap.NewLogger(cfg.LogLevel)
	if !cfg.KafkaEnabled() {
		logger.Fatal("KAFKA_BROKERS is required for the DLQ monitor")
	}

	dlqCfg := events.DLQConfig{
		Topics:      parseTopics(os.Getenv("DLQ_TOPICS")),
		Replay:      os.Getenv("REPLAY") == "true",
		ReplayDelay: 5 * time.Second,
	}
	if d, err := time.ParseDuration(os.Getenv("REPLAY_DELAY")); err == nil {
		dlqCfg.ReplayDelay = d
	}

	processor, err := events.NewDLQProcessor(cfg.KafkaBrokers, "dlq-monitor-group", dlqCfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create DLQ processor")
	}
	defer processor.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"topics": dlqCfg.Topics,
		"replay": dlqCfg.Replay,
	}).Info("DLQ monitor started")

	if err := processor.ProcessDLQ(ctx); err != nil {
		logger.WithError(err).Error("DLQ processing stopped with error")
	}

	logger.WithField("stats", processor.Stats()).Info("Shutting down DLQ monitor...")
}

// parseTopics reads a comma separated list of source topics, e.g.
// "order.paid,order.placed". Empty means the processor default.
func parseTopics(raw string) []events.Type {
	var topics []events.Type
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, events.Type(t))
		}
	}
	return topics
}
