// Worker consumes relay events from Kafka and pushes them to Loki.
// Set KAFKA_BROKERS, RELAY_KAFKA_TOPIC, KAFKA_GROUP_ID, and LOKI_URL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/config"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/logging"
	"github.com/rouyesh1998/rouyeshno-bridge/internal/telemetry/loki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat, nil, "rouyeshno-relay-archiver")

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		logger.Error("KAFKA_BROKERS is required")
		os.Exit(1)
	}
	if cfg.LokiURL == "" {
		logger.Error("LOKI_URL is required")
		os.Exit(1)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.RelayKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("consuming relay events", "topic", cfg.RelayKafkaTopic, "group", cfg.KafkaGroupID, "loki_url", cfg.LokiURL)
	if err := loki.NewArchiver(reader, loki.NewClient(cfg.LokiURL), logger).Run(ctx); err != nil {
		logger.Error("archiver stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
