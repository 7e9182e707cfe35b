// Command docsink consumes merged lead documents from Kafka and stores them,
// with their search keywords, in the lead_documents table.
//
// Usage:
//
//	go run ./cmd/docsink [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/docsink"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/leadstore"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/postgres"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting document sink", "topic", cfg.Kafka.Topics.LeadDocuments, "group", cfg.Kafka.ConsumerGroup)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}

	sink := docsink.New(leadstore.New(db.DB), m)
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.LeadDocuments, sink.Handle)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping))
	checker.Register("kafka", health.PingCheck(func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Kafka.Brokers)
	}))
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, map[string]http.Handler{
			"/healthz": checker.LiveHandler(),
			"/readyz":  checker.ReadyHandler(),
		})
		defer shutdownMetrics(context.Background())
	}

	if err := consumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}
	slog.Info("document sink stopped")
}
