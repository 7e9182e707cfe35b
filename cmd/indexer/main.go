// Command indexer consumes company matches and extracted website content,
// records them as lead facts in PostgreSQL, and publishes the merged lead
// document to Kafka.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/bus"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/correlation"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/leadstore"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/stage"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/rabbitmq"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/redis"
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
	queues := cfg.Bus.QueuesFor(indexer.Name)
	slog.Info("starting indexer service", "queues", queues, "topic", cfg.Kafka.Topics.LeadDocuments)

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

	rdb, err := redis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	conn, err := rabbitmq.Open(ctx, cfg.RabbitMQ)
	if err != nil {
		slog.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.LeadDocuments)
	defer producer.Close()

	open := bus.Opener(conn)
	mgr := bus.NewManager(open, bus.TopologyFromConfig(cfg.Bus), m)
	if err := mgr.DeclareTopology(ctx); err != nil {
		slog.Error("failed to declare topology", "error", err)
		os.Exit(1)
	}

	var markers stage.Markers
	if cfg.Stage.Dedupe {
		markers = rdb
	}
	s := indexer.NewStage(leadstore.New(db.DB), producer, m)
	runner := stage.NewRunner(s, correlation.NewStore(rdb, cfg.Correlation.Namespace, m), markers, stage.Options{
		LookupAttempts: cfg.Correlation.LookupAttempts,
		LookupBackoff:  cfg.Correlation.LookupBackoff,
		CallTimeout:    cfg.Stage.CallTimeout,
		MarkerPrefix:   cfg.Stage.DedupePrefix,
		MarkerTTL:      cfg.Stage.DedupeTTL,
	}, m)
	pool := stage.NewPool(open, runner, stage.PoolConfig{
		Queues:         queues,
		Workers:        cfg.Stage.Workers,
		Prefetch:       cfg.Bus.Prefetch,
		MaxAttempts:    cfg.Bus.MaxAttempts,
		ConfirmTimeout: cfg.RabbitMQ.ConfirmTimeout,
	}, m)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping))
	checker.Register("redis", health.PingCheck(rdb.Ping))
	checker.Register("rabbitmq", health.PingCheck(conn.Ping))
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

	if err := pool.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("indexer pool stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer service stopped")
}
