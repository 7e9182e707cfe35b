// Command enricher runs one enrichment stage as a pool of queue consumers.
//
// Stages:
//
//	registry  look the lead up in the company directory and confirm the match
//	search    run a web search for the lead and publish the raw results
//	resolver  score search results and confirm the best registry number
//	website   crawl the lead's website and publish the extracted content
//
// Usage:
//
//	go run ./cmd/enricher -stage search [-config configs/development.yaml]
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
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/enrichment"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/resolver"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/search"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/stage"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/rabbitmq"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/redis"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	stageName := flag.String("stage", "", "stage to run: registry, search, resolver or website")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	m := metrics.New(prometheus.DefaultRegisterer)
	s, err := buildStage(*stageName, cfg, m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	queues := cfg.Bus.QueuesFor(s.Name())
	slog.Info("starting enricher", "stage", s.Name(), "queues", queues, "workers", cfg.Stage.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
	checker.Register("redis", health.PingCheck(rdb.Ping))
	checker.Register("rabbitmq", health.PingCheck(conn.Ping))
	checker.RegisterOptional("dead_letter", health.ThresholdCheck(func(ctx context.Context) (int, error) {
		return mgr.Depth(ctx, cfg.Bus.DeadLetterQueue)
	}, cfg.Bus.DeadLetterAlert))
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, map[string]http.Handler{
			"/healthz": checker.LiveHandler(),
			"/readyz":  checker.ReadyHandler(),
		})
		defer shutdownMetrics(context.Background())
	}
	go bus.NewMonitor(mgr, append(queues, cfg.Bus.DeadLetterQueue), cfg.Bus.MonitorInterval, m).Run(ctx)

	if err := pool.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("stage pool stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("enricher stopped", "stage", s.Name())
}

func buildStage(name string, cfg *config.Config, m *metrics.Metrics) (stage.Stage, error) {
	confirmer := registry.NewClient(cfg.Registry, m)
	ex := cfg.Bus.Exchanges
	switch name {
	case enrichment.NameRegistry:
		directory := cfg.Website
		directory.Timeout = cfg.Directory.Timeout
		return enrichment.NewDirectoryStage(extract.NewFetcher(directory), resolver.NewEngine(confirmer), cfg.Directory.SearchURL, ex.Companies, m), nil
	case enrichment.NameSearch:
		return enrichment.NewSearchStage(search.NewClient(cfg.Search, m), ex.SearchResults), nil
	case enrichment.NameResolver:
		return enrichment.NewResolverStage(resolver.NewEngine(confirmer), ex.Companies, m), nil
	case enrichment.NameWebsite:
		crawler := extract.NewCrawler(extract.NewFetcher(cfg.Website), cfg.Website.MaxPages, m)
		return enrichment.NewWebsiteStage(crawler, ex.WebsiteContent), nil
	default:
		return nil, fmt.Errorf("unknown stage %q: want registry, search, resolver or website", name)
	}
}
