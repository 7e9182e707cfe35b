// Command ingestion starts the lead ingestion HTTP service.
//
// The service accepts leads via POST /api/v1/leads, validates them, persists
// them to PostgreSQL, writes the correlation entry to Redis, and publishes the
// raw lead onto the leads exchange. Lead status is served at
// GET /api/v1/leads/{id}.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
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
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/bus"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/correlation"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/leadstore"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/middleware"
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
	slog.Info("starting ingestion service", "port", cfg.Server.Port)

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
	slog.Info("connected to postgres")

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
	if err := bus.NewManager(open, bus.TopologyFromConfig(cfg.Bus), m).DeclareTopology(ctx); err != nil {
		slog.Error("failed to declare topology", "error", err)
		os.Exit(1)
	}
	ch, err := open()
	if err != nil {
		slog.Error("failed to open publish channel", "error", err)
		os.Exit(1)
	}
	defer ch.Close()
	events, err := bus.NewPublisher(ch, cfg.RabbitMQ.ConfirmTimeout, m)
	if err != nil {
		slog.Error("failed to create publisher", "error", err)
		os.Exit(1)
	}

	store := correlation.NewStore(rdb, cfg.Correlation.Namespace, m)
	pub := publisher.New(leadstore.New(db.DB), store, events, cfg.Bus.Exchanges.Leads, cfg.Correlation.TTL, m)
	h := handler.New(pub)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping))
	checker.Register("redis", health.PingCheck(rdb.Ping))
	checker.Register("rabbitmq", health.PingCheck(conn.Ping))
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, map[string]http.Handler{
			"/healthz": checker.LiveHandler(),
			"/readyz":  checker.ReadyHandler(),
		})
		defer shutdownMetrics(context.Background())
	}

	var limiter *middleware.ClientLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewClientLimiter(cfg.Server.RateLimit, cfg.Server.RateLimitBurst, 10*time.Minute)
		go sweepClients(ctx, limiter)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h.Routes(m, cfg.Server.RequestTimeout, limiter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		select {
		case <-ctx.Done():
			slog.Info("shutdown signal received")
		case amqpErr := <-conn.NotifyClose():
			slog.Error("rabbitmq connection lost", "error", amqpErr)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}

func sweepClients(ctx context.Context, l *middleware.ClientLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				slog.Debug("rate limiter swept idle clients", "removed", n)
			}
		}
	}
}
