package stage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/bus"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// PoolConfig sizes a worker pool.
type PoolConfig struct {
	Queues         []string
	Workers        int
	Prefetch       int
	MaxAttempts    int
	ConfirmTimeout time.Duration
}

// Pool runs Workers independent consume loops per queue, each on its own
// channel. The first loop to fail stops the others.
type Pool struct {
	open    bus.ChannelOpener
	runner  *Runner
	cfg     PoolConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPool creates a Pool. Workers below 1 is treated as 1.
func NewPool(open bus.ChannelOpener, r *Runner, cfg PoolConfig, m *metrics.Metrics) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Pool{
		open:    open,
		runner:  r,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "stage-pool", "stage", r.stage.Name()),
	}
}

// Run blocks until ctx is cancelled or a worker fails.
func (p *Pool) Run(ctx context.Context) error {
	if len(p.cfg.Queues) == 0 {
		return fmt.Errorf("stage %s: no queues to consume", p.runner.stage.Name())
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, queue := range p.cfg.Queues {
		for i := 0; i < p.cfg.Workers; i++ {
			g.Go(func() error {
				return p.worker(gctx, queue, i)
			})
		}
	}
	p.logger.Info("workers started", "queues", p.cfg.Queues, "workers_per_queue", p.cfg.Workers)
	return g.Wait()
}

func (p *Pool) worker(ctx context.Context, queue string, id int) error {
	ch, err := p.open()
	if err != nil {
		return fmt.Errorf("opening channel for %s worker %d: %w", queue, id, err)
	}
	defer ch.Close()

	pub, err := bus.NewPublisher(ch, p.cfg.ConfirmTimeout, p.metrics)
	if err != nil {
		return err
	}
	c := bus.NewConsumer(ch, bus.ConsumerConfig{
		Queue:       queue,
		Tag:         fmt.Sprintf("%s-%d", p.runner.stage.Name(), id),
		Prefetch:    p.cfg.Prefetch,
		MaxAttempts: p.cfg.MaxAttempts,
	}, p.runner.Handler(pub), pub, p.metrics)
	if err := c.Run(ctx); err != nil {
		return fmt.Errorf("%s worker %d: %w", queue, id, err)
	}
	return nil
}
