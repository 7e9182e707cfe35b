package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
)

// DepthReader reports a queue's ready message count.
type DepthReader interface {
	Depth(ctx context.Context, queue string) (int, error)
}

// Monitor publishes queue depths, dead-letter queue included, as gauges so
// operators see poison messages piling up.
type Monitor struct {
	reader   DepthReader
	queues   []string
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewMonitor(reader DepthReader, queues []string, interval time.Duration, m *metrics.Metrics) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		reader:   reader,
		queues:   queues,
		interval: interval,
		metrics:  m,
		logger:   slog.Default().With("component", "queue-monitor"),
	}
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll samples every queue once.
func (m *Monitor) Poll(ctx context.Context) {
	for _, q := range m.queues {
		depth, err := m.reader.Depth(ctx, q)
		if err != nil {
			m.logger.Warn("queue depth unavailable", "queue", q, "error", err)
			continue
		}
		m.metrics.QueueDepth.WithLabelValues(q).Set(float64(depth))
	}
}
