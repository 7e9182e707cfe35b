package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueSpec is one durable queue and the exchange it is bound to.
type QueueSpec struct {
	Name     string
	Exchange string
}

// Topology is the full set of exchanges and queues the pipeline relies on.
type Topology struct {
	Exchanges          []string
	Queues             []QueueSpec
	DeadLetterExchange string
	DeadLetterQueue    string
}

// TopologyFromConfig expands the configured bindings into queue specs.
func TopologyFromConfig(cfg config.BusConfig) Topology {
	t := Topology{
		DeadLetterExchange: cfg.DeadLetterExchange,
		DeadLetterQueue:    cfg.DeadLetterQueue,
	}
	seen := make(map[string]bool)
	for _, b := range cfg.Bindings {
		if !seen[b.Exchange] {
			seen[b.Exchange] = true
			t.Exchanges = append(t.Exchanges, b.Exchange)
		}
		for _, consumer := range b.Consumers {
			t.Queues = append(t.Queues, QueueSpec{
				Name:     config.QueueName(b.Exchange, consumer),
				Exchange: b.Exchange,
			})
		}
	}
	return t
}

func (t Topology) lookup(queue string) (QueueSpec, bool) {
	if queue == t.DeadLetterQueue {
		return QueueSpec{Name: t.DeadLetterQueue, Exchange: t.DeadLetterExchange}, true
	}
	for _, q := range t.Queues {
		if q.Name == queue {
			return q, true
		}
	}
	return QueueSpec{}, false
}

// AllQueues lists the work queues followed by the dead-letter queue.
func (t Topology) AllQueues() []string {
	out := make([]string, 0, len(t.Queues)+1)
	for _, q := range t.Queues {
		out = append(out, q.Name)
	}
	return append(out, t.DeadLetterQueue)
}

// Manager declares and migrates the topology.
type Manager struct {
	open    ChannelOpener
	topo    Topology
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewManager(open ChannelOpener, topo Topology, m *metrics.Metrics) *Manager {
	return &Manager{
		open:    open,
		topo:    topo,
		metrics: m,
		logger:  slog.Default().With("component", "bus-topology"),
	}
}

// DeclareTopology declares every exchange, queue and binding. All
// declarations are durable and additive, so running it again is a no-op and
// never touches queued messages.
func (m *Manager) DeclareTopology(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, err := m.open()
	if err != nil {
		return apperrors.Transient("opening topology channel", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(m.topo.DeadLetterExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring dead letter exchange %s: %w", m.topo.DeadLetterExchange, err)
	}
	if err := declareAndBind(ch, m.topo.DeadLetterQueue, m.topo.DeadLetterExchange, nil); err != nil {
		return err
	}
	for _, ex := range m.topo.Exchanges {
		if err := ch.ExchangeDeclare(ex, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring exchange %s: %w", ex, err)
		}
	}
	for _, q := range m.topo.Queues {
		if err := declareAndBind(ch, q.Name, q.Exchange, m.queueArgs()); err != nil {
			return err
		}
	}
	m.logger.Info("topology declared",
		"exchanges", len(m.topo.Exchanges),
		"queues", len(m.topo.Queues),
		"dead_letter_exchange", m.topo.DeadLetterExchange,
	)
	return nil
}

// RecreateOptions controls how a non-empty queue is handled.
type RecreateOptions struct {
	// Discard deletes queued messages. The count is logged and counted.
	Discard bool
	// DrainTimeout waits for consumers to empty the queue before giving up.
	DrainTimeout time.Duration
	// PollInterval is the drain polling period.
	PollInterval time.Duration
}

// Recreate deletes and redeclares one queue, used when its arguments change.
// A non-empty queue is drained (waiting up to DrainTimeout) or, only when
// Discard is set, deleted with its messages. It returns how many messages
// were discarded.
func (m *Manager) Recreate(ctx context.Context, queue string, opts RecreateOptions) (int, error) {
	def, ok := m.topo.lookup(queue)
	if !ok {
		return 0, fmt.Errorf("queue %s: %w", queue, apperrors.ErrNotFound)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	depth, exists, err := m.inspect(queue)
	if err != nil {
		return 0, err
	}
	if exists && depth > 0 && !opts.Discard {
		depth, err = m.waitDrained(ctx, queue, opts)
		if err != nil {
			return 0, err
		}
		if depth > 0 {
			return 0, fmt.Errorf("queue %s holds %d messages: %w", queue, depth, apperrors.ErrQueueNotEmpty)
		}
	}

	ch, err := m.open()
	if err != nil {
		return 0, apperrors.Transient("opening topology channel", err)
	}
	defer ch.Close()

	discarded := 0
	if exists {
		if depth > 0 {
			m.logger.Warn("discarding queued messages", "queue", queue, "messages", depth)
		}
		// ifEmpty guards against messages published after the drain check.
		purged, err := ch.QueueDelete(queue, false, !opts.Discard, false)
		if err != nil {
			return 0, fmt.Errorf("deleting queue %s: %w", queue, err)
		}
		discarded = purged
		if discarded > 0 {
			m.metrics.RecreateDiscardedTotal.WithLabelValues(queue).Add(float64(discarded))
		}
	}

	var args amqp.Table
	if def.Exchange != m.topo.DeadLetterExchange {
		args = m.queueArgs()
	}
	if err := declareAndBind(ch, def.Name, def.Exchange, args); err != nil {
		return discarded, err
	}
	m.logger.Info("queue recreated", "queue", queue, "exchange", def.Exchange, "discarded", discarded)
	return discarded, nil
}

// Depth returns the number of ready messages in queue.
func (m *Manager) Depth(ctx context.Context, queue string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	depth, exists, err := m.inspect(queue)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("queue %s: %w", queue, apperrors.ErrNotFound)
	}
	return depth, nil
}

func (m *Manager) waitDrained(ctx context.Context, queue string, opts RecreateOptions) (int, error) {
	depth, _, err := m.inspect(queue)
	if err != nil || opts.DrainTimeout <= 0 {
		return depth, err
	}
	m.logger.Info("waiting for queue to drain", "queue", queue, "messages", depth, "timeout", opts.DrainTimeout)
	deadline := time.NewTimer(opts.DrainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	for depth > 0 {
		select {
		case <-ctx.Done():
			return depth, ctx.Err()
		case <-deadline.C:
			return depth, nil
		case <-ticker.C:
			depth, _, err = m.inspect(queue)
			if err != nil {
				return depth, err
			}
		}
	}
	return 0, nil
}

// inspect runs a passive declare on its own channel; the broker closes the
// channel when the queue does not exist.
func (m *Manager) inspect(queue string) (int, bool, error) {
	ch, err := m.open()
	if err != nil {
		return 0, false, apperrors.Transient("opening topology channel", err)
	}
	defer ch.Close()
	q, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("inspecting queue %s: %w", queue, err)
	}
	return q.Messages, true, nil
}

func (m *Manager) queueArgs() amqp.Table {
	return amqp.Table{"x-dead-letter-exchange": m.topo.DeadLetterExchange}
}

func declareAndBind(ch TopologyChannel, queue, exchange string, args amqp.Table) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declaring queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, "", exchange, false, nil); err != nil {
		return fmt.Errorf("binding queue %s to %s: %w", queue, exchange, err)
	}
	return nil
}
