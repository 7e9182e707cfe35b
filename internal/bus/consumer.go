package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Outcome is a handler's verdict on one delivery.
type Outcome int

const (
	Ack Outcome = iota
	NackRequeue
	NackDiscard
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case NackRequeue:
		return "requeue"
	case NackDiscard:
		return "discard"
	default:
		return "unknown"
	}
}

// ErrDeliveriesClosed is returned by Run when the broker closes the delivery
// stream, usually because the channel or connection dropped.
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// Delivery is what a handler sees of an AMQP delivery.
type Delivery struct {
	Queue     string
	MessageID string
	Body      []byte
	Attempt   int
}

// Handler processes one delivery. The message stays unacknowledged until it
// returns.
type Handler func(ctx context.Context, d Delivery) Outcome

// ConsumerConfig tunes one consume loop.
type ConsumerConfig struct {
	Queue       string
	Tag         string
	Prefetch    int
	MaxAttempts int
}

// Consumer runs the consume contract for a single queue on a single channel.
type Consumer struct {
	ch        ConsumeChannel
	cfg       ConsumerConfig
	handler   Handler
	republish *Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewConsumer wires a consume loop. republish must be bound to ch so the
// retry copy is confirmed before the original is acked.
func NewConsumer(ch ConsumeChannel, cfg ConsumerConfig, handler Handler, republish *Publisher, m *metrics.Metrics) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Consumer{
		ch:        ch,
		cfg:       cfg,
		handler:   handler,
		republish: republish,
		metrics:   m,
		logger:    slog.Default().With("component", "bus-consumer", "queue", cfg.Queue),
	}
}

// Run consumes until ctx is cancelled or the broker closes the stream. The
// in-flight delivery is always settled before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("setting qos on %s: %w", c.cfg.Queue, err)
	}
	deliveries, err := c.ch.Consume(c.cfg.Queue, c.cfg.Tag, false, false, false, false, nil)
	if err != nil {
		return apperrors.Transient("consuming "+c.cfg.Queue, err)
	}
	c.logger.Info("consumer started", "prefetch", c.cfg.Prefetch, "max_attempts", c.cfg.MaxAttempts)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", "reason", ctx.Err())
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrDeliveriesClosed
			}
			c.handleDelivery(ctx, d)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	attempt := attemptOf(d.Headers)
	outcome := c.invoke(ctx, Delivery{
		Queue:     c.cfg.Queue,
		MessageID: d.MessageId,
		Body:      d.Body,
		Attempt:   attempt,
	})

	log := c.logger.With("message_id", d.MessageId, "attempt", attempt)
	label := outcome.String()
	var err error
	switch outcome {
	case Ack:
		err = d.Ack(false)
	case NackDiscard:
		log.Warn("discarding message to dead letter exchange")
		err = d.Nack(false, false)
	default:
		if attempt >= c.cfg.MaxAttempts {
			log.Error("attempt ceiling reached, dead-lettering", "max_attempts", c.cfg.MaxAttempts)
			label = "dead_letter"
			err = d.Nack(false, false)
			break
		}
		err = c.requeue(ctx, d, attempt)
	}
	if err != nil {
		log.Error("failed to settle delivery", "outcome", label, "error", err)
	}
	c.metrics.DeliveriesTotal.WithLabelValues(c.cfg.Queue, label).Inc()
}

// requeue republishes a copy with the attempt counter bumped, then acks the
// original. If the copy cannot be confirmed the original goes back to the
// broker instead, so the message is never lost.
func (c *Consumer) requeue(ctx context.Context, d amqp.Delivery, attempt int) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[AttemptHeader] = int32(attempt + 1)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := c.republish.Publish(pubCtx, Message{
		Exchange:   "",
		RoutingKey: c.cfg.Queue,
		Body:       d.Body,
		MessageID:  d.MessageId,
		Headers:    headers,
	})
	if err != nil {
		c.logger.Error("retry republish failed, returning message to broker", "message_id", d.MessageId, "error", err)
		return d.Nack(false, true)
	}
	return d.Ack(false)
}

// invoke runs the handler, converting a panic into a single requeue.
func (c *Consumer) invoke(ctx context.Context, d Delivery) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panicked",
				"message_id", d.MessageID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			outcome = NackRequeue
		}
	}()
	return c.handler(ctx, d)
}

func attemptOf(headers amqp.Table) int {
	switch v := headers[AttemptHeader].(type) {
	case int:
		return max(v, 1)
	case int8:
		return max(int(v), 1)
	case int16:
		return max(int(v), 1)
	case int32:
		return max(int(v), 1)
	case int64:
		return max(int(v), 1)
	case uint8:
		return max(int(v), 1)
	case uint16:
		return max(int(v), 1)
	case uint32:
		return max(int(v), 1)
	default:
		return 1
	}
}
