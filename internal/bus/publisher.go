package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// confirmBuffer holds late confirmations until the next publish drains them,
// so the channel's confirm delivery never blocks on a stale entry.
const confirmBuffer = 64

// AttemptHeader counts how many times a message has been handed to a
// consumer. It is bumped on every republish-for-retry.
const AttemptHeader = "x-attempt"

// Message is one outgoing bus message.
type Message struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	MessageID  string
	Headers    amqp.Table
}

// Publisher sends persistent messages and waits for the broker to confirm
// each one. Publishes are serialised; a confirmation is matched to its
// message by delivery tag, so a late confirm for an earlier publish that
// timed out is skipped rather than taken for the current one.
type Publisher struct {
	ch       PublishChannel
	confirms chan amqp.Confirmation
	returns  chan amqp.Return
	timeout  time.Duration
	mu       sync.Mutex
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewPublisher puts ch into confirm mode and returns a Publisher bound to it.
func NewPublisher(ch PublishChannel, confirmTimeout time.Duration, m *metrics.Metrics) (*Publisher, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enabling publisher confirms: %w", err)
	}
	if confirmTimeout <= 0 {
		confirmTimeout = 5 * time.Second
	}
	return &Publisher{
		ch:       ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, confirmBuffer)),
		returns:  ch.NotifyReturn(make(chan amqp.Return, 16)),
		timeout:  confirmTimeout,
		metrics:  m,
		logger:   slog.Default().With("component", "bus-publisher"),
	}, nil
}

// Publish delivers msg to every queue bound to msg.Exchange. It returns an
// error when the broker is unreachable, nacks the message, or has no queue to
// route it to. Callers decide whether to retry.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	err := p.publish(ctx, msg)
	status := "ok"
	if err != nil {
		status = "error"
		p.logger.Error("publish failed", "exchange", msg.Exchange, "routing_key", msg.RoutingKey, "error", err)
	}
	p.metrics.PublishTotal.WithLabelValues(exchangeLabel(msg), status).Inc()
	return err
}

func (p *Publisher) publish(ctx context.Context, msg Message) error {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	tag := p.ch.GetNextPublishSeqNo()
	err := p.ch.PublishWithContext(ctx, msg.Exchange, msg.RoutingKey, true, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageID,
		Timestamp:    time.Now().UTC(),
		Headers:      msg.Headers,
		Body:         msg.Body,
	})
	if err != nil {
		return apperrors.Transient("publishing to "+exchangeLabel(msg), err)
	}
	if err := p.awaitConfirm(ctx, tag); err != nil {
		return fmt.Errorf("%s: %w", exchangeLabel(msg), err)
	}

	// The broker sends basic.return before the ack of an unroutable
	// mandatory message, so any return for this message is already queued.
	for {
		select {
		case ret, ok := <-p.returns:
			if !ok {
				return nil
			}
			if ret.MessageId == msg.MessageID {
				return fmt.Errorf("%s: %s: %w", exchangeLabel(msg), ret.ReplyText, apperrors.ErrUnroutable)
			}
		default:
			return nil
		}
	}
}

// awaitConfirm waits for the confirmation carrying tag. Confirmations for
// lower tags belong to publishes that already gave up and are dropped.
func (p *Publisher) awaitConfirm(ctx context.Context, tag uint64) error {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	for {
		select {
		case confirm, ok := <-p.confirms:
			if !ok {
				return apperrors.Transient("awaiting confirm", amqp.ErrClosed)
			}
			if confirm.DeliveryTag < tag {
				p.logger.Warn("dropping late confirm", "delivery_tag", confirm.DeliveryTag, "ack", confirm.Ack, "awaiting", tag)
				continue
			}
			if !confirm.Ack {
				return apperrors.ErrPublishNacked
			}
			return nil
		case <-timer.C:
			return fmt.Errorf("confirm: %w", apperrors.ErrTimeout)
		case <-ctx.Done():
			return apperrors.Transient("awaiting confirm", ctx.Err())
		}
	}
}

func exchangeLabel(msg Message) string {
	if msg.Exchange == "" {
		return "(default)"
	}
	return msg.Exchange
}
