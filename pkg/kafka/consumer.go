// Package kafka wraps segmentio/kafka-go for the lead document topic: a
// keyed JSON producer and a group consumer that commits after handling.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// Record is one fetched message.
type Record struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
}

func recordOf(m kafka.Message) Record {
	h := make(map[string]string, len(m.Headers))
	for _, kv := range m.Headers {
		h[kv.Key] = string(kv.Value)
	}
	return Record{Key: m.Key, Value: m.Value, Headers: h, Partition: m.Partition, Offset: m.Offset}
}

// Handler processes one record. Transient errors are retried; anything else
// is logged and the record committed.
type Handler func(ctx context.Context, rec Record) error

// Consumer reads a topic as part of a consumer group. Offsets are committed
// only after the handler has finished with a record.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	handler Handler
	retry   resilience.RetryConfig
	fetch   resilience.Backoff
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler Handler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    1,
			MaxBytes:    10e6,
			StartOffset: kafka.FirstOffset,
		}),
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler: handler,
		retry: resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Retryable:    apperrors.IsTransient,
		},
		fetch: resilience.Backoff{Initial: 250 * time.Millisecond, Max: 10 * time.Second, Multiplier: 2, Jitter: 0.2},
	}
}

// Start consumes until ctx ends and then closes the reader.
func (c *Consumer) Start(ctx context.Context) error {
	defer c.reader.Close()
	c.logger.Info("consumer started")

	failures := 0
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.Info("consumer stopping", "reason", context.Cause(ctx))
				return nil
			}
			failures++
			delay := c.fetch.Delay(failures)
			c.logger.Error("fetch failed", "error", err, "consecutive_failures", failures, "next_delay", delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		failures = 0

		rec := recordOf(msg)
		err = resilience.Retry(ctx, "kafka-handler", c.retry, func() error {
			return c.handler(ctx, rec)
		})
		if err != nil {
			if ctx.Err() != nil {
				// Left uncommitted so the group redelivers it.
				return nil
			}
			c.logger.Error("skipping record", "partition", rec.Partition, "offset", rec.Offset, "key", string(rec.Key), "error", err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("commit failed", "partition", rec.Partition, "offset", rec.Offset, "error", err)
		}
	}
}

// DecodeJSON unmarshals a record value; a bad payload is malformed input.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, apperrors.Malformed("decoding kafka record: %v", err)
	}
	return result, nil
}

// Ping dials the first reachable broker.
func Ping(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return apperrors.Transient("kafka ping", errors.New("no brokers configured"))
	}
	var errs []error
	for _, b := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err == nil {
			return conn.Close()
		}
		errs = append(errs, err)
	}
	return apperrors.Transient("kafka ping", errors.Join(errs...))
}
