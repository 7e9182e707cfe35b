package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// HeaderContentType and HeaderProducedAt are set on every record.
const (
	HeaderContentType = "content-type"
	HeaderProducedAt  = "produced-at"
)

// Event is one record for the topic. Key picks the partition, so every
// document of a lead stays ordered on one partition.
type Event struct {
	Key     string
	Value   any
	Headers map[string]string
}

func (e Event) message(now time.Time) (kafka.Message, error) {
	value, err := json.Marshal(e.Value)
	if err != nil {
		return kafka.Message{}, apperrors.Malformed("encoding record %q: %v", e.Key, err)
	}
	headers := []kafka.Header{
		{Key: HeaderContentType, Value: []byte("application/json")},
		{Key: HeaderProducedAt, Value: []byte(now.UTC().Format(time.RFC3339Nano))},
	}
	for k, v := range e.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{Key: []byte(e.Key), Value: value, Headers: headers}, nil
}

// Producer writes JSON records synchronously with acks from all replicas.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	logger := slog.Default().With("component", "kafka-producer", "topic", topic)
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			MaxAttempts:            3,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
				logger.Error(fmt.Sprintf(msg, args...))
			}),
		},
		logger: logger,
	}
}

// Publish writes events in one batch. An encoding failure is malformed input
// and nothing is written; a write failure is transient.
func (p *Producer) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	now := time.Now()
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		m, err := e.message(now)
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("write failed", "records", len(msgs), "first_key", events[0].Key, "error", err)
		return apperrors.Transient("publishing to kafka", err)
	}
	p.logger.Debug("records written", "records", len(msgs), "first_key", events[0].Key)
	return nil
}

// Close flushes pending writes.
func (p *Producer) Close() error {
	return p.writer.Close()
}
