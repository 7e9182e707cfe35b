// Package rabbitmq owns the broker connection lifecycle. Topology, publishing
// and consuming live in internal/bus and only borrow channels from here.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/resilience"
	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrConnectionClosed = errors.New("rabbitmq connection closed")

// Connection is an explicitly opened and closed broker handle.
type Connection struct {
	conn   *amqp.Connection
	logger *slog.Logger
}

// Open dials the broker, retrying while it is still coming up.
func Open(ctx context.Context, cfg config.RabbitMQConfig) (*Connection, error) {
	logger := slog.Default().With("component", "rabbitmq")
	var conn *amqp.Connection
	err := resilience.Retry(ctx, "rabbitmq-dial", resilience.RetryConfig{
		MaxAttempts:  cfg.DialAttempts,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}, func() error {
		c, err := amqp.Dial(cfg.URL)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dialing rabbitmq: %w", err)
	}
	logger.Info("connected to rabbitmq")
	return &Connection{conn: conn, logger: logger}, nil
}

// Channel opens a new AMQP channel. Channels are not safe for concurrent use,
// so every worker opens its own.
func (c *Connection) Channel() (*amqp.Channel, error) {
	if c.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	return ch, nil
}

// NotifyClose reports the error that closed the connection, if any.
func (c *Connection) NotifyClose() <-chan *amqp.Error {
	return c.conn.NotifyClose(make(chan *amqp.Error, 1))
}

func (c *Connection) Ping(ctx context.Context) error {
	if c.conn.IsClosed() {
		return ErrConnectionClosed
	}
	return nil
}

func (c *Connection) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}
