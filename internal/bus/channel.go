// Package bus implements the fan-out topology, confirmed persistent
// publishing, and the acknowledge-on-return consume contract on top of
// RabbitMQ.
package bus

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// TopologyChannel is the subset of *amqp.Channel used to declare and inspect
// topology.
type TopologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error)
	Close() error
}

// PublishChannel is the subset of *amqp.Channel used for confirmed publishing.
type PublishChannel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyReturn(c chan amqp.Return) chan amqp.Return
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	GetNextPublishSeqNo() uint64
}

// ConsumeChannel is the subset of *amqp.Channel a consume loop needs. It
// publishes too, because requeues are republished with a bumped attempt
// counter.
type ConsumeChannel interface {
	PublishChannel
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Channel is everything this package uses. *amqp.Channel satisfies it.
type Channel interface {
	TopologyChannel
	ConsumeChannel
}

// ChannelOpener hands out a fresh channel. A failed passive declare closes
// the channel it ran on, so topology code opens a new one per operation.
type ChannelOpener func() (Channel, error)

// Opener adapts a broker connection into a ChannelOpener.
func Opener(conn *rabbitmq.Connection) ChannelOpener {
	return func() (Channel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}
