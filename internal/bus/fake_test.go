package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeQueue struct {
	args     amqp.Table
	messages int
	bindings map[string]bool
}

type publishedMsg struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

// fakeBroker is an in-memory stand-in for an AMQP channel. It enforces the
// broker rules the bus relies on: redeclaring a queue with different
// arguments fails, passive declares fail for missing queues, and an ifEmpty
// delete refuses non-empty queues.
type fakeBroker struct {
	mu         sync.Mutex
	exchanges  map[string]string
	queues     map[string]*fakeQueue
	published  []publishedMsg
	confirms   chan amqp.Confirmation
	returns    chan amqp.Return
	deliveries chan amqp.Delivery

	nackNext bool
	// confirmDelay delivers the next confirmation from a goroutine after
	// the delay, like a broker answering after the publisher gave up.
	confirmDelay time.Duration
	unroutable   bool
	publishErr   error
	qos          int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		exchanges:  make(map[string]string),
		queues:     make(map[string]*fakeQueue),
		deliveries: make(chan amqp.Delivery, 8),
	}
}

func (f *fakeBroker) opener() ChannelOpener {
	return func() (Channel, error) { return f, nil }
}

func (f *fakeBroker) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.exchanges[name]; ok && existing != kind {
		return &amqp.Error{Code: amqp.PreconditionFailed, Reason: "exchange kind mismatch"}
	}
	f.exchanges[name] = kind
	return nil
}

func (f *fakeBroker) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.queues[name]; ok {
		if !sameArgs(q.args, args) {
			return amqp.Queue{}, &amqp.Error{Code: amqp.PreconditionFailed, Reason: "inequivalent arg"}
		}
		return amqp.Queue{Name: name, Messages: q.messages}, nil
	}
	f.queues[name] = &fakeQueue{args: args, bindings: make(map[string]bool)}
	return amqp.Queue{Name: name}, nil
}

func (f *fakeBroker) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queues[name]
	if !ok {
		return amqp.Queue{}, &amqp.Error{Code: amqp.NotFound, Reason: "no queue"}
	}
	return amqp.Queue{Name: name, Messages: q.messages}, nil
}

func (f *fakeBroker) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queues[name]
	if !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: "no queue"}
	}
	if _, ok := f.exchanges[exchange]; !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: "no exchange"}
	}
	q.bindings[exchange] = true
	return nil
}

func (f *fakeBroker) QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queues[name]
	if !ok {
		return 0, nil
	}
	if ifEmpty && q.messages > 0 {
		return 0, &amqp.Error{Code: amqp.PreconditionFailed, Reason: "queue not empty"}
	}
	delete(f.queues, name)
	return q.messages, nil
}

func (f *fakeBroker) Confirm(noWait bool) error { return nil }

func (f *fakeBroker) NotifyPublish(c chan amqp.Confirmation) chan amqp.Confirmation {
	f.confirms = c
	return c
}

func (f *fakeBroker) NotifyReturn(c chan amqp.Return) chan amqp.Return {
	f.returns = c
	return c
}

func (f *fakeBroker) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishedMsg{exchange: exchange, key: key, msg: msg})
	if f.unroutable && mandatory {
		f.returns <- amqp.Return{MessageId: msg.MessageId, ReplyText: "NO_ROUTE", Exchange: exchange}
	}
	ack := !f.nackNext
	f.nackNext = false
	c := amqp.Confirmation{DeliveryTag: uint64(len(f.published)), Ack: ack}
	if d := f.confirmDelay; d > 0 {
		f.confirmDelay = 0
		go func() {
			time.Sleep(d)
			f.confirms <- c
		}()
		return nil
	}
	f.confirms <- c
	return nil
}

func (f *fakeBroker) GetNextPublishSeqNo() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.published)) + 1
}

func (f *fakeBroker) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.qos = prefetchCount
	return nil
}

func (f *fakeBroker) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if autoAck {
		return nil, errors.New("auto ack not allowed")
	}
	return f.deliveries, nil
}

func (f *fakeBroker) Close() error { return nil }

func (f *fakeBroker) setDepth(queue string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[queue].messages = n
}

func sameArgs(a, b amqp.Table) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// fakeAck records how each delivery was settled.
type fakeAck struct {
	mu       sync.Mutex
	acked    int
	nacked   int
	requeued int
}

func (a *fakeAck) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked++
	return nil
}

func (a *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if requeue {
		a.requeued++
	} else {
		a.nacked++
	}
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}
