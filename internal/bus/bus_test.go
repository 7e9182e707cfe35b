package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
)

func testTopology() Topology {
	return TopologyFromConfig(config.BusConfig{
		Bindings: []config.ExchangeBinding{
			{Exchange: "leads", Consumers: []string{"registry", "search", "website"}},
			{Exchange: "companies", Consumers: []string{"indexer"}},
		},
		DeadLetterExchange: "dead_letter",
		DeadLetterQueue:    "dead_letter.inspect",
	})
}

func TestDeclareTopologyIsIdempotent(t *testing.T) {
	broker := newFakeBroker()
	mgr := NewManager(broker.opener(), testTopology(), metrics.NewNop())
	ctx := context.Background()

	if err := mgr.DeclareTopology(ctx); err != nil {
		t.Fatalf("first declare: %v", err)
	}
	broker.setDepth("leads.search", 3)
	if err := mgr.DeclareTopology(ctx); err != nil {
		t.Fatalf("second declare: %v", err)
	}

	if got := broker.queues["leads.search"].messages; got != 3 {
		t.Errorf("redeclare lost messages: depth = %d, want 3", got)
	}
	for _, name := range []string{"leads.registry", "leads.search", "leads.website"} {
		q := broker.queues[name]
		if q == nil {
			t.Fatalf("queue %s not declared", name)
		}
		if len(q.bindings) != 1 || !q.bindings["leads"] {
			t.Errorf("queue %s bindings = %v, want only leads", name, q.bindings)
		}
		if q.args["x-dead-letter-exchange"] != "dead_letter" {
			t.Errorf("queue %s missing dead letter argument", name)
		}
	}
	if broker.exchanges["leads"] != amqp.ExchangeFanout {
		t.Errorf("leads exchange kind = %q", broker.exchanges["leads"])
	}
	if !broker.queues["dead_letter.inspect"].bindings["dead_letter"] {
		t.Error("dead letter queue not bound")
	}
}

func TestRecreateRefusesNonEmptyQueue(t *testing.T) {
	broker := newFakeBroker()
	mgr := NewManager(broker.opener(), testTopology(), metrics.NewNop())
	ctx := context.Background()
	if err := mgr.DeclareTopology(ctx); err != nil {
		t.Fatal(err)
	}
	broker.setDepth("leads.website", 2)

	_, err := mgr.Recreate(ctx, "leads.website", RecreateOptions{})
	if !errors.Is(err, apperrors.ErrQueueNotEmpty) {
		t.Fatalf("err = %v, want ErrQueueNotEmpty", err)
	}
	if broker.queues["leads.website"].messages != 2 {
		t.Error("messages were dropped")
	}
}

func TestRecreateDiscardReportsCount(t *testing.T) {
	broker := newFakeBroker()
	m := metrics.NewNop()
	mgr := NewManager(broker.opener(), testTopology(), m)
	ctx := context.Background()
	if err := mgr.DeclareTopology(ctx); err != nil {
		t.Fatal(err)
	}
	broker.setDepth("companies.indexer", 4)

	discarded, err := mgr.Recreate(ctx, "companies.indexer", RecreateOptions{Discard: true})
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if discarded != 4 {
		t.Errorf("discarded = %d, want 4", discarded)
	}
	if got := testutil.ToFloat64(m.RecreateDiscardedTotal.WithLabelValues("companies.indexer")); got != 4 {
		t.Errorf("discarded metric = %v, want 4", got)
	}
	q := broker.queues["companies.indexer"]
	if q == nil || !q.bindings["companies"] {
		t.Fatal("queue not redeclared and rebound")
	}
}

func TestRecreateWaitsForDrain(t *testing.T) {
	broker := newFakeBroker()
	mgr := NewManager(broker.opener(), testTopology(), metrics.NewNop())
	ctx := context.Background()
	if err := mgr.DeclareTopology(ctx); err != nil {
		t.Fatal(err)
	}
	broker.setDepth("leads.registry", 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		broker.setDepth("leads.registry", 0)
	}()

	discarded, err := mgr.Recreate(ctx, "leads.registry", RecreateOptions{
		DrainTimeout: time.Second,
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if discarded != 0 {
		t.Errorf("discarded = %d, want 0", discarded)
	}
}

func TestRecreateUnknownQueue(t *testing.T) {
	mgr := NewManager(newFakeBroker().opener(), testTopology(), metrics.NewNop())
	_, err := mgr.Recreate(context.Background(), "nope", RecreateOptions{Discard: true})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPublishIsPersistentAndConfirmed(t *testing.T) {
	broker := newFakeBroker()
	pub, err := NewPublisher(broker, time.Second, metrics.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := pub.Publish(context.Background(), Message{Exchange: "leads", Body: []byte(`{}`)}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(broker.published) != 1 {
		t.Fatalf("published = %d", len(broker.published))
	}
	got := broker.published[0]
	if got.msg.DeliveryMode != amqp.Persistent {
		t.Errorf("delivery mode = %d, want persistent", got.msg.DeliveryMode)
	}
	if got.msg.MessageId == "" {
		t.Error("message id not assigned")
	}
}

func TestPublishSkipsLateConfirmOfEarlierMessage(t *testing.T) {
	broker := newFakeBroker()
	pub, err := NewPublisher(broker, 20*time.Millisecond, metrics.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	broker.confirmDelay = 60 * time.Millisecond
	err = pub.Publish(context.Background(), Message{Exchange: "companies", Body: []byte(`{"n":1}`)})
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("first publish err = %v, want timeout", err)
	}
	// Let the ack for the first message land in the confirm buffer.
	time.Sleep(100 * time.Millisecond)

	broker.nackNext = true
	err = pub.Publish(context.Background(), Message{Exchange: "companies", Body: []byte(`{"n":2}`)})
	if !errors.Is(err, apperrors.ErrPublishNacked) {
		t.Fatalf("second publish err = %v, want nack", err)
	}

	if err := pub.Publish(context.Background(), Message{Exchange: "companies", Body: []byte(`{"n":3}`)}); err != nil {
		t.Fatalf("third publish: %v", err)
	}
}

func TestPublishSurfacesFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeBroker)
		want  error
	}{
		{"unroutable", func(b *fakeBroker) { b.unroutable = true }, apperrors.ErrUnroutable},
		{"nacked", func(b *fakeBroker) { b.nackNext = true }, apperrors.ErrPublishNacked},
		{"broker down", func(b *fakeBroker) { b.publishErr = amqp.ErrClosed }, apperrors.ErrTransientIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := newFakeBroker()
			m := metrics.NewNop()
			pub, err := NewPublisher(broker, time.Second, m)
			if err != nil {
				t.Fatal(err)
			}
			tt.setup(broker)
			err = pub.Publish(context.Background(), Message{Exchange: "companies", Body: []byte(`{}`)})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if got := testutil.ToFloat64(m.PublishTotal.WithLabelValues("companies", "error")); got != 1 {
				t.Errorf("error metric = %v, want 1", got)
			}
		})
	}
}

func newTestConsumer(t *testing.T, broker *fakeBroker, maxAttempts int, h Handler) (*Consumer, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewNop()
	pub, err := NewPublisher(broker, time.Second, m)
	if err != nil {
		t.Fatal(err)
	}
	return NewConsumer(broker, ConsumerConfig{Queue: "leads.search", MaxAttempts: maxAttempts}, h, pub, m), m
}

func delivery(ack *fakeAck, attempt int) amqp.Delivery {
	d := amqp.Delivery{Acknowledger: ack, MessageId: "m-1", Body: []byte(`{"kind":"raw_lead"}`)}
	if attempt > 0 {
		d.Headers = amqp.Table{AttemptHeader: int32(attempt)}
	}
	return d
}

func TestConsumerSettlesByOutcome(t *testing.T) {
	tests := []struct {
		name        string
		outcome     Outcome
		attempt     int
		wantAcked   int
		wantNacked  int
		wantRepub   int
		wantLabel   string
		wantNextTry int32
	}{
		{name: "ack", outcome: Ack, wantAcked: 1, wantLabel: "ack"},
		{name: "discard", outcome: NackDiscard, wantNacked: 1, wantLabel: "discard"},
		{name: "requeue first attempt", outcome: NackRequeue, wantAcked: 1, wantRepub: 1, wantLabel: "requeue", wantNextTry: 2},
		{name: "requeue at ceiling", outcome: NackRequeue, attempt: 3, wantNacked: 1, wantLabel: "dead_letter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := newFakeBroker()
			c, m := newTestConsumer(t, broker, 3, func(context.Context, Delivery) Outcome { return tt.outcome })
			ack := &fakeAck{}
			c.handleDelivery(context.Background(), delivery(ack, tt.attempt))

			if ack.acked != tt.wantAcked || ack.nacked != tt.wantNacked || ack.requeued != 0 {
				t.Errorf("acked=%d nacked=%d requeued=%d", ack.acked, ack.nacked, ack.requeued)
			}
			if len(broker.published) != tt.wantRepub {
				t.Fatalf("republished = %d, want %d", len(broker.published), tt.wantRepub)
			}
			if tt.wantRepub > 0 {
				p := broker.published[0]
				if p.exchange != "" || p.key != "leads.search" {
					t.Errorf("republished to %q/%q", p.exchange, p.key)
				}
				if p.msg.Headers[AttemptHeader] != tt.wantNextTry {
					t.Errorf("attempt header = %v, want %d", p.msg.Headers[AttemptHeader], tt.wantNextTry)
				}
				if p.msg.MessageId != "m-1" {
					t.Errorf("message id not preserved: %q", p.msg.MessageId)
				}
			}
			if got := testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("leads.search", tt.wantLabel)); got != 1 {
				t.Errorf("deliveries{%s} = %v, want 1", tt.wantLabel, got)
			}
		})
	}
}

func TestConsumerPanicRequeuesOnce(t *testing.T) {
	broker := newFakeBroker()
	c, _ := newTestConsumer(t, broker, 5, func(context.Context, Delivery) Outcome { panic("boom") })
	ack := &fakeAck{}
	c.handleDelivery(context.Background(), delivery(ack, 0))
	if len(broker.published) != 1 || ack.acked != 1 {
		t.Fatalf("panic should requeue once: published=%d acked=%d", len(broker.published), ack.acked)
	}
}

func TestConsumerFallsBackToBrokerRequeue(t *testing.T) {
	broker := newFakeBroker()
	c, _ := newTestConsumer(t, broker, 5, func(context.Context, Delivery) Outcome { return NackRequeue })
	broker.publishErr = amqp.ErrClosed
	ack := &fakeAck{}
	c.handleDelivery(context.Background(), delivery(ack, 1))
	if ack.requeued != 1 || ack.acked != 0 {
		t.Fatalf("acked=%d requeued=%d, want broker requeue", ack.acked, ack.requeued)
	}
}

func TestConsumerRunReturnsWhenStreamCloses(t *testing.T) {
	broker := newFakeBroker()
	var seen []int
	c, _ := newTestConsumer(t, broker, 3, func(_ context.Context, d Delivery) Outcome {
		seen = append(seen, d.Attempt)
		return Ack
	})
	ack := &fakeAck{}
	broker.deliveries <- delivery(ack, 0)
	broker.deliveries <- delivery(ack, 2)
	close(broker.deliveries)

	err := c.Run(context.Background())
	if !errors.Is(err, ErrDeliveriesClosed) {
		t.Fatalf("err = %v, want ErrDeliveriesClosed", err)
	}
	if broker.qos != 1 {
		t.Errorf("prefetch = %d, want 1", broker.qos)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("attempts seen = %v", seen)
	}
	if ack.acked != 2 {
		t.Errorf("acked = %d", ack.acked)
	}
}

func TestMonitorPollSetsGauge(t *testing.T) {
	broker := newFakeBroker()
	m := metrics.NewNop()
	mgr := NewManager(broker.opener(), testTopology(), m)
	if err := mgr.DeclareTopology(context.Background()); err != nil {
		t.Fatal(err)
	}
	broker.setDepth("dead_letter.inspect", 7)

	mon := NewMonitor(mgr, testTopology().AllQueues(), time.Second, m)
	mon.Poll(context.Background())
	if got := testutil.ToFloat64(m.QueueDepth.WithLabelValues("dead_letter.inspect")); got != 7 {
		t.Errorf("dead letter depth = %v, want 7", got)
	}
}
