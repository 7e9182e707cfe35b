// Package stage runs an enrichment stage behind the bus consume contract:
// decode, resolve the lead, skip duplicates, call the stage, publish what it
// produced, and map the result onto an ack outcome.
package stage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/bus"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/lead"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
	"github.com/google/uuid"
)

// Input is what a stage is handed for one delivery.
type Input struct {
	ExternalID string
	// LeadID is set only for stages that need correlation.
	LeadID  string
	Payload lead.Payload
	Attempt int
}

// Outgoing is one event a stage wants published.
type Outgoing struct {
	Exchange string
	Payload  lead.Payload
}

// Stage is one enrichment step. Handle must be safe to call twice with the
// same input.
type Stage interface {
	Name() string
	NeedsCorrelation() bool
	Handle(ctx context.Context, in Input) ([]Outgoing, error)
}

// Publisher is satisfied by *bus.Publisher.
type Publisher interface {
	Publish(ctx context.Context, msg bus.Message) error
}

// Correlator is satisfied by *correlation.Store.
type Correlator interface {
	GetWithRetry(ctx context.Context, externalID string, maxAttempts int, backoff time.Duration) (string, error)
}

// Markers records which deliveries a stage already finished. *redis.Client
// satisfies it.
type Markers interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
}

// Options tune a Runner.
type Options struct {
	LookupAttempts int
	LookupBackoff  time.Duration
	CallTimeout    time.Duration
	MarkerPrefix   string
	MarkerTTL      time.Duration
}

const defaultMarkerPrefix = "processed"

// Runner adapts a Stage to a bus.Handler.
type Runner struct {
	stage   Stage
	store   Correlator
	markers Markers
	opts    Options
	metrics *metrics.Metrics
}

// messageNamespace seeds deterministic ids for published events, so a
// redelivered input republishes under the same message id.
var messageNamespace = uuid.MustParse("6f1d8c62-2a43-4f6e-9a55-0c8f3f2b7d10")

// NewRunner wires a Runner. markers may be nil to disable duplicate
// suppression; store may be nil for stages that never need correlation.
func NewRunner(s Stage, store Correlator, markers Markers, opts Options, m *metrics.Metrics) *Runner {
	if opts.MarkerPrefix == "" {
		opts.MarkerPrefix = defaultMarkerPrefix
	}
	if opts.MarkerTTL <= 0 {
		opts.MarkerTTL = 24 * time.Hour
	}
	return &Runner{stage: s, store: store, markers: markers, opts: opts, metrics: m}
}

// Handler returns a bus.Handler that publishes through pub.
func (r *Runner) Handler(pub Publisher) bus.Handler {
	return func(ctx context.Context, d bus.Delivery) bus.Outcome {
		start := time.Now()
		defer func() {
			r.metrics.HandlerDuration.WithLabelValues(r.stage.Name()).Observe(time.Since(start).Seconds())
		}()
		return r.handle(ctx, pub, d)
	}
}

func (r *Runner) handle(ctx context.Context, pub Publisher, d bus.Delivery) bus.Outcome {
	log := logger.WithComponent("stage").With("stage", r.stage.Name(), "queue", d.Queue, "message_id", d.MessageID, "attempt", d.Attempt)

	ev, err := lead.Decode(d.Body)
	if err != nil {
		log.Warn("discarding malformed message", "reason", err)
		return bus.NackDiscard
	}
	ctx = logger.WithExternalID(ctx, ev.ExternalID)
	log = log.With("external_id", ev.ExternalID, "kind", ev.Payload.Kind())

	marker := r.markerKey(ev.ExternalID, d.Body)
	if r.markers != nil {
		done, err := r.markers.Exists(ctx, marker)
		if err != nil {
			log.Error("checking processed marker failed, requeueing", "error", err)
			return bus.NackRequeue
		}
		if done {
			log.Info("already processed, skipping")
			return bus.Ack
		}
	}

	in := Input{ExternalID: ev.ExternalID, Payload: ev.Payload, Attempt: d.Attempt}
	if r.stage.NeedsCorrelation() {
		leadID, err := r.store.GetWithRetry(ctx, ev.ExternalID, r.opts.LookupAttempts, r.opts.LookupBackoff)
		if err != nil {
			if apperrors.IsNotFound(err) {
				log.Warn("correlation entry missing, dropping", "error", fmt.Errorf("%w: %w", apperrors.ErrAmbiguousCorrelation, err))
				return bus.Ack
			}
			log.Error("correlation lookup failed, requeueing", "error", err)
			return bus.NackRequeue
		}
		in.LeadID = leadID
	}

	callCtx := ctx
	if r.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.opts.CallTimeout)
		defer cancel()
	}
	out, err := r.stage.Handle(callCtx, in)
	if err != nil {
		return outcomeFor(log, err)
	}

	for i, o := range out {
		body, err := lead.Encode(ev.ExternalID, o.Payload)
		if err != nil {
			log.Error("stage produced an invalid event, discarding input", "exchange", o.Exchange, "error", err)
			return bus.NackDiscard
		}
		msg := bus.Message{
			Exchange:  o.Exchange,
			Body:      body,
			MessageID: uuid.NewSHA1(messageNamespace, []byte(fmt.Sprintf("%s|%d|%s", marker, i, o.Exchange))).String(),
		}
		if err := pub.Publish(ctx, msg); err != nil {
			log.Error("publishing result failed, requeueing", "exchange", o.Exchange, "error", err)
			return bus.NackRequeue
		}
	}

	if r.markers != nil {
		if _, err := r.markers.SetNX(ctx, marker, time.Now().UTC().Format(time.RFC3339), r.opts.MarkerTTL); err != nil {
			log.Warn("writing processed marker failed", "error", err)
		}
	}
	log.Info("message processed", "published", len(out))
	return bus.Ack
}

func (r *Runner) markerKey(externalID string, body []byte) string {
	sum := sha256.Sum256(body)
	return r.opts.MarkerPrefix + ":" + r.stage.Name() + ":" + externalID + ":" + hex.EncodeToString(sum[:16])
}

// MarkerPattern is the glob matching the markers of one stage, or of one
// lead within it when externalID is set.
func MarkerPattern(prefix, stageName, externalID string) string {
	if prefix == "" {
		prefix = defaultMarkerPrefix
	}
	if externalID == "" {
		externalID = "*"
	}
	return prefix + ":" + stageName + ":" + externalID + ":*"
}

// outcomeFor maps a stage error onto the delivery contract.
func outcomeFor(log *slog.Logger, err error) bus.Outcome {
	switch apperrors.Classify(err) {
	case apperrors.KindMalformed:
		log.Warn("discarding message", "reason", err)
		return bus.NackDiscard
	case apperrors.KindNoMatch:
		log.Info("no confident match", "reason", err)
		return bus.Ack
	case apperrors.KindAmbiguous:
		log.Warn("correlation entry missing, dropping", "reason", err)
		return bus.Ack
	case apperrors.KindTransient:
		log.Error("transient failure, requeueing", "error", err)
		return bus.NackRequeue
	default:
		log.Error("stage failed, requeueing", "error", err)
		return bus.NackRequeue
	}
}
