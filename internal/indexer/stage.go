// Package indexer joins enrichment results back onto their lead. It runs as
// the last stage on the bus: every company match and website extraction is
// stored as the latest fact of its kind, the merged lead document is rebuilt
// and forwarded to the document index over Kafka.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/lead"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/leadstore"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/stage"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
)

const Name = "indexer"

// Repository is satisfied by *leadstore.Store.
type Repository interface {
	GetLead(ctx context.Context, leadID string) (lead.Lead, error)
	SetStatus(ctx context.Context, leadID, status string) error
	UpsertFact(ctx context.Context, f leadstore.Fact) error
	Facts(ctx context.Context, leadID string) ([]leadstore.Fact, error)
}

// DocumentPublisher is satisfied by *kafka.Producer.
type DocumentPublisher interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

type Stage struct {
	repo    Repository
	docs    DocumentPublisher
	metrics *metrics.Metrics
}

func NewStage(repo Repository, docs DocumentPublisher, m *metrics.Metrics) *Stage {
	return &Stage{repo: repo, docs: docs, metrics: m}
}

func (s *Stage) Name() string           { return Name }
func (s *Stage) NeedsCorrelation() bool { return true }

// Handle records the fact and republishes the lead's document. Every step
// is an upsert, so a redelivery converges on the same rows.
func (s *Stage) Handle(ctx context.Context, in stage.Input) ([]stage.Outgoing, error) {
	kind, err := FactKind(in.Payload)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With("lead_id", in.LeadID, "fact", kind)

	l, err := s.repo.GetLead(ctx, in.LeadID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, fmt.Errorf("%w: correlation points at %w", apperrors.ErrAmbiguousCorrelation, err)
		}
		return nil, err
	}
	if l.ExternalID != in.ExternalID {
		return nil, fmt.Errorf("%w: lead %s belongs to %s, not %s", apperrors.ErrAmbiguousCorrelation, l.ID, l.ExternalID, in.ExternalID)
	}

	payload, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, apperrors.Malformed("encoding %s fact: %v", kind, err)
	}
	if err := s.repo.UpsertFact(ctx, leadstore.Fact{LeadID: l.ID, ExternalID: in.ExternalID, Kind: kind, Payload: payload}); err != nil {
		return nil, err
	}
	s.metrics.FactsWrittenTotal.WithLabelValues(kind).Inc()

	facts, err := s.repo.Facts(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	doc, err := Merge(l, facts)
	if err != nil {
		return nil, err
	}
	if err := s.docs.Publish(ctx, kafka.Event{Key: l.ID, Value: doc, Headers: map[string]string{"fact-kind": kind}}); err != nil {
		return nil, err
	}
	if l.Status != lead.StatusEnriched {
		if err := s.repo.SetStatus(ctx, l.ID, lead.StatusEnriched); err != nil {
			return nil, err
		}
	}
	log.Info("lead document updated", "facts", len(facts))
	return nil, nil
}
