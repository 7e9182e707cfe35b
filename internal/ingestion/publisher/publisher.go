// Package publisher creates leads: it persists the lead row, writes the
// correlation entry that downstream stages resolve, and publishes the raw
// lead onto the bus. A lead is only published once its correlation entry
// exists.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/bus"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/lead"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
	"github.com/google/uuid"
)

// LeadRepository is satisfied by *leadstore.Store.
type LeadRepository interface {
	CreateLead(ctx context.Context, l lead.Lead) error
	SetStatus(ctx context.Context, leadID, status string) error
	GetLead(ctx context.Context, leadID string) (lead.Lead, error)
	FindByExternalID(ctx context.Context, externalID string) (lead.Lead, error)
}

// Correlator is satisfied by *correlation.Store.
type Correlator interface {
	Put(ctx context.Context, externalID, leadID string, ttl time.Duration) error
}

// EventPublisher is satisfied by *bus.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, msg bus.Message) error
}

type Publisher struct {
	repo     LeadRepository
	corr     Correlator
	events   EventPublisher
	exchange string
	ttl      time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func New(repo LeadRepository, corr Correlator, events EventPublisher, exchange string, ttl time.Duration, m *metrics.Metrics) *Publisher {
	return &Publisher{
		repo:     repo,
		corr:     corr,
		events:   events,
		exchange: exchange,
		ttl:      ttl,
		metrics:  m,
		logger:   slog.Default().With("component", "lead-publisher"),
		now:      time.Now,
	}
}

// Create persists and publishes a validated lead. A lead that was already
// published for the same external id is returned as a duplicate instead of
// being created again; one that failed earlier is created afresh.
func (p *Publisher) Create(ctx context.Context, req *ingestion.LeadRequest) (*ingestion.LeadResponse, error) {
	ctx = logger.WithExternalID(ctx, req.ExternalID)
	log := logger.FromContext(ctx)

	existing, err := p.repo.FindByExternalID(ctx, req.ExternalID)
	switch {
	case err == nil && (existing.Status == lead.StatusPublished || existing.Status == lead.StatusEnriched):
		log.Info("duplicate lead submission", "lead_id", existing.ID, "status", existing.Status)
		p.metrics.LeadsIngestedTotal.WithLabelValues("duplicate").Inc()
		return &ingestion.LeadResponse{
			LeadID:     existing.ID,
			ExternalID: existing.ExternalID,
			Status:     existing.Status,
			Duplicate:  true,
			CreatedAt:  existing.CreatedAt,
		}, nil
	case err != nil && !apperrors.IsNotFound(err):
		return nil, fmt.Errorf("checking for existing lead: %w", err)
	}

	l := lead.Lead{
		ID:         uuid.NewString(),
		ExternalID: req.ExternalID,
		Name:       req.Name,
		City:       req.City,
		Category:   req.Category,
		Website:    req.Website,
		Phone:      req.Phone,
		Address:    req.Address,
		Status:     lead.StatusPending,
		CreatedAt:  p.now().UTC(),
	}
	if err := p.repo.CreateLead(ctx, l); err != nil {
		return nil, fmt.Errorf("creating lead: %w", err)
	}
	log = log.With("lead_id", l.ID)

	if err := p.corr.Put(ctx, l.ExternalID, l.ID, p.ttl); err != nil {
		p.fail(ctx, log, l.ID, lead.StatusFailed, "correlation_failed")
		log.Error("correlation entry not written, lead not published", "error", err)
		return nil, apperrors.Newf(apperrors.ErrTransientIO, http.StatusServiceUnavailable, "correlation store unavailable: %v", err)
	}

	body, err := lead.Encode(l.ExternalID, req.RawLead())
	if err != nil {
		p.fail(ctx, log, l.ID, lead.StatusFailed, "invalid")
		return nil, err
	}
	msg := bus.Message{Exchange: p.exchange, Body: body, MessageID: l.ID}
	if err := p.events.Publish(ctx, msg); err != nil {
		p.fail(ctx, log, l.ID, lead.StatusPublishFailed, "publish_failed")
		log.Error("raw lead not published", "exchange", p.exchange, "error", err)
		return nil, apperrors.Newf(apperrors.ErrTransientIO, http.StatusServiceUnavailable, "bus unavailable: %v", err)
	}

	if err := p.repo.SetStatus(ctx, l.ID, lead.StatusPublished); err != nil {
		log.Error("lead published but status not updated", "error", err)
	}
	p.metrics.LeadsIngestedTotal.WithLabelValues("published").Inc()
	log.Info("lead published", "exchange", p.exchange)
	return &ingestion.LeadResponse{
		LeadID:     l.ID,
		ExternalID: l.ExternalID,
		Status:     lead.StatusPublished,
		CreatedAt:  l.CreatedAt,
	}, nil
}

// Get loads a lead by id.
func (p *Publisher) Get(ctx context.Context, leadID string) (lead.Lead, error) {
	if _, err := uuid.Parse(leadID); err != nil {
		return lead.Lead{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "lead id %q is not a uuid", leadID)
	}
	return p.repo.GetLead(ctx, leadID)
}

func (p *Publisher) fail(ctx context.Context, log *slog.Logger, leadID, status, label string) {
	p.metrics.LeadsIngestedTotal.WithLabelValues(label).Inc()
	if err := p.repo.SetStatus(ctx, leadID, status); err != nil {
		log.Error("failed to record lead failure", "status", status, "error", err)
	}
}
