// Package enrichment holds the stages that fan out from a raw lead: the
// registry directory lookup, the web search, the search resolver and the
// website extractor. Each one is a stage.Stage driven by a stage.Runner.
package enrichment

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/lead"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/resolver"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/stage"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
)

// Stage names, also used as the consumer half of queue names.
const (
	NameRegistry = "registry"
	NameSearch   = "search"
	NameResolver = "resolver"
	NameWebsite  = "website"
)

func rawLead(p lead.Payload) (lead.RawLead, error) {
	raw, ok := p.(lead.RawLead)
	if !ok {
		return lead.RawLead{}, malformedKind(lead.KindRawLead, p)
	}
	return raw, nil
}

func malformedKind(want lead.Kind, p lead.Payload) error {
	return apperrors.Malformed("expected %s, got %s", want, p.Kind())
}

// publishResolution turns an engine result into zero or one outgoing
// CompanyMatch and records the outcome.
func publishResolution(ctx context.Context, m *metrics.Metrics, matcher lead.Matcher, exchange string, res resolver.Resolution, err error) ([]stage.Outgoing, error) {
	if res.Outcome != "" {
		m.ResolutionsTotal.WithLabelValues(string(matcher), res.Outcome).Inc()
	}
	log := logger.FromContext(ctx).With("matcher", matcher, "outcome", res.Outcome)
	if err != nil {
		if res.Match.Number != "" {
			log = log.With("best", res.Match.Number, "score", res.Match.Score, "reasons", res.Match.Reasons)
		}
		log.Debug("resolution rejected", "candidates", len(res.Ranked), "excluded", res.Excluded)
		return nil, err
	}
	if !res.Accepted() {
		return nil, fmt.Errorf("resolver returned outcome %q without error", res.Outcome)
	}
	log.Info("company resolved", "registry_number", res.Match.Number, "score", res.Match.Score)
	return []stage.Outgoing{{Exchange: exchange, Payload: res.CompanyMatch(matcher)}}, nil
}
