package enrichment

import (
	"bytes"
	"context"
	"errors"
	"net/url"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/lead"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/resolver"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/stage"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
)

// DirectoryStage looks the lead up in the registry directory and confirms
// the listing that matches its city.
type DirectoryStage struct {
	fetcher   extract.PageFetcher
	engine    *resolver.Engine
	searchURL string
	exchange  string
	metrics   *metrics.Metrics
}

func NewDirectoryStage(f extract.PageFetcher, e *resolver.Engine, searchURL, exchange string, m *metrics.Metrics) *DirectoryStage {
	return &DirectoryStage{fetcher: f, engine: e, searchURL: searchURL, exchange: exchange, metrics: m}
}

func (s *DirectoryStage) Name() string           { return NameRegistry }
func (s *DirectoryStage) NeedsCorrelation() bool { return false }

// DirectoryURL builds the directory search address for a name and city.
func DirectoryURL(searchURL, name, city string) string {
	return searchURL + url.PathEscape(name) + "%20" + url.PathEscape(city)
}

func (s *DirectoryStage) Handle(ctx context.Context, in stage.Input) ([]stage.Outgoing, error) {
	raw, err := rawLead(in.Payload)
	if err != nil {
		return nil, err
	}
	page, err := s.fetcher.Fetch(ctx, DirectoryURL(s.searchURL, raw.Name, raw.City))
	if err != nil {
		if errors.Is(err, extract.ErrNoContent) {
			s.metrics.ResolutionsTotal.WithLabelValues(string(lead.MatcherDirectory), resolver.OutcomeNoCandidates).Inc()
			return nil, errors.Join(apperrors.ErrNoConfidentMatch, err)
		}
		return nil, err
	}
	res, err := s.engine.ResolveListings(ctx, raw.City, bytes.NewReader(page.Body))
	return publishResolution(ctx, s.metrics, lead.MatcherDirectory, s.exchange, res, err)
}
