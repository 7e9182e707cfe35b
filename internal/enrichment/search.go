package enrichment

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/lead"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/resolver"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/search"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/stage"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
)

// Searcher is satisfied by *search.Client.
type Searcher interface {
	Search(ctx context.Context, q string) ([]lead.Document, error)
}

// SearchStage runs the web search for a raw lead and forwards every result
// to the resolver.
type SearchStage struct {
	searcher Searcher
	exchange string
}

func NewSearchStage(s Searcher, exchange string) *SearchStage {
	return &SearchStage{searcher: s, exchange: exchange}
}

func (s *SearchStage) Name() string           { return NameSearch }
func (s *SearchStage) NeedsCorrelation() bool { return false }

func (s *SearchStage) Handle(ctx context.Context, in stage.Input) ([]stage.Outgoing, error) {
	raw, err := rawLead(in.Payload)
	if err != nil {
		return nil, err
	}
	q := search.Query(raw.Name, raw.City)
	docs, err := s.searcher.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []lead.Document{}
	}
	logger.FromContext(ctx).Info("search finished", "query", q, "results", len(docs))
	return []stage.Outgoing{{
		Exchange: s.exchange,
		Payload: lead.SearchCandidates{
			Name:      raw.Name,
			City:      raw.City,
			Category:  raw.Category,
			Query:     q,
			Documents: docs,
		},
	}}, nil
}

// ResolverStage scores search results and confirms the best registry
// number.
type ResolverStage struct {
	engine   *resolver.Engine
	exchange string
	metrics  *metrics.Metrics
}

func NewResolverStage(e *resolver.Engine, exchange string, m *metrics.Metrics) *ResolverStage {
	return &ResolverStage{engine: e, exchange: exchange, metrics: m}
}

func (s *ResolverStage) Name() string           { return NameResolver }
func (s *ResolverStage) NeedsCorrelation() bool { return false }

func (s *ResolverStage) Handle(ctx context.Context, in stage.Input) ([]stage.Outgoing, error) {
	sc, ok := in.Payload.(lead.SearchCandidates)
	if !ok {
		return nil, malformedKind(lead.KindSearchCandidates, in.Payload)
	}
	q := resolver.Query{Name: sc.Name, City: sc.City, Category: sc.Category}
	res, err := s.engine.Resolve(ctx, q, sc.Documents)
	return publishResolution(ctx, s.metrics, lead.MatcherSearch, s.exchange, res, err)
}
