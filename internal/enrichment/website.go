package enrichment

import (
	"context"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/lead"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/stage"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/logger"
)

// Crawler is satisfied by *extract.Crawler.
type Crawler interface {
	Crawl(ctx context.Context, start string) (lead.ExtractedContent, error)
}

// WebsiteStage crawls the lead's own website.
type WebsiteStage struct {
	crawler  Crawler
	exchange string
}

func NewWebsiteStage(c Crawler, exchange string) *WebsiteStage {
	return &WebsiteStage{crawler: c, exchange: exchange}
}

func (s *WebsiteStage) Name() string { return NameWebsite }

// NeedsCorrelation is true so that a lead whose creation failed is never
// crawled.
func (s *WebsiteStage) NeedsCorrelation() bool { return true }

func (s *WebsiteStage) Handle(ctx context.Context, in stage.Input) ([]stage.Outgoing, error) {
	raw, err := rawLead(in.Payload)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With("lead_id", in.LeadID)
	site := strings.TrimSpace(raw.Website)
	if site == "" {
		log.Debug("lead has no website")
		return nil, nil
	}
	if extract.SkipWebsite(site) {
		log.Info("skipping social profile", "url", site)
		return nil, nil
	}
	content, err := s.crawler.Crawl(ctx, site)
	if err != nil {
		if extract.IsNoContent(err) {
			log.Info("website has no usable content", "url", site, "reason", err)
			return nil, nil
		}
		return nil, err
	}
	log.Info("website extracted", "url", content.URL, "pages", content.Pages, "emails", len(content.Emails))
	return []stage.Outgoing{{Exchange: s.exchange, Payload: content}}, nil
}
