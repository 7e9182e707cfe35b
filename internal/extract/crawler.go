package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/lead"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
)

const maxTextRunes = 20000

// PageFetcher is satisfied by *Fetcher.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Crawler visits at most maxPages pages of one site, breadth first.
type Crawler struct {
	fetcher  PageFetcher
	maxPages int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewCrawler creates a Crawler. maxPages below 1 is treated as 1.
func NewCrawler(f PageFetcher, maxPages int, m *metrics.Metrics) *Crawler {
	if maxPages < 1 {
		maxPages = 1
	}
	return &Crawler{
		fetcher:  f,
		maxPages: maxPages,
		metrics:  m,
		logger:   slog.Default().With("component", "crawler"),
	}
}

// Crawl fetches start and follows same-host links from a FIFO queue until
// the page budget is spent or the queue is empty. A failure on the start
// page is returned; failures on later pages are logged and skipped.
func (c *Crawler) Crawl(ctx context.Context, start string) (lead.ExtractedContent, error) {
	startURL, err := parseStart(start)
	if err != nil {
		return lead.ExtractedContent{}, err
	}

	out := lead.ExtractedContent{URL: Canonical(startURL), Social: make(map[string]string)}
	visited := map[string]bool{out.URL: true}
	queue := []string{out.URL}
	emails := make(map[string]bool)
	phones := make(map[string]bool)
	techs := make(map[string]bool)
	var text strings.Builder

	for len(queue) > 0 && out.Pages < c.maxPages {
		if err := ctx.Err(); err != nil {
			return lead.ExtractedContent{}, err
		}
		current := queue[0]
		queue = queue[1:]

		page, err := c.fetcher.Fetch(ctx, current)
		if err != nil {
			if out.Pages == 0 {
				return lead.ExtractedContent{}, err
			}
			c.logger.Warn("skipping page", "url", current, "error", err)
			continue
		}
		out.Pages++
		c.metrics.PagesCrawledTotal.Inc()

		base, err := url.Parse(page.URL)
		if err != nil {
			base, _ = url.Parse(current)
		}
		pd := ParsePage(base, page.Body)
		if pd.Blocked {
			c.logger.Info("page behind bot protection", "url", current)
			if out.Pages == 1 {
				return lead.ExtractedContent{}, fmt.Errorf("%w: %s is behind bot protection", ErrNoContent, current)
			}
			continue
		}

		if out.Title == "" {
			out.Title = pd.Title
		}
		if out.Description == "" {
			out.Description = pd.Description
		}
		appendText(&text, pd.Text)
		for _, e := range pd.Emails {
			if !emails[e] {
				emails[e] = true
				out.Emails = append(out.Emails, e)
			}
		}
		for _, p := range pd.Phones {
			if !phones[p] {
				phones[p] = true
				out.Phones = append(out.Phones, p)
			}
		}
		for network, link := range pd.Social {
			if _, ok := out.Social[network]; !ok {
				out.Social[network] = link
			}
		}
		for _, t := range pd.Technologies {
			techs[t] = true
		}
		for _, link := range pd.Links {
			if !visited[link] && sameHost(startURL, mustParse(link)) {
				visited[link] = true
				queue = append(queue, link)
			}
		}
	}

	out.Text = text.String()
	out.Technologies = sortedKeys(techs)
	if len(out.Social) == 0 {
		out.Social = nil
	}
	c.logger.Debug("crawl finished", "url", out.URL, "pages", out.Pages, "queued", len(queue))
	return out, nil
}

func parseStart(start string) (*url.URL, error) {
	s := strings.TrimSpace(start)
	if s == "" {
		return nil, fmt.Errorf("%w: empty url", ErrNoContent)
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: invalid url %q", ErrNoContent, start)
	}
	return u, nil
}

func appendText(b *strings.Builder, s string) {
	if s == "" {
		return
	}
	remaining := maxTextRunes - len([]rune(b.String()))
	if remaining <= 0 {
		return
	}
	if b.Len() > 0 {
		b.WriteByte(' ')
		remaining--
	}
	r := []rune(s)
	if len(r) > remaining {
		r = r[:remaining]
	}
	b.WriteString(string(r))
}

func mustParse(s string) *url.URL {
	u, err := url.Parse(s)
	if err != nil {
		return &url.URL{}
	}
	return u
}

// IsNoContent reports whether err means the site had nothing to extract.
func IsNoContent(err error) bool {
	return errors.Is(err, ErrNoContent)
}
