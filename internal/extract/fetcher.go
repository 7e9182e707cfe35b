// Package extract fetches web pages and pulls contact and technology
// signals out of a lead's website with a bounded, same-host crawl.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"golang.org/x/time/rate"
)

// ErrNoContent is returned when a URL answered without usable HTML.
var ErrNoContent = errors.New("extract: no html content")

const defaultUserAgent = "Mozilla/5.0 (compatible; lead-enricher/1.0)"

// Page is a fetched HTML document.
type Page struct {
	URL  string
	Body []byte
}

// Fetcher retrieves pages over HTTP with a timeout and a body size cap.
type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	maxBytes  int64
}

// NewFetcher builds a Fetcher from the website settings.
func NewFetcher(cfg config.WebsiteConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 2 << 20
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:   rate.NewLimiter(rate.Limit(5), 5),
		userAgent: ua,
		maxBytes:  maxBytes,
	}
}

// Fetch downloads rawURL. Transport failures are transient; a non-2xx
// status or a non-HTML body is ErrNoContent.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return Page{}, apperrors.Transient("fetch rate limiter", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrNoContent, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, apperrors.Transient("fetch "+rawURL, err)
	}
	defer resp.Body.Close()

	if apperrors.IsTransientHTTPStatus(resp.StatusCode) {
		return Page{}, apperrors.Transient("fetch "+rawURL, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Page{}, fmt.Errorf("%w: %s returned status %d", ErrNoContent, rawURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || !(mt == "text/html" || mt == "application/xhtml+xml") {
			return Page{}, fmt.Errorf("%w: %s has content type %q", ErrNoContent, rawURL, ct)
		}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return Page{}, apperrors.Transient("reading "+rawURL, err)
	}
	final := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return Page{URL: final, Body: body}, nil
}

// SkipWebsite reports whether rawURL is a social profile rather than a site
// worth crawling.
func SkipWebsite(rawURL string) bool {
	host := hostOf(rawURL)
	for _, h := range []string{"instagram.com", "facebook.com", "fb.com"} {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
