// Package search queries the web search API for pages that mention a lead.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/lead"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/resilience"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 4 << 20

type request struct {
	Query    string `json:"q"`
	Country  string `json:"gl,omitempty"`
	Language string `json:"hl,omitempty"`
	Num      int    `json:"num,omitempty"`
}

type response struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Client talks to the search API.
type Client struct {
	cfg     config.SearchConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// NewClient builds a Client from cfg.
func NewClient(cfg config.SearchConfig, m *metrics.Metrics) *Client {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		breaker: resilience.NewCircuitBreaker("search-api", resilience.CircuitBreakerConfig{
			IsFailure: apperrors.IsTransient,
			OnStateChange: func(name string, to resilience.State) {
				m.SetBreakerState(name, int(to))
			},
		}),
		logger: slog.Default().With("component", "search-client"),
	}
}

// Query builds the search phrase for a lead.
func Query(name, city string) string {
	return strings.TrimSpace(name) + ", " + strings.TrimSpace(city)
}

// Search returns the organic results for q in ranking order.
func (c *Client) Search(ctx context.Context, q string) ([]lead.Document, error) {
	var docs []lead.Document
	err := c.breaker.Execute(func() error {
		var err error
		docs, err = c.do(ctx, q)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, apperrors.Transient("search", err)
	}
	return docs, err
}

func (c *Client) do(ctx context.Context, q string) ([]lead.Document, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperrors.Transient("search rate limiter", err)
	}
	payload, err := json.Marshal(request{
		Query:    q,
		Country:  c.cfg.Country,
		Language: c.cfg.Language,
		Num:      c.cfg.Results,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Transient("search request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.Transient("reading search response", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.Transient("search", apperrors.ErrQuotaExhausted)
	case apperrors.IsTransientHTTPStatus(resp.StatusCode) || resp.StatusCode >= 500:
		return nil, apperrors.Transient("search", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("search api returned status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	docs := make([]lead.Document, 0, len(parsed.Organic))
	for _, o := range parsed.Organic {
		docs = append(docs, lead.Document{Title: o.Title, Snippet: o.Snippet, Link: o.Link})
	}
	c.logger.Debug("search completed", "query", q, "results", len(docs))
	return docs, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
