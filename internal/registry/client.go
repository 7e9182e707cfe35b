// Package registry looks up registry numbers against the authoritative
// company registry API. Lookups are rate limited, guarded by a circuit
// breaker and collapsed per number while one is in flight.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/resilience"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// StatusActive is the only registry status that confirms a match.
const StatusActive = "ATIVA"

// ErrNoData is returned when the API answered but gave nothing usable:
// a non-2xx status, an empty or malformed body, or an exhausted quota.
var ErrNoData = errors.New("registry: no data")

const maxBodyBytes = 1 << 20

// Record is the subset of the registry entry the pipeline relies on.
type Record struct {
	Number       string
	Status       string
	Municipality string
	State        string
	LegalName    string
	TradeName    string
}

// Active reports whether the entry is in good standing.
func (r Record) Active() bool {
	return strings.EqualFold(strings.TrimSpace(r.Status), StatusActive)
}

type apiResponse struct {
	CNPJ         string `json:"cnpj"`
	RazaoSocial  string `json:"razao_social"`
	NomeFantasia string `json:"nome_fantasia"`
	Situacao     struct {
		Nome string `json:"nome"`
	} `json:"situacao"`
	Endereco struct {
		Municipio string `json:"municipio"`
		UF        string `json:"uf"`
	} `json:"endereco"`
}

// Client calls the registry API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	group   singleflight.Group
	logger  *slog.Logger
}

// NewClient builds a Client from cfg. A zero rate disables limiting.
func NewClient(cfg config.RegistryConfig, m *metrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
		limiter: rate.NewLimiter(limit, 1),
		breaker: resilience.NewCircuitBreaker("registry-api", resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			ResetTimeout:     cfg.ResetTimeout,
			IsFailure:        apperrors.IsTransient,
			OnStateChange: func(name string, to resilience.State) {
				m.SetBreakerState(name, int(to))
			},
		}),
		logger: slog.Default().With("component", "registry-client"),
	}
}

// Lookup fetches the registry entry for number, which may be punctuated.
// Transport failures and an open breaker are transient; every answer the
// API did give that is not a usable record is ErrNoData.
func (c *Client) Lookup(ctx context.Context, number string) (Record, error) {
	digits := digitsOnly(number)
	if len(digits) != 14 {
		return Record{}, apperrors.Malformed("registry number %q must have 14 digits", number)
	}
	// The shared fetch is detached from the first caller's context so one
	// caller giving up does not fail the others waiting on it.
	ch := c.group.DoChan(digits, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		var rec Record
		err := c.breaker.Execute(func() error {
			var err error
			rec, err = c.fetch(fctx, digits)
			return err
		})
		return rec, err
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return Record{}, apperrors.Transient("registry lookup", ctx.Err())
	}
	if res.Shared {
		c.logger.Debug("registry lookup shared", "number", digits)
	}
	if err := res.Err; err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return Record{}, apperrors.Transient("registry lookup", err)
		}
		return Record{}, err
	}
	return res.Val.(Record), nil
}

func (c *Client) fetch(ctx context.Context, digits string) (Record, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Record{}, apperrors.Transient("registry rate limiter", err)
	}
	endpoint := fmt.Sprintf("%s/%s?token=%s", c.baseURL, digits, url.QueryEscape(c.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Record{}, fmt.Errorf("building registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Record{}, apperrors.Transient("registry request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Record{}, apperrors.Transient("reading registry response", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		c.logger.Warn("registry quota exhausted", "number", digits)
		return Record{}, fmt.Errorf("%w: %w", ErrNoData, apperrors.ErrQuotaExhausted)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("registry lookup failed", "number", digits, "status", resp.StatusCode)
		return Record{}, fmt.Errorf("%w: status %d", ErrNoData, resp.StatusCode)
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Record{}, fmt.Errorf("%w: malformed body: %v", ErrNoData, err)
	}
	if parsed.Situacao.Nome == "" {
		return Record{}, fmt.Errorf("%w: response has no status", ErrNoData)
	}
	return Record{
		Number:       digits,
		Status:       strings.ToUpper(strings.TrimSpace(parsed.Situacao.Nome)),
		Municipality: parsed.Endereco.Municipio,
		State:        parsed.Endereco.UF,
		LegalName:    parsed.RazaoSocial,
		TradeName:    parsed.NomeFantasia,
	}, nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
