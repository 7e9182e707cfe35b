// Package correlation maps the upstream external identifier of a lead to the
// internal lead identifier. Producers write the mapping before publishing;
// downstream stages, which only ever see the external identifier, read it
// back to tag their output.
package correlation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
)

// ErrNotFound means no live mapping exists: never written, or expired.
var ErrNotFound = apperrors.ErrNotFound

// Backend is the key-value store behind the mapping. *redis.Client
// satisfies it.
type Backend interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Store reads and writes correlation entries under one namespace.
type Store struct {
	backend   Backend
	namespace string
	metrics   *metrics.Metrics
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewStore builds a Store. Keys are "<namespace>:<external_id>".
func NewStore(backend Backend, namespace string, m *metrics.Metrics) *Store {
	return &Store{
		backend:   backend,
		namespace: namespace,
		metrics:   m,
		logger:    slog.Default().With("component", "correlation-store", "namespace", namespace),
		sleep:     sleepContext,
	}
}

// Key returns the backend key for an external identifier.
func (s *Store) Key(externalID string) string {
	return s.namespace + ":" + externalID
}

// Put writes or overwrites the mapping. A backend failure is returned as a
// transient error; the caller must not publish the lead in that case.
func (s *Store) Put(ctx context.Context, externalID, leadID string, ttl time.Duration) error {
	if externalID == "" || leadID == "" {
		return apperrors.Malformed("correlation put requires external and lead id")
	}
	if err := s.backend.Set(ctx, s.Key(externalID), leadID, ttl); err != nil {
		return apperrors.Transient("correlation put "+externalID, err)
	}
	return nil
}

// Get is a single lookup with no retry.
func (s *Store) Get(ctx context.Context, externalID string) (string, error) {
	leadID, ok, err := s.backend.Lookup(ctx, s.Key(externalID))
	if err != nil {
		s.metrics.CorrelationLookupsTotal.WithLabelValues("error").Inc()
		return "", apperrors.Transient("correlation get "+externalID, err)
	}
	if !ok || leadID == "" {
		s.metrics.CorrelationLookupsTotal.WithLabelValues("miss").Inc()
		return "", fmt.Errorf("correlation %s: %w", externalID, ErrNotFound)
	}
	s.metrics.CorrelationLookupsTotal.WithLabelValues("hit").Inc()
	return leadID, nil
}

// GetWithRetry retries Get while the entry is missing, sleeping backoff
// between attempts, to cover a reader racing the producer's Put. Transport
// errors are returned at once without retrying.
func (s *Store) GetWithRetry(ctx context.Context, externalID string, maxAttempts int, backoff time.Duration) (string, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var leadID string
		leadID, err = s.Get(ctx, externalID)
		if err == nil {
			if attempt > 1 {
				s.logger.Debug("correlation found after retry", "external_id", externalID, "attempt", attempt)
			}
			return leadID, nil
		}
		if !apperrors.IsNotFound(err) {
			return "", err
		}
		if attempt == maxAttempts {
			break
		}
		if serr := s.sleep(ctx, backoff); serr != nil {
			return "", apperrors.Transient("correlation wait", serr)
		}
	}
	return "", err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
