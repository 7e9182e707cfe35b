// Package docsink writes merged lead documents from Kafka into the
// lead_documents table, together with a keyword list for lookups.
package docsink

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
)

// MaxKeywords bounds the keyword list stored per document.
const MaxKeywords = 40

// Writer is satisfied by *leadstore.Store.
type Writer interface {
	UpsertDocument(ctx context.Context, leadID, externalID string, doc json.RawMessage, keywords []string) error
}

// Sink turns Kafka messages into document rows.
type Sink struct {
	writer  Writer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(w Writer, m *metrics.Metrics) *Sink {
	return &Sink{
		writer:  w,
		metrics: m,
		logger:  slog.Default().With("component", "docsink"),
	}
}

// Handle is a kafka.Handler. Undecodable messages are logged and
// skipped; database failures are returned so the consumer retries them.
func (s *Sink) Handle(ctx context.Context, rec kafka.Record) error {
	value := rec.Value
	doc, err := kafka.DecodeJSON[indexer.LeadDocument](value)
	if err == nil && doc.LeadID == "" {
		err = apperrors.Malformed("document without lead_id")
	}
	if err != nil {
		s.logger.Warn("skipping undecodable document", "key", string(rec.Key), "offset", rec.Offset, "error", err)
		return nil
	}
	ctx = logger.WithExternalID(ctx, doc.ExternalID)

	kw := Keywords(searchText(doc), doc.Name+" "+doc.City, MaxKeywords)
	if err := s.writer.UpsertDocument(ctx, doc.LeadID, doc.ExternalID, value, kw); err != nil {
		if apperrors.Classify(err) == apperrors.KindMalformed {
			logger.FromContext(ctx).Warn("document rejected by database", "lead_id", doc.LeadID, "error", err)
			return nil
		}
		return err
	}
	s.metrics.DocumentsIndexedTotal.Inc()
	logger.FromContext(ctx).Info("document indexed", "lead_id", doc.LeadID, "keywords", len(kw), "fact", rec.Headers["fact-kind"])
	return nil
}

func searchText(doc indexer.LeadDocument) string {
	parts := []string{doc.Category}
	if doc.Company != nil {
		parts = append(parts, doc.Company.LegalName, doc.Company.TradeName, doc.Company.Municipality)
	}
	if c := doc.Content; c != nil {
		parts = append(parts, c.Title, c.Description, strings.Join(c.Technologies, " "), c.Text)
	}
	return strings.Join(parts, " ")
}
