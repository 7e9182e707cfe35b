// Package leadstore is the PostgreSQL repository behind the pipeline: the
// leads table written by ingestion, the per-kind fact rows written by the
// indexer, and the merged documents written by the document sink.
package leadstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/lead"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/lib/pq"
)

// Fact is the latest value of one kind of enrichment result for a lead.
type Fact struct {
	LeadID     string
	ExternalID string
	Kind       string
	Payload    json.RawMessage
	UpdatedAt  time.Time
}

// Store runs queries against a *sql.DB opened with lib/pq.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateLead inserts a new lead row.
func (s *Store) CreateLead(ctx context.Context, l lead.Lead) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, external_id, name, city, category, website, phone, address, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.ExternalID, l.Name, l.City, l.Category, l.Website, l.Phone, l.Address, l.Status, l.CreatedAt,
	)
	if err != nil {
		return classify("inserting lead "+l.ID, err)
	}
	return nil
}

// SetStatus moves a lead to a new lifecycle state.
func (s *Store) SetStatus(ctx context.Context, leadID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, leadID,
	)
	if err != nil {
		return classify("updating lead status", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("lead %s: %w", leadID, apperrors.ErrNotFound)
	}
	return nil
}

// GetLead loads one lead by id.
func (s *Store) GetLead(ctx context.Context, leadID string) (lead.Lead, error) {
	var l lead.Lead
	err := s.db.QueryRowContext(ctx,
		`SELECT id, external_id, name, city, category, website, phone, address, status, created_at
		FROM leads WHERE id = $1`, leadID,
	).Scan(&l.ID, &l.ExternalID, &l.Name, &l.City, &l.Category, &l.Website, &l.Phone, &l.Address, &l.Status, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return lead.Lead{}, fmt.Errorf("lead %s: %w", leadID, apperrors.ErrNotFound)
	}
	if err != nil {
		return lead.Lead{}, classify("loading lead", err)
	}
	return l, nil
}

// FindByExternalID returns the most recent lead created for an upstream
// identifier.
func (s *Store) FindByExternalID(ctx context.Context, externalID string) (lead.Lead, error) {
	var l lead.Lead
	err := s.db.QueryRowContext(ctx,
		`SELECT id, external_id, name, city, category, website, phone, address, status, created_at
		FROM leads WHERE external_id = $1 ORDER BY created_at DESC LIMIT 1`, externalID,
	).Scan(&l.ID, &l.ExternalID, &l.Name, &l.City, &l.Category, &l.Website, &l.Phone, &l.Address, &l.Status, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return lead.Lead{}, fmt.Errorf("lead for %s: %w", externalID, apperrors.ErrNotFound)
	}
	if err != nil {
		return lead.Lead{}, classify("finding lead by external id", err)
	}
	return l, nil
}

// UpsertFact stores f, replacing any earlier fact of the same kind for the
// same lead. The later write wins.
func (s *Store) UpsertFact(ctx context.Context, f Fact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lead_facts (lead_id, kind, external_id, payload, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (lead_id, kind) DO UPDATE
		SET external_id = EXCLUDED.external_id, payload = EXCLUDED.payload, updated_at = NOW()`,
		f.LeadID, f.Kind, f.ExternalID, []byte(f.Payload),
	)
	if err != nil {
		return classify("upserting fact "+f.Kind, err)
	}
	return nil
}

// Facts returns every fact recorded for a lead, ordered by kind.
func (s *Store) Facts(ctx context.Context, leadID string) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT lead_id, external_id, kind, payload, updated_at
		FROM lead_facts WHERE lead_id = $1 ORDER BY kind`, leadID,
	)
	if err != nil {
		return nil, classify("querying facts", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var f Fact
		var payload []byte
		if err := rows.Scan(&f.LeadID, &f.ExternalID, &f.Kind, &payload, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning fact: %w", err)
		}
		f.Payload = payload
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterating facts", err)
	}
	return facts, nil
}

// UpsertDocument writes the merged document for a lead together with its
// search keywords.
func (s *Store) UpsertDocument(ctx context.Context, leadID, externalID string, doc json.RawMessage, keywords []string) error {
	if keywords == nil {
		keywords = []string{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lead_documents (lead_id, external_id, document, keywords, indexed_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (lead_id) DO UPDATE
		SET external_id = EXCLUDED.external_id, document = EXCLUDED.document,
			keywords = EXCLUDED.keywords, indexed_at = NOW()`,
		leadID, externalID, []byte(doc), pq.Array(keywords),
	)
	if err != nil {
		return classify("upserting document", err)
	}
	return nil
}

// classify separates bad rows from an unavailable database. Integrity and
// data exceptions will fail the same way on every retry.
func classify(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23":
			return apperrors.Malformed("%s: %s (%s)", op, pqErr.Message, pqErr.Code.Name())
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return apperrors.Transient(op, err)
}
