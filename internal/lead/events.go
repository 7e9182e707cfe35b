// Package lead defines the lead record and the tagged event variants that
// travel on the bus. Every event is validated when it is decoded, so a
// stage only ever sees well-formed payloads.
package lead

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
)

// Lead is one prospective business. It is created by the ingestion service
// and never changed by the pipeline.
type Lead struct {
	ID         string    `json:"lead_id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	City       string    `json:"city"`
	Category   string    `json:"category,omitempty"`
	Website    string    `json:"website,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Address    string    `json:"address,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Lead lifecycle states recorded in the leads table.
const (
	StatusPending       = "PENDING"
	StatusPublished     = "PUBLISHED"
	StatusFailed        = "FAILED"
	StatusPublishFailed = "PUBLISH_FAILED"
	StatusEnriched      = "ENRICHED"
)

// Kind tags the payload variant carried by an Envelope.
type Kind string

const (
	KindRawLead          Kind = "raw_lead"
	KindSearchCandidates Kind = "search_candidates"
	KindCompanyMatch     Kind = "company_match"
	KindExtractedContent Kind = "extracted_content"
)

// Payload is implemented by every event variant.
type Payload interface {
	Kind() Kind
	Validate() error
}

// Envelope is the wire shape of every bus message.
type Envelope struct {
	Kind       Kind            `json:"kind"`
	ExternalID string          `json:"external_id"`
	Payload    json.RawMessage `json:"payload"`
}

// Event is a decoded envelope.
type Event struct {
	ExternalID string
	Payload    Payload
}

// RawLead is published by the ingestion service and fanned out to every
// enrichment stage.
type RawLead struct {
	Name     string `json:"name"`
	City     string `json:"city"`
	Category string `json:"category,omitempty"`
	Website  string `json:"website,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
}

func (RawLead) Kind() Kind { return KindRawLead }

func (r RawLead) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return apperrors.Malformed("raw_lead: name is required")
	}
	if strings.TrimSpace(r.City) == "" {
		return apperrors.Malformed("raw_lead: city is required")
	}
	return nil
}

// Document is one web search result.
type Document struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

// SearchCandidates carries raw search results for the resolver.
type SearchCandidates struct {
	Name      string     `json:"name"`
	City      string     `json:"city"`
	Category  string     `json:"category,omitempty"`
	Query     string     `json:"query,omitempty"`
	Documents []Document `json:"documents"`
}

func (SearchCandidates) Kind() Kind { return KindSearchCandidates }

func (s SearchCandidates) Validate() error {
	if strings.TrimSpace(s.Name) == "" || strings.TrimSpace(s.City) == "" {
		return apperrors.Malformed("search_candidates: name and city are required")
	}
	if s.Documents == nil {
		return apperrors.Malformed("search_candidates: documents is required")
	}
	return nil
}

// Matcher names which resolution path produced a CompanyMatch.
type Matcher string

const (
	MatcherSearch    Matcher = "search"
	MatcherDirectory Matcher = "directory"
)

// CompanyMatch is an accepted and confirmed registry identity.
type CompanyMatch struct {
	RegistryNumber string   `json:"registry_number"`
	Matcher        Matcher  `json:"matcher"`
	Score          int      `json:"score"`
	Reasons        []string `json:"reasons,omitempty"`
	Status         string   `json:"status"`
	Municipality   string   `json:"municipality,omitempty"`
	LegalName      string   `json:"legal_name,omitempty"`
	TradeName      string   `json:"trade_name,omitempty"`
	SourceURL      string   `json:"source_url,omitempty"`
}

func (CompanyMatch) Kind() Kind { return KindCompanyMatch }

func (c CompanyMatch) Validate() error {
	if len(digitsOnly(c.RegistryNumber)) != 14 {
		return apperrors.Malformed("company_match: registry_number must have 14 digits")
	}
	if c.Matcher != MatcherSearch && c.Matcher != MatcherDirectory {
		return apperrors.Malformed("company_match: unknown matcher %q", c.Matcher)
	}
	return nil
}

// ExtractedContent is what the website stage scraped from a lead's site.
type ExtractedContent struct {
	URL          string            `json:"url"`
	Title        string            `json:"title,omitempty"`
	Description  string            `json:"description,omitempty"`
	Text         string            `json:"text,omitempty"`
	Emails       []string          `json:"emails,omitempty"`
	Phones       []string          `json:"phones,omitempty"`
	Social       map[string]string `json:"social,omitempty"`
	Technologies []string          `json:"technologies,omitempty"`
	Pages        int               `json:"pages"`
}

func (ExtractedContent) Kind() Kind { return KindExtractedContent }

func (e ExtractedContent) Validate() error {
	if strings.TrimSpace(e.URL) == "" {
		return apperrors.Malformed("extracted_content: url is required")
	}
	return nil
}

// Encode wraps payload in an envelope.
func Encode(externalID string, payload Payload) ([]byte, error) {
	if externalID == "" {
		return nil, apperrors.Malformed("external_id is required")
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Kind: payload.Kind(), ExternalID: externalID, Payload: raw})
}

// Decode parses and validates an envelope. Any problem is reported as
// ErrMalformedInput.
func Decode(body []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, apperrors.Malformed("invalid envelope json: %v", err)
	}
	if strings.TrimSpace(env.ExternalID) == "" {
		return Event{}, apperrors.Malformed("external_id is required")
	}
	if len(env.Payload) == 0 || bytes.Equal(env.Payload, []byte("null")) {
		return Event{}, apperrors.Malformed("payload is required")
	}
	var p Payload
	var err error
	switch env.Kind {
	case KindRawLead:
		p, err = decodeAs[RawLead](env.Payload)
	case KindSearchCandidates:
		p, err = decodeAs[SearchCandidates](env.Payload)
	case KindCompanyMatch:
		p, err = decodeAs[CompanyMatch](env.Payload)
	case KindExtractedContent:
		p, err = decodeAs[ExtractedContent](env.Payload)
	default:
		return Event{}, apperrors.Malformed("unknown event kind %q", env.Kind)
	}
	if err != nil {
		return Event{}, err
	}
	return Event{ExternalID: env.ExternalID, Payload: p}, nil
}

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, apperrors.Malformed("invalid %T payload: %v", v, err)
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
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
