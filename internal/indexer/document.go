package indexer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/lead"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/leadstore"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
)

// Fact kinds as stored in lead_facts. Company matches are kept per matcher so
// the directory and search paths do not overwrite each other.
const (
	factCompanyPrefix = "company:"
	FactWebsite       = "website"
)

// FactKind returns the lead_facts kind for a payload.
func FactKind(p lead.Payload) (string, error) {
	switch v := p.(type) {
	case lead.CompanyMatch:
		return factCompanyPrefix + string(v.Matcher), nil
	case lead.ExtractedContent:
		return FactWebsite, nil
	default:
		return "", apperrors.Malformed("indexer does not accept %s", p.Kind())
	}
}

// LeadDocument is the merged view of a lead and everything learned about it.
type LeadDocument struct {
	LeadID     string `json:"lead_id"`
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	City       string `json:"city"`
	Category   string `json:"category,omitempty"`
	Website    string `json:"website,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`

	// Company is the preferred match: search first, then directory.
	Company *lead.CompanyMatch     `json:"company,omitempty"`
	Matches []lead.CompanyMatch    `json:"matches,omitempty"`
	Content *lead.ExtractedContent `json:"website_content,omitempty"`

	Emails []string `json:"emails,omitempty"`
	Phones []string `json:"phones,omitempty"`

	// FieldsFilled counts name, address, phone and website, taking phone and
	// website from the crawl when the lead lacked them.
	FieldsFilled int       `json:"fields_filled"`
	Quality      Quality   `json:"quality"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Quality grades how complete a lead's contact data is.
type Quality string

const (
	QualityGood Quality = "good"
	QualityBad  Quality = "bad"
)

// qualityFields is how many contact fields a good lead has filled.
const qualityFields = 4

// Merge builds the document for l from its stored facts.
func Merge(l lead.Lead, facts []leadstore.Fact) (LeadDocument, error) {
	doc := LeadDocument{
		LeadID:     l.ID,
		ExternalID: l.ExternalID,
		Name:       l.Name,
		City:       l.City,
		Category:   l.Category,
		Website:    l.Website,
		Phone:      l.Phone,
		Address:    l.Address,
		UpdatedAt:  l.CreatedAt,
	}
	for _, f := range facts {
		if f.UpdatedAt.After(doc.UpdatedAt) {
			doc.UpdatedAt = f.UpdatedAt
		}
		switch {
		case strings.HasPrefix(f.Kind, factCompanyPrefix):
			var m lead.CompanyMatch
			if err := json.Unmarshal(f.Payload, &m); err != nil {
				return LeadDocument{}, fmt.Errorf("decoding %s fact: %w", f.Kind, err)
			}
			doc.Matches = append(doc.Matches, m)
		case f.Kind == FactWebsite:
			var c lead.ExtractedContent
			if err := json.Unmarshal(f.Payload, &c); err != nil {
				return LeadDocument{}, fmt.Errorf("decoding %s fact: %w", f.Kind, err)
			}
			doc.Content = &c
		}
	}

	sort.SliceStable(doc.Matches, func(i, j int) bool {
		return matcherRank(doc.Matches[i].Matcher) < matcherRank(doc.Matches[j].Matcher)
	})
	if len(doc.Matches) > 0 {
		best := doc.Matches[0]
		doc.Company = &best
	}

	phones := []string{}
	if l.Phone != "" {
		phones = append(phones, l.Phone)
	}
	if doc.Content != nil {
		doc.Emails = doc.Content.Emails
		phones = append(phones, doc.Content.Phones...)
	}
	doc.Phones = dedupe(phones)
	doc.FieldsFilled, doc.Quality = assess(doc)
	return doc, nil
}

func assess(doc LeadDocument) (int, Quality) {
	website := doc.Website
	if website == "" && doc.Content != nil {
		website = doc.Content.URL
	}
	filled := 0
	for _, v := range []string{doc.Name, doc.Address, firstOf(doc.Phones), website} {
		if strings.TrimSpace(v) != "" {
			filled++
		}
	}
	if filled == qualityFields {
		return filled, QualityGood
	}
	return filled, QualityBad
}

func firstOf(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

func matcherRank(m lead.Matcher) int {
	switch m {
	case lead.MatcherSearch:
		return 0
	case lead.MatcherDirectory:
		return 1
	default:
		return 2
	}
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
