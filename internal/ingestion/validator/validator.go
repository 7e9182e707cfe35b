// Package validator checks and normalises lead submissions. It returns
// per-field error details.
package validator

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/lead"
)

const (
	maxExternalIDLength = 255
	maxFieldLength      = 512
	maxWebsiteLength    = 2048
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

// ValidateLeadRequest trims every field, normalises the phone number and
// website in place, and reports what is missing or invalid.
func ValidateLeadRequest(req *ingestion.LeadRequest) error {
	errs := make(map[string]string)

	req.ExternalID = strings.TrimSpace(req.ExternalID)
	req.Name = strings.TrimSpace(req.Name)
	req.City = strings.TrimSpace(req.City)
	req.Category = strings.TrimSpace(req.Category)
	req.Address = strings.TrimSpace(req.Address)
	req.Website = strings.TrimSpace(req.Website)
	req.Phone = strings.TrimSpace(req.Phone)

	switch {
	case req.ExternalID == "":
		errs["external_id"] = "external_id is required"
	case len(req.ExternalID) > maxExternalIDLength:
		errs["external_id"] = fmt.Sprintf("external_id must be at most %d characters", maxExternalIDLength)
	case strings.ContainsAny(req.ExternalID, " \t\r\n"):
		errs["external_id"] = "external_id must not contain whitespace"
	}
	required(errs, "name", req.Name)
	required(errs, "city", req.City)
	for field, v := range map[string]string{"category": req.Category, "address": req.Address} {
		if len(v) > maxFieldLength {
			errs[field] = fmt.Sprintf("%s must be at most %d characters", field, maxFieldLength)
		}
	}

	if req.Phone != "" {
		phone, ok := lead.NormalizePhone(req.Phone)
		if !ok {
			errs["phone"] = "phone must have between 10 and 13 digits"
		} else {
			req.Phone = phone
		}
	}
	if req.Website != "" {
		site, err := normalizeWebsite(req.Website)
		if err != nil {
			errs["website"] = err.Error()
		} else {
			req.Website = site
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func required(errs map[string]string, field, v string) {
	if v == "" {
		errs[field] = field + " is required"
	} else if len(v) > maxFieldLength {
		errs[field] = fmt.Sprintf("%s must be at most %d characters", field, maxFieldLength)
	}
}

func normalizeWebsite(raw string) (string, error) {
	if len(raw) > maxWebsiteLength {
		return "", fmt.Errorf("website must be at most %d characters", maxWebsiteLength)
	}
	s := raw
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" || !strings.Contains(u.Hostname(), ".") {
		return "", fmt.Errorf("website %q is not a valid address", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("website must use http or https")
	}
	return u.String(), nil
}
