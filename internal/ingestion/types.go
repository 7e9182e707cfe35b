// Package ingestion defines the request and response types of the lead
// ingestion API.
package ingestion

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/lead"
)

// LeadRequest is the JSON body accepted by POST /api/v1/leads.
type LeadRequest struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	City       string `json:"city"`
	Category   string `json:"category,omitempty"`
	Website    string `json:"website,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
}

// RawLead is the event published for this request.
func (r LeadRequest) RawLead() lead.RawLead {
	return lead.RawLead{
		Name:     r.Name,
		City:     r.City,
		Category: r.Category,
		Website:  r.Website,
		Phone:    r.Phone,
		Address:  r.Address,
	}
}

// LeadResponse is returned once a lead is accepted.
type LeadResponse struct {
	LeadID     string    `json:"lead_id"`
	ExternalID string    `json:"external_id"`
	Status     string    `json:"status"`
	Duplicate  bool      `json:"duplicate,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
