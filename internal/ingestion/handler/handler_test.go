package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/lead"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const leadID = "7f1c2a4e-1b7e-4a55-9d59-0c7b6a6f0b11"

type fakeService struct {
	created []ingestion.LeadRequest
	resp    *ingestion.LeadResponse
	err     error
	leads   map[string]lead.Lead
}

func (f *fakeService) Create(_ context.Context, req *ingestion.LeadRequest) (*ingestion.LeadResponse, error) {
	f.created = append(f.created, *req)
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &ingestion.LeadResponse{LeadID: leadID, ExternalID: req.ExternalID, Status: lead.StatusPublished}, nil
}

func (f *fakeService) Get(_ context.Context, id string) (lead.Lead, error) {
	if !strings.Contains(id, "-") {
		return lead.Lead{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "bad id")
	}
	l, ok := f.leads[id]
	if !ok {
		return lead.Lead{}, apperrors.ErrNotFound
	}
	return l, nil
}

func serve(svc *fakeService, method, path, body string) *httptest.ResponseRecorder {
	h := New(svc).Routes(metrics.NewNop(), time.Second, nil)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateLeadAccepted(t *testing.T) {
	svc := &fakeService{}
	rec := serve(svc, http.MethodPost, "/api/v1/leads",
		`{"external_id":"ChIJ123","name":" Padaria Sol Nascente ","city":"Campinas","phone":"(19) 3232-1010"}`)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(pkgmw.RequestIDHeader))

	var resp ingestion.LeadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, leadID, resp.LeadID)

	require.Len(t, svc.created, 1)
	assert.Equal(t, "Padaria Sol Nascente", svc.created[0].Name)
	assert.Equal(t, "551932321010", svc.created[0].Phone)
}

func TestCreateLeadDuplicateReturnsOK(t *testing.T) {
	svc := &fakeService{resp: &ingestion.LeadResponse{LeadID: leadID, Status: lead.StatusEnriched, Duplicate: true}}
	rec := serve(svc, http.MethodPost, "/api/v1/leads", `{"external_id":"ChIJ123","name":"x","city":"y"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateLeadRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"not json", `{"external_id":`, ""},
		{"unknown field", `{"external_id":"a","name":"x","city":"y","rating":5}`, ""},
		{"missing city", `{"external_id":"a","name":"x"}`, "city"},
		{"bad website", `{"external_id":"a","name":"x","city":"y","website":"nope"}`, "website"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			rec := serve(svc, http.MethodPost, "/api/v1/leads", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, svc.created)
			if tt.field == "" {
				return
			}
			var body struct {
				Fields map[string]string `json:"fields"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body.Fields, tt.field)
		})
	}
}

func TestCreateLeadBackendUnavailable(t *testing.T) {
	svc := &fakeService{err: apperrors.Newf(apperrors.ErrTransientIO, http.StatusServiceUnavailable, "bus unavailable")}
	rec := serve(svc, http.MethodPost, "/api/v1/leads", `{"external_id":"a","name":"x","city":"y"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "bus unavailable")
}

func TestGetLead(t *testing.T) {
	svc := &fakeService{leads: map[string]lead.Lead{leadID: {ID: leadID, Status: lead.StatusEnriched}}}

	rec := serve(svc, http.MethodGet, "/api/v1/leads/"+leadID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var l lead.Lead
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &l))
	assert.Equal(t, lead.StatusEnriched, l.Status)

	rec = serve(svc, http.MethodGet, "/api/v1/leads/0b7c2a4e-1b7e-4a55-9d59-0c7b6a6f0b11", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(svc, http.MethodGet, "/api/v1/leads/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := serve(&fakeService{}, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateLeadRateLimited(t *testing.T) {
	svc := &fakeService{leads: map[string]lead.Lead{leadID: {ID: leadID}}}
	h := New(svc).Routes(metrics.NewNop(), time.Second, pkgmw.NewClientLimiter(0.001, 1, time.Minute))

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/leads", strings.NewReader(`{"external_id":"a","name":"x","city":"y"}`))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusAccepted, post())
	assert.Equal(t, http.StatusTooManyRequests, post())
	assert.Len(t, svc.created, 1)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/leads/"+leadID, nil))
	assert.Equal(t, http.StatusOK, rec.Code, "status lookups are not limited")
}
