package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/lead"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const maxBodyBytes = 64 << 10

// LeadService is satisfied by *publisher.Publisher.
type LeadService interface {
	Create(ctx context.Context, req *ingestion.LeadRequest) (*ingestion.LeadResponse, error)
	Get(ctx context.Context, leadID string) (lead.Lead, error)
}

type Handler struct {
	leads  LeadService
	logger *slog.Logger
}

func New(leads LeadService) *Handler {
	return &Handler{
		leads:  leads,
		logger: slog.Default().With("component", "ingestion-handler"),
	}
}

// Routes builds the ingestion API.
//
//	POST /api/v1/leads       create and publish a lead
//	GET  /api/v1/leads/{id}  lead status
//	GET  /health             liveness
//
// limiter may be nil to accept submissions at any rate.
func (h *Handler) Routes(m *metrics.Metrics, requestTimeout time.Duration, limiter *pkgmw.ClientLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(pkgmw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(pkgmw.Metrics(m))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", pkgmw.RequestIDHeader},
		ExposedHeaders: []string{pkgmw.RequestIDHeader},
		MaxAge:         86400,
	}))

	r.Get("/health", h.Health)
	r.Route("/api/v1/leads", func(r chi.Router) {
		r.Use(pkgmw.Timeout(requestTimeout))
		r.With(pkgmw.RateLimit(limiter)).Post("/", h.CreateLead)
		r.Get("/{id}", h.GetLead)
	})
	return r
}

func (h *Handler) CreateLead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req ingestion.LeadRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateLeadRequest(&req); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.leads.Create(ctx, &req)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("lead ingestion failed", "external_id", req.ExternalID, "error", err, "status_code", statusCode)
		h.writeError(w, statusCode, "lead ingestion failed")
		return
	}
	status := http.StatusAccepted
	if resp.Duplicate {
		status = http.StatusOK
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	l, err := h.leads.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		if statusCode >= http.StatusInternalServerError {
			logger.FromContext(r.Context()).Error("lead lookup failed", "error", err)
		}
		h.writeError(w, statusCode, http.StatusText(statusCode))
		return
	}
	h.writeJSON(w, http.StatusOK, l)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
