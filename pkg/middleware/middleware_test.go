package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc-123" {
		t.Errorf("context request id = %q", seen)
	}
	if rec.Header().Get(RequestIDHeader) != "abc-123" {
		t.Errorf("response header = %q", rec.Header().Get(RequestIDHeader))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "abc-123" {
		t.Errorf("expected generated id, got %q", seen)
	}
}

func TestMetricsRecordsStatus(t *testing.T) {
	m := metrics.NewNop()
	h := Metrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/leads", nil))
	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/leads", "202"))
	if got != 1 {
		t.Errorf("requests counter = %v, want 1", got)
	}
}

func TestTimeoutWritesGatewayTimeout(t *testing.T) {
	h := Timeout(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "request timed out") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestTimeoutFlushesBufferedResponse(t *testing.T) {
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Lead", "l1")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"l1"}`))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusAccepted || rec.Header().Get("X-Lead") != "l1" || rec.Body.String() != `{"id":"l1"}` {
		t.Errorf("code = %d header = %q body = %q", rec.Code, rec.Header().Get("X-Lead"), rec.Body.String())
	}
}

func TestTimeoutLateWritesFail(t *testing.T) {
	late := make(chan error, 1)
	release := make(chan struct{})
	h := Timeout(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		<-release
		_, err := w.Write([]byte("too late"))
		late <- err
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	close(release)
	if err := <-late; err != http.ErrHandlerTimeout {
		t.Errorf("late write err = %v, want ErrHandlerTimeout", err)
	}
	if strings.Contains(rec.Body.String(), "too late") {
		t.Error("late write reached the client")
	}
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	m := metrics.NewNop()
	r := chi.NewRouter()
	r.Use(Metrics(m))
	r.Get("/api/v1/leads/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/leads/place-123", nil))
	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/leads/{id}", "404"))
	if got != 1 {
		t.Errorf("requests counter = %v, want 1", got)
	}
}

func TestNormalizePathCollapsesIDs(t *testing.T) {
	got := normalizePath("/api/v1/leads/7f1c2a4e-1b7e-4a55-9d59-0c7b6a6f0b11")
	if got != "/api/v1/leads/{id}" {
		t.Errorf("normalizePath = %q", got)
	}
	if got := normalizePath("/api/v1/leads"); got != "/api/v1/leads" {
		t.Errorf("normalizePath = %q", got)
	}
}

func TestRateLimitPerClient(t *testing.T) {
	l := NewClientLimiter(1, 2, time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	h := RateLimit(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/leads", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i, want := range []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests} {
		if got := send("10.0.0.1:5000"); got != want {
			t.Errorf("request %d: status = %d, want %d", i, got, want)
		}
	}
	if got := send("10.0.0.2:5000"); got != http.StatusAccepted {
		t.Errorf("other client: status = %d", got)
	}

	now = now.Add(time.Second)
	if got := send("10.0.0.1:6000"); got != http.StatusAccepted {
		t.Errorf("after refill: status = %d", got)
	}
}

func TestClientLimiterSweep(t *testing.T) {
	l := NewClientLimiter(10, 1, time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.Allow("a")
	now = now.Add(30 * time.Second)
	l.Allow("b")
	now = now.Add(45 * time.Second)
	if removed := l.Sweep(); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, ok := l.clients["b"]; !ok {
		t.Error("recent client swept")
	}
}

func TestRateLimitNilPassesThrough(t *testing.T) {
	called := false
	h := RateLimit(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("nil limiter must not block")
	}
}
