package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
)

const activeBody = `{
	"cnpj": "12345678000190",
	"razao_social": "PADARIA SOL NASCENTE LTDA",
	"nome_fantasia": "PADARIA SOL NASCENTE",
	"situacao": {"nome": "Ativa"},
	"endereco": {"municipio": "CAMPINAS", "uf": "SP"}
}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.RegistryConfig{
		BaseURL:          srv.URL + "/v1/cnpj",
		Token:            "secret",
		Timeout:          200 * time.Millisecond,
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	}, metrics.NewNop())
}

func TestLookupActive(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/cnpj/12345678000190" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("token") != "secret" {
			t.Errorf("token = %q", r.URL.Query().Get("token"))
		}
		w.Write([]byte(activeBody))
	})

	rec, err := c.Lookup(context.Background(), "12.345.678/0001-90")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !rec.Active() {
		t.Errorf("status = %q, want active", rec.Status)
	}
	if rec.Municipality != "CAMPINAS" || rec.LegalName != "PADARIA SOL NASCENTE LTDA" {
		t.Errorf("record = %+v", rec)
	}
}

func TestLookupNoData(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		isQuota bool
	}{
		{"not found", http.StatusNotFound, `{"message":"not found"}`, false},
		{"server error", http.StatusInternalServerError, `oops`, false},
		{"quota", http.StatusTooManyRequests, `{}`, true},
		{"malformed", http.StatusOK, `{"situacao":`, false},
		{"empty", http.StatusOK, `{}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.Lookup(context.Background(), "12345678000190")
			if !errors.Is(err, ErrNoData) {
				t.Fatalf("err = %v, want ErrNoData", err)
			}
			if apperrors.IsTransient(err) {
				t.Errorf("no-data error classified as transient: %v", err)
			}
			if got := errors.Is(err, apperrors.ErrQuotaExhausted); got != tt.isQuota {
				t.Errorf("quota = %v, want %v", got, tt.isQuota)
			}
		})
	}
}

func TestLookupTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	_, err := c.Lookup(context.Background(), "12345678000190")
	if err == nil {
		t.Fatal("expected error")
	}
	if !apperrors.IsTransient(err) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestLookupCallerCancelDoesNotFailSharedLookup(t *testing.T) {
	var hits atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		started <- struct{}{}
		<-release
		w.Write([]byte(activeBody))
	})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.Lookup(ctxA, "12345678000190")
		errA <- err
	}()
	<-started

	type result struct {
		rec Record
		err error
	}
	resB := make(chan result, 1)
	go func() {
		rec, err := c.Lookup(context.Background(), "12.345.678/0001-90")
		resB <- result{rec, err}
	}()
	time.Sleep(30 * time.Millisecond)

	cancelA()
	if err := <-errA; !apperrors.IsTransient(err) || !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller err = %v, want transient cancel", err)
	}
	close(release)

	got := <-resB
	if got.err != nil {
		t.Fatalf("waiting caller err = %v, want the shared record", got.err)
	}
	if !got.rec.Active() {
		t.Errorf("record = %+v", got.rec)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("requests = %d, want one shared request", n)
	}
}

func TestLookupRejectsShortNumber(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.Lookup(context.Background(), "1234")
	if !errors.Is(err, apperrors.ErrMalformedInput) {
		t.Errorf("err = %v", err)
	}
}

func TestBreakerOpensOnTransportFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	url := srv.URL
	srv.Close()

	c := NewClient(config.RegistryConfig{
		BaseURL:          url,
		Timeout:          100 * time.Millisecond,
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
	}, metrics.NewNop())

	for i := 0; i < 3; i++ {
		_, err := c.Lookup(context.Background(), "12345678000190")
		if !apperrors.IsTransient(err) {
			t.Fatalf("attempt %d: err = %v, want transient", i, err)
		}
	}
	_, err := c.Lookup(context.Background(), "12345678000190")
	if err == nil || !strings.Contains(err.Error(), "circuit breaker is open") {
		t.Errorf("err = %v, want open breaker", err)
	}
}
