package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/metrics"
)

func newClient(url string) *Client {
	return NewClient(config.SearchConfig{
		Endpoint: url,
		APIKey:   "key",
		Country:  "br",
		Language: "pt-br",
		Results:  30,
		Timeout:  time.Second,
	}, metrics.NewNop())
}

func TestSearchSendsQueryAndParses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("X-API-KEY") != "key" {
			t.Errorf("method = %s key = %q", r.Method, r.Header.Get("X-API-KEY"))
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Query != "Padaria Sol Nascente, Campinas" || req.Country != "br" || req.Language != "pt-br" || req.Num != 30 {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(`{"organic":[
			{"title":"Padaria Sol Nascente","link":"https://cnpj.biz/1","snippet":"Campinas"},
			{"title":"Outra","link":"https://example.com","snippet":""}
		]}`))
	}))
	defer srv.Close()

	docs, err := newClient(srv.URL).Search(context.Background(), Query(" Padaria Sol Nascente ", "Campinas"))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(docs) != 2 || docs[0].Link != "https://cnpj.biz/1" || docs[0].Snippet != "Campinas" {
		t.Errorf("docs = %+v", docs)
	}
}

func TestSearchErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, true},
		{"unavailable", http.StatusServiceUnavailable, ``, true},
		{"server error", http.StatusInternalServerError, ``, true},
		{"unauthorized", http.StatusUnauthorized, `{"message":"bad key"}`, false},
		{"bad json", http.StatusOK, `{"organic":`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newClient(srv.URL).Search(context.Background(), "q")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := apperrors.IsTransient(err); got != tt.transient {
				t.Errorf("transient = %v, want %v (%v)", got, tt.transient, err)
			}
		})
	}
}
