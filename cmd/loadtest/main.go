// Command loadtest submits synthetic leads to the ingestion service at a fixed
// concurrency and reports latency percentiles and status codes.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080 -concurrency 20 -duration 1m
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/ingestion"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	// Rate caps submissions per second across all workers; zero is unlimited.
	Rate float64
	// Repeat is the share of submissions that reuse an earlier external id.
	Repeat float64
}

type Stats struct {
	total      atomic.Int64
	accepted   atomic.Int64
	duplicates atomic.Int64
	failed     atomic.Int64

	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int64),
	}
}

func (s *Stats) Record(d time.Duration, statusCode int, err error) {
	s.total.Add(1)
	switch {
	case err != nil:
		s.failed.Add(1)
		return
	case statusCode == http.StatusAccepted:
		s.accepted.Add(1)
	case statusCode == http.StatusOK:
		s.duplicates.Add(1)
	default:
		s.failed.Add(1)
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.statusCodes[statusCode]++
	s.mu.Unlock()
}

var (
	names      = []string{"Padaria Sol Nascente", "Auto Peças Central", "Clínica Sorriso", "Mercado Bom Preço", "Pet Shop Amigo Fiel", "Restaurante Sabor da Terra"}
	cities     = []string{"Campinas", "São Paulo", "Curitiba", "Belo Horizonte", "Recife"}
	categories = []string{"Padaria", "Autopeças", "Dentista", "Supermercado", "Pet shop", "Restaurante"}
)

// lead builds the i-th synthetic submission. Every repeat-th one reuses the
// external id of the submission before it.
func lead(worker, i int, repeat float64) ingestion.LeadRequest {
	seq := i
	if repeat > 0 && i > 0 && math.Mod(float64(i), math.Round(1/repeat)) == 0 {
		seq = i - 1
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("loadtest-%d-%d", worker, seq)))
	return ingestion.LeadRequest{
		ExternalID: "lt-" + id.String(),
		Name:       names[seq%len(names)],
		City:       cities[(seq/len(names))%len(cities)],
		Category:   categories[seq%len(categories)],
		Phone:      fmt.Sprintf("(19) 3%03d-%04d", worker%1000, seq%10000),
	}
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the ingestion service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	rps := flag.Float64("rate", 0, "max submissions per second, 0 for unlimited")
	repeat := flag.Float64("repeat", 0.1, "fraction of submissions that repeat an external id")
	flag.Parse()

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		Rate:        *rps,
		Repeat:      *repeat,
	}

	fmt.Println("=== Lead Ingestion Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Rate:        %.0f/s\n", cfg.Rate)
	fmt.Printf("Repeats:     %.0f%%\n", cfg.Repeat*100)
	fmt.Println()

	stats := run(cfg)
	if !printReport(stats, cfg.Duration) {
		os.Exit(1)
	}
}

func run(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	limiter := rate.NewLimiter(limit, cfg.Concurrency)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	endpoint := cfg.BaseURL + "/api/v1/leads"
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Concurrency; w++ {
		g.Go(func() error {
			for i := 0; ; i++ {
				if err := limiter.Wait(gctx); err != nil {
					return nil
				}
				body, err := json.Marshal(lead(w, i, cfg.Repeat))
				if err != nil {
					return err
				}
				start := time.Now()
				code, err := submit(gctx, client, endpoint, body)
				if gctx.Err() != nil {
					return nil
				}
				stats.Record(time.Since(start), code, err)
			}
		})
	}

	fmt.Print("Running")
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "\nload test aborted: %v\n", err)
	}
	close(done)
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func submit(ctx context.Context, client *http.Client, endpoint string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// printReport writes the summary and reports whether anything completed.
func printReport(stats *Stats, duration time.Duration) bool {
	total := stats.total.Load()
	fmt.Println("=== Results ===")
	fmt.Printf("Submitted:   %d\n", total)
	fmt.Printf("Accepted:    %d\n", stats.accepted.Load())
	fmt.Printf("Duplicates:  %d\n", stats.duplicates.Load())
	fmt.Printf("Failed:      %d\n", stats.failed.Load())
	if total > 0 {
		fmt.Printf("Failure rate: %.2f%%\n", float64(stats.failed.Load())/float64(total)*100)
		fmt.Printf("Leads/sec:   %.2f\n", float64(total)/duration.Seconds())
	}

	stats.mu.Lock()
	latencies := append([]time.Duration(nil), stats.latencies...)
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	counts := make([]int64, len(codes))
	for i, code := range codes {
		counts[i] = stats.statusCodes[code]
	}
	stats.mu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", sum/time.Duration(len(latencies)))
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	for i, code := range codes {
		fmt.Printf("  %d: %d\n", code, counts[i])
	}

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No submissions completed. Is the ingestion service running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
