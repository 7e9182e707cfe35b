// Package health runs dependency checks for the liveness and readiness
// endpoints each service exposes next to its metrics.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Check tests one dependency.
type Check func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
	// Optional components never take the service down on their own.
	Optional bool `json:"optional,omitempty"`
}

type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

type registration struct {
	check    Check
	optional bool
}

// Checker holds the registered checks. Each run gives every check its own
// timeout so one hung dependency cannot stall the check.
type Checker struct {
	mu           sync.RWMutex
	checks       map[string]registration
	checkTimeout time.Duration
	now          func() time.Time
}

func NewChecker() *Checker {
	return &Checker{
		checks:       make(map[string]registration),
		checkTimeout: 2 * time.Second,
		now:          time.Now,
	}
}

// Register adds a check whose failure marks the service down.
func (c *Checker) Register(name string, check Check) {
	c.add(name, registration{check: check})
}

// RegisterOptional adds a check that can at worst degrade the service.
func (c *Checker) RegisterOptional(name string, check Check) {
	c.add(name, registration{check: check, optional: true})
}

func (c *Checker) add(name string, r registration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = r
}

// Run executes every check concurrently. The report takes the worst
// component status, with optional components capped at degraded.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]registration, len(c.checks))
	for name, r := range c.checks {
		checks[name] = r
	}
	c.mu.RUnlock()

	var mu sync.Mutex
	components := make(map[string]ComponentHealth, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for name, r := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, c.checkTimeout)
			defer cancel()
			start := time.Now()
			res := r.check(cctx)
			res.Latency = time.Since(start).Round(time.Millisecond).String()
			res.Optional = r.optional
			mu.Lock()
			components[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Status: StatusUp, Components: components, Timestamp: c.now().UTC().Format(time.RFC3339)}
	for _, comp := range components {
		switch {
		case comp.Status == StatusDown && !comp.Optional:
			report.Status = StatusDown
		case comp.Status != StatusUp && report.Status == StatusUp:
			report.Status = StatusDegraded
		}
	}
	return report
}

// PingCheck adapts a Ping method.
func PingCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// ThresholdCheck reports degraded once value reaches limit, for backlogs
// such as the dead-letter queue that should alert without failing readiness.
// A limit of zero or less disables the threshold.
func ThresholdCheck(value func(ctx context.Context) (int, error), limit int) Check {
	return func(ctx context.Context) ComponentHealth {
		v, err := value(ctx)
		if err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		if limit > 0 && v >= limit {
			return ComponentHealth{Status: StatusDegraded, Message: fmt.Sprintf("%d messages waiting", v)}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// LiveHandler answers as long as the process serves HTTP.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers 503 only when a required dependency is down.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		code := http.StatusOK
		if report.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
