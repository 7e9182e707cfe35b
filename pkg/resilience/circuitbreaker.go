// Package resilience provides fault-tolerance primitives for calls to the
// broker, the stores and the external lookup APIs: a circuit breaker and
// exponential-backoff retry.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen matches every *OpenError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError is returned instead of calling through an open breaker.
type OpenError struct {
	Name string
	// RetryAfter is how long until the breaker lets a trial call through. Zero
	// means the half-open trial slots are taken.
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: circuit open, retry after %s", e.Name, e.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("%s: circuit half-open, trial in flight", e.Name)
}

func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }

// State is the phase of a circuit breaker. The numeric values are exported
// as the breaker state gauge.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig controls failure thresholds and recovery timing.
type CircuitBreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	// HalfOpenTrials is how many calls may run while half-open. All of them
	// must succeed to close the breaker.
	HalfOpenTrials int
	// IsFailure decides which errors count against the breaker. Nil counts
	// every non-nil error.
	IsFailure func(error) bool
	// OnStateChange is called with the lock held whenever the state moves.
	OnStateChange func(name string, to State)
	// Now overrides the clock in tests.
	Now func() time.Time
}

// CircuitBreaker trips open after FailureThreshold consecutive failures,
// rejects calls for ResetTimeout, then lets HalfOpenTrials calls through.
// Every state change starts a new generation, and results of calls started
// in an earlier generation are ignored.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	failures   int
	trials     int
	successes  int
	openedAt   time.Time
}

// NewCircuitBreaker fills zero config values with defaults: 5 failures, a
// 30s reset timeout and a single trial.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenTrials <= 0 {
		cfg.HalfOpenTrials = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	gen, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(gen, err)
	return err
}

// GetState returns the current state, moving an expired open breaker to
// half-open first.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expire()
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.logger.Info("circuit manually reset")
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expire()
	switch cb.state {
	case StateOpen:
		wait := cb.cfg.ResetTimeout - cb.cfg.Now().Sub(cb.openedAt)
		return 0, &OpenError{Name: cb.name, RetryAfter: wait}
	case StateHalfOpen:
		if cb.trials >= cb.cfg.HalfOpenTrials {
			return 0, &OpenError{Name: cb.name}
		}
		cb.trials++
	}
	return cb.generation, nil
}

func (cb *CircuitBreaker) record(gen uint64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if gen != cb.generation {
		return
	}
	failed := err != nil && (cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err))

	switch cb.state {
	case StateClosed:
		if !failed {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.logger.Warn("circuit opened", "consecutive_failures", cb.failures, "error", err)
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		if failed {
			cb.logger.Warn("trial failed, circuit re-opened", "error", err)
			cb.transition(StateOpen)
			return
		}
		cb.successes++
		if cb.successes >= cb.cfg.HalfOpenTrials {
			cb.logger.Info("circuit closed after successful trial")
			cb.transition(StateClosed)
		}
	}
}

// expire moves an open breaker whose timeout elapsed to half-open.
func (cb *CircuitBreaker) expire() {
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		cb.logger.Info("circuit half-open, allowing trial", "after", cb.cfg.ResetTimeout)
		cb.transition(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) transition(to State) {
	cb.generation++
	cb.failures, cb.trials, cb.successes = 0, 0, 0
	if to == StateOpen {
		cb.openedAt = cb.cfg.Now()
	}
	if cb.state == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, to)
	}
}
