package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a request fails fast because the circuit
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows all requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen fails all requests fast.
	CircuitOpen
	// CircuitHalfOpen probes the downstream with live requests.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state as its string name.
func (s CircuitState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses a state from its string name.
func (s *CircuitState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "closed":
		*s = CircuitClosed
	case "open":
		*s = CircuitOpen
	case "half_open":
		*s = CircuitHalfOpen
	default:
		return fmt.Errorf("unknown circuit state %q", name)
	}
	return nil
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures in closed state
	// before the circuit opens.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes in half-open
	// state before the circuit closes.
	SuccessThreshold int

	// OpenTimeout is how long the circuit stays open before the next call is
	// allowed through as a half-open probe.
	OpenTimeout time.Duration
}

// DefaultBreakerConfig returns the standard breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// CircuitBreaker implements a three-state breaker (closed, open, half-open)
// guarding one downstream service.
//
// Transitions:
//   - closed: success resets the failure count; a failure increments it and
//     opens the circuit once FailureThreshold is reached.
//   - open: calls fail fast with ErrCircuitOpen. The first call after
//     OpenTimeout has elapsed transitions to half-open.
//   - half-open: a success increments the success count and closes the
//     circuit once SuccessThreshold is reached; any failure reopens it.
type CircuitBreaker struct {
	mu            sync.Mutex
	cfg           BreakerConfig
	state         CircuitState
	failureCount  int
	successCount  int
	lastFailureAt time.Time

	totalRequests int64
	totalFailures int64
}

// NewCircuitBreaker creates a circuit breaker in the closed state.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultBreakerConfig().SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerConfig().OpenTimeout
	}
	return &CircuitBreaker{cfg: cfg, state: CircuitClosed}
}

// Execute runs op under the breaker's protection. When the circuit is open
// and the open timeout has not elapsed, op is not invoked and ErrCircuitOpen
// is returned.
func (cb *CircuitBreaker) Execute(op func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	if err := op(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// Allow reports whether a request may proceed, performing the open to
// half-open transition when the open timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailureAt) > cb.cfg.OpenTimeout {
			cb.state = CircuitHalfOpen
			cb.successCount = 0
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.state = CircuitClosed
			cb.failureCount = 0
			cb.successCount = 0
		}
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	cb.totalFailures++

	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.state = CircuitOpen
			cb.lastFailureAt = time.Now()
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.lastFailureAt = time.Now()
	}
}

// State returns the current circuit state, applying the open to half-open
// transition if the open timeout has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && time.Since(cb.lastFailureAt) > cb.cfg.OpenTimeout {
		cb.state = CircuitHalfOpen
		cb.successCount = 0
	}
	return cb.state
}

// Reset returns the circuit breaker to the closed state and clears counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastFailureAt = time.Time{}
}

// BreakerStats is a point-in-time snapshot of a breaker.
type BreakerStats struct {
	State         CircuitState `json:"state"`
	FailureCount  int          `json:"failureCount"`
	SuccessCount  int          `json:"successCount"`
	LastFailureAt *time.Time   `json:"lastFailureAt,omitempty"`
	TotalRequests int64        `json:"totalRequests"`
	TotalFailures int64        `json:"totalFailures"`
}

// Stats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats := BreakerStats{
		State:         cb.state,
		FailureCount:  cb.failureCount,
		SuccessCount:  cb.successCount,
		TotalRequests: cb.totalRequests,
		TotalFailures: cb.totalFailures,
	}
	if !cb.lastFailureAt.IsZero() {
		t := cb.lastFailureAt
		stats.LastFailureAt = &t
	}
	return stats
}
