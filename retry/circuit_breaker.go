package retry

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned by CircuitBreaker.Allow while the breaker
// is open.
var ErrCircuitOpen = errors.New("retry: circuit breaker is open")

// CircuitBreakerState is one of the three circuit breaker states.
type CircuitBreakerState int32

const (
	CircuitClosed CircuitBreakerState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the
	// circuit.
	MaxFailures int
	// Cooldown is how long the circuit stays open before moving to
	// half-open, where attempts are allowed again.
	Cooldown time.Duration
	// SuccessThreshold is the number of consecutive half-open successes
	// needed to close the circuit again.
	SuccessThreshold int
}

// DefaultCircuitBreakerConfig mirrors the teacher's
// resilience.DefaultCircuitBreakerConfig, adapted for a fetch guard
// instead of a request-timeout guard (this breaker does not own a
// timeout — the Retryer's ctx cancellation already bounds attempts).
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:      5,
		Cooldown:         30 * time.Second,
		SuccessThreshold: 2,
	}
}

// CircuitBreaker is an optional guard a Retryer consults before each
// attempt: after MaxFailures consecutive failures it opens and rejects
// new attempts with ErrCircuitOpen until Cooldown elapses, then moves to
// half-open: attempts are allowed again (their number is not limited),
// SuccessThreshold consecutive successes close the circuit, and any
// failure reopens it. It is a
// supplemental safety net layered on top of, and independent from, the
// retry Policy in spec.md §4.3 — it does not change Query state machine
// semantics, only whether a fetch attempt is allowed to start.
//
// Adapted from the teacher's resilience.CircuitBreaker
// (github.com/agentuity/go-common/resilience), trimmed to the subset
// relevant to gating a single background attempt rather than an
// HTTP-style concurrent request pool.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	state           int32
	failures        int32
	successes       int32
	lastFailureUnix int64

	mu sync.Mutex
}

// NewCircuitBreaker constructs a CircuitBreaker in the closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, state: int32(CircuitClosed)}
}

// Allow reports whether an attempt may proceed, transitioning
// Open→HalfOpen when the cooldown has elapsed.
func (cb *CircuitBreaker) Allow() error {
	switch CircuitBreakerState(atomic.LoadInt32(&cb.state)) {
	case CircuitClosed, CircuitHalfOpen:
		return nil
	case CircuitOpen:
		last := atomic.LoadInt64(&cb.lastFailureUnix)
		if time.Since(time.Unix(0, last)) >= cb.cfg.Cooldown {
			cb.mu.Lock()
			atomic.StoreInt32(&cb.state, int32(CircuitHalfOpen))
			atomic.StoreInt32(&cb.successes, 0)
			cb.mu.Unlock()
			return nil
		}
		return ErrCircuitOpen
	default:
		return ErrCircuitOpen
	}
}

// RecordResult reports the outcome of an attempt that Allow permitted.
func (cb *CircuitBreaker) RecordResult(err error) {
	if err == nil {
		cb.onSuccess()
		return
	}
	cb.onFailure()
}

func (cb *CircuitBreaker) onSuccess() {
	switch CircuitBreakerState(atomic.LoadInt32(&cb.state)) {
	case CircuitClosed:
		atomic.StoreInt32(&cb.failures, 0)
	case CircuitHalfOpen:
		successes := atomic.AddInt32(&cb.successes, 1)
		if int(successes) >= cb.cfg.SuccessThreshold {
			cb.mu.Lock()
			atomic.StoreInt32(&cb.state, int32(CircuitClosed))
			atomic.StoreInt32(&cb.failures, 0)
			atomic.StoreInt32(&cb.successes, 0)
			cb.mu.Unlock()
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	atomic.StoreInt64(&cb.lastFailureUnix, time.Now().UnixNano())
	switch CircuitBreakerState(atomic.LoadInt32(&cb.state)) {
	case CircuitClosed:
		failures := atomic.AddInt32(&cb.failures, 1)
		if int(failures) >= cb.cfg.MaxFailures {
			cb.mu.Lock()
			atomic.StoreInt32(&cb.state, int32(CircuitOpen))
			cb.mu.Unlock()
		}
	case CircuitHalfOpen:
		cb.mu.Lock()
		atomic.StoreInt32(&cb.state, int32(CircuitOpen))
		atomic.StoreInt32(&cb.successes, 0)
		cb.mu.Unlock()
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	return CircuitBreakerState(atomic.LoadInt32(&cb.state))
}

// Reset forces the breaker back to closed, clearing counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	atomic.StoreInt32(&cb.state, int32(CircuitClosed))
	atomic.StoreInt32(&cb.failures, 0)
	atomic.StoreInt32(&cb.successes, 0)
}
