package provider

import (
	"log/slog"
	"sync"
	"time"
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// CircuitBreaker guards a Provider against a persistently failing upstream
// CLI agent. Adapted from internal/service/issues.LLMCircuitBreaker: same
// closed/open/half-open auto-reset state machine.
type CircuitBreaker struct {
	mu                  sync.RWMutex
	threshold           int
	resetTimeout        time.Duration
	consecutiveFailures int
	lastFailureAt       time.Time
	state               circuitState
}

// NewCircuitBreaker constructs a breaker that opens after threshold
// consecutive failures and probes again after resetTimeout.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, resetTimeout: resetTimeout, state: circuitClosed}
}

// AllowRequest reports whether a call should proceed, transitioning open ->
// half-open once resetTimeout has elapsed.
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		return true
	case circuitOpen:
		if time.Since(cb.lastFailureAt) >= cb.resetTimeout {
			cb.state = circuitHalfOpen
			slog.Info("provider circuit breaker transitioning to half-open")
			return true
		}
		return false
	default: // circuitHalfOpen
		return true
	}
}

// RecordSuccess closes the circuit if it was half-open.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	if cb.state == circuitHalfOpen {
		cb.state = circuitClosed
		slog.Info("provider circuit breaker closed after successful request")
	}
}

// RecordFailure accounts a failure, opening the circuit once the threshold
// is reached (or immediately re-opening from half-open).
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures++
	cb.lastFailureAt = time.Now()

	if cb.state == circuitHalfOpen {
		cb.state = circuitOpen
		slog.Warn("provider circuit breaker re-opened after half-open failure")
		return
	}
	if cb.consecutiveFailures >= cb.threshold && cb.state == circuitClosed {
		cb.state = circuitOpen
		slog.Warn("provider circuit breaker opened", "failures", cb.consecutiveFailures, "threshold", cb.threshold)
	}
}

// IsOpen reports whether the circuit currently blocks requests.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	if cb.state == circuitClosed {
		return false
	}
	if cb.state == circuitOpen && time.Since(cb.lastFailureAt) >= cb.resetTimeout {
		return false
	}
	return cb.state == circuitOpen
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	cb.state = circuitClosed
	cb.lastFailureAt = time.Time{}
}
