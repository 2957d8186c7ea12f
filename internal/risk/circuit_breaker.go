package risk

import (
	"sync"
	"time"

	"order_router/internal/core"
	"order_router/pkg/telemetry"
)

// BreakerState is the circuit breaker's current state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker trips open after maxFailures consecutive adapter failures.
// After resetAfter it admits a single probe (half-open); a success closes
// the breaker, a failure reopens it and restarts the cooldown.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	openedAt    time.Time
	probeInUse  bool
	maxFailures int
	resetAfter  time.Duration
	logger      core.ILogger
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(maxFailures int, resetAfter time.Duration, logger core.ILogger) *CircuitBreaker {
	return &CircuitBreaker{
		state:       BreakerClosed,
		maxFailures: maxFailures,
		resetAfter:  resetAfter,
		logger:      logger.WithField("component", "circuit_breaker"),
	}
}

// Allow reports whether a new adapter call may proceed at now. While open
// it transitions to half-open once the cooldown has elapsed and admits
// exactly one probe.
func (cb *CircuitBreaker) Allow(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if now.Sub(cb.openedAt) < cb.resetAfter {
			return false
		}
		cb.state = BreakerHalfOpen
		cb.probeInUse = true
		cb.logger.Info("Circuit breaker half-open, admitting probe")
		return true
	case BreakerHalfOpen:
		if cb.probeInUse {
			return false
		}
		cb.probeInUse = true
		return true
	}
	return false
}

// RecordSuccess resets the failure count; a half-open probe success closes
// the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerHalfOpen {
		cb.logger.Info("Circuit breaker closed after successful probe")
	}
	cb.state = BreakerClosed
	cb.failures = 0
	cb.probeInUse = false

	telemetry.GetGlobalMetrics().SetCircuitBreakerOpen(false)
}

// RecordFailure counts one consecutive failure. Reaching the threshold, or
// failing the half-open probe, opens the breaker.
func (cb *CircuitBreaker) RecordFailure(now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.probeInUse = false

	if cb.state == BreakerHalfOpen {
		cb.state = BreakerOpen
		cb.openedAt = now
		cb.logger.Warn("Circuit breaker reopened, probe failed")
		telemetry.GetGlobalMetrics().SetCircuitBreakerOpen(true)
		return
	}
	if cb.state == BreakerClosed && cb.failures >= cb.maxFailures {
		cb.state = BreakerOpen
		cb.openedAt = now
		cb.logger.Error("Circuit breaker opened", "consecutive_failures", cb.failures)
		telemetry.GetGlobalMetrics().SetCircuitBreakerOpen(true)
	}
}

// WouldAllow reports whether a call at now could proceed, without consuming
// the half-open probe slot. The gate cascade uses this; the execution
// router calls Allow.
func (cb *CircuitBreaker) WouldAllow(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		return now.Sub(cb.openedAt) >= cb.resetAfter
	case BreakerHalfOpen:
		return !cb.probeInUse
	}
	return false
}

// Reset manually closes the breaker and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failures = 0
	cb.probeInUse = false
	telemetry.GetGlobalMetrics().SetCircuitBreakerOpen(false)
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Open reports whether calls are currently blocked outright.
func (cb *CircuitBreaker) Open() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == BreakerOpen
}
