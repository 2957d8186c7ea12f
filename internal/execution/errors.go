// Package execution wraps the execution adapter with the resilience
// policies of the order boundary: retry, rate limiting, timeouts and
// circuit-breaker accounting.
package execution

import "errors"

var (
	// ErrTransient marks adapter failures that are safe to retry.
	// Adapters wrap network and rate-limit errors with it.
	ErrTransient = errors.New("transient adapter error")

	// ErrBreakerOpen is returned when the circuit breaker blocks a call.
	ErrBreakerOpen = errors.New("circuit breaker open")
)

// IsTransient reports whether err may be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
