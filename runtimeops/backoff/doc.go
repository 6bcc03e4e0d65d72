// Package backoff provides exponential backoff and jitter helpers used by
// the circuit breaker's recovery window and by callers that retry against
// unhealthy dependencies.
package backoff
