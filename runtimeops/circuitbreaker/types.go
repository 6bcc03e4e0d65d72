package circuitbreaker

import "context"

// State represents the breaker state.
type State string

const (
	// StateClosed lets every call through; failures are counted.
	StateClosed State = "closed"

	// StateOpen fast-fails every call until the recovery window elapses.
	StateOpen State = "open"

	// StateHalfOpen lets calls through as recovery probes; a single failure
	// reopens the breaker, enough successes close it.
	StateHalfOpen State = "half-open"
)

// Operation is a unit of work guarded by the breaker. The context carries
// the per-call deadline; operations should honor it.
type Operation func(ctx context.Context) error

// Counts is a snapshot of the breaker's bookkeeping.
type Counts struct {
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32

	// Reopens is the number of consecutive transitions into the open state
	// since the breaker last closed. It drives the backoff window.
	Reopens uint32
}

// StateChangeListener is notified after every state transition.
type StateChangeListener interface {
	OnStateChange(name string, from State, to State)
}

// StateChangeFunc adapts a plain function to StateChangeListener.
type StateChangeFunc func(name string, from State, to State)

// OnStateChange calls the wrapped function.
func (fn StateChangeFunc) OnStateChange(name string, from State, to State) {
	fn(name, from, to)
}
