package orchestrator

import (
	"context"

	"github.com/LerianStudio/lib-runtimeops/runtimeops/circuitbreaker"
)

// Priority is an advisory task tier. It is surfaced in status output and
// logs but never preempts execution.
type Priority uint8

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

// String returns the priority's name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// TaskFunc is a task body. It may fail; the orchestrator contains the
// failure. The context carries the breaker's per-call deadline.
type TaskFunc func(ctx context.Context) error

// LoadGate skips a task's execution while the rolling CPU average exceeds
// MaxLoad (percent).
type LoadGate struct {
	MaxLoad float64
}

// Task describes one recurring unit of background work.
type Task struct {
	// Name uniquely identifies the task. Registering an existing name
	// replaces the prior definition but keeps its breaker's streak.
	Name string

	// Label is the human-readable description used in logs and status.
	Label string

	// Rule is the recurrence rule handed to the scheduling collaborator,
	// e.g. "*/5 * * * *" or "@every 30s".
	Rule string

	// Priority is advisory only.
	Priority Priority

	// Run is the task body.
	Run TaskFunc

	// Breaker overrides the breaker configuration. Nil means
	// circuitbreaker.DefaultConfig.
	Breaker *circuitbreaker.Config

	// Gate enables load gating. Nil means the task always runs regardless
	// of CPU load.
	Gate *LoadGate
}
