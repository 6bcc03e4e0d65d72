package orchestrator

import (
	"github.com/LerianStudio/lib-runtimeops/runtimeops/circuitbreaker"
)

// TaskStatus is the per-task slice of a status snapshot.
type TaskStatus struct {
	Label     string
	Priority  Priority
	Breaker   circuitbreaker.State
	Scheduled bool
	Running   bool
	Runs      uint64
	Failures  uint64
	Skips     uint64
}

// Status is a read-only snapshot for health and dashboard endpoints. A
// task isolated by its breaker shows as open here rather than silently
// vanishing, so operators can tell "disabled by policy" from "broken".
type Status struct {
	Active    bool
	Tasks     int
	Scheduled int

	// MeanLoad is the mean of the rolling CPU sample history, percent.
	MeanLoad float64

	// MemoryUsedPercent is the host's used-memory percentage at snapshot
	// time; zero if the reading failed.
	MemoryUsedPercent float64

	PerTask map[string]TaskStatus
}

// Status returns the current snapshot.
func (o *Orchestrator) Status() Status {
	if o == nil {
		return Status{}
	}

	o.mu.Lock()

	s := Status{
		Active:  o.active,
		Tasks:   len(o.tasks),
		PerTask: make(map[string]TaskStatus, len(o.tasks)),
	}

	if load, ok := o.meanLoadLocked(); ok {
		s.MeanLoad = load
	}

	for name, state := range o.tasks {
		scheduled := state.cancel != nil
		if scheduled {
			s.Scheduled++
		}

		s.PerTask[name] = TaskStatus{
			Label:     state.task.Label,
			Priority:  state.task.Priority,
			Breaker:   state.breaker.State(),
			Scheduled: scheduled,
			Running:   state.running,
			Runs:      state.runs,
			Failures:  state.failures,
			Skips:     state.skips,
		}
	}

	o.mu.Unlock()

	if used, err := MemoryUsedPercent(); err == nil {
		s.MemoryUsedPercent = used
	}

	return s
}
