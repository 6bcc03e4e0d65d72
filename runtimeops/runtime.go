package runtimeops

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/LerianStudio/lib-runtimeops/runtimeops/lifecycle"
	"github.com/LerianStudio/lib-runtimeops/runtimeops/log"
	"github.com/LerianStudio/lib-runtimeops/runtimeops/orchestrator"
)

var (
	// ErrNilRuntime is returned when a method is called on a nil runtime.
	ErrNilRuntime = errors.New("runtimeops: runtime is nil")

	// ErrRuntimeStarted is returned when Start is called twice.
	ErrRuntimeStarted = errors.New("runtimeops: runtime already started")
)

// Runtime composes the operational primitives of one process behind a
// single lifecycle. Start brings up the orchestrator and the lifecycle
// registry's background sweep; Shutdown tears everything down in order and
// is safe to wire straight into a signal handler.
type Runtime struct {
	logger       log.Logger
	orchestrator *orchestrator.Orchestrator
	registry     *lifecycle.Registry

	mu       sync.Mutex
	started  bool
	shutdown bool
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(r *Runtime)

// WithLogger attaches a logger to the runtime lifecycle events.
func WithLogger(logger log.Logger) RuntimeOption {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithOrchestrator attaches the task orchestrator managed by this runtime.
func WithOrchestrator(o *orchestrator.Orchestrator) RuntimeOption {
	return func(r *Runtime) {
		r.orchestrator = o
	}
}

// WithRegistry attaches the lifecycle registry managed by this runtime.
func WithRegistry(reg *lifecycle.Registry) RuntimeOption {
	return func(r *Runtime) {
		r.registry = reg
	}
}

// NewRuntime creates a Runtime. Components are optional; absent ones are
// skipped during Start and Shutdown.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		logger: log.NewNop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start brings up the managed components. The context becomes the base
// context for every scheduled task.
func (r *Runtime) Start(ctx context.Context) error {
	if r == nil {
		return ErrNilRuntime
	}

	r.mu.Lock()

	if r.started {
		r.mu.Unlock()

		return ErrRuntimeStarted
	}

	r.started = true

	r.mu.Unlock()

	if r.registry != nil {
		r.registry.Start()
	}

	if r.orchestrator != nil {
		if err := r.orchestrator.Start(ctx); err != nil {
			return fmt.Errorf("start orchestrator: %w", err)
		}
	}

	r.logger.Log(ctx, log.LevelInfo, "runtime started")

	return nil
}

// Shutdown tears down the managed components: the orchestrator stops
// gracefully, the lifecycle registry unwinds every component, and the
// logger is flushed. Every step runs even when an earlier one fails;
// failures are joined into the returned error. Repeat calls are no-ops.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil {
		return ErrNilRuntime
	}

	r.mu.Lock()

	if r.shutdown {
		r.mu.Unlock()

		return nil
	}

	r.shutdown = true

	r.mu.Unlock()

	r.logger.Log(ctx, log.LevelInfo, "runtime shutting down")

	var errs []error

	if r.orchestrator != nil {
		if err := r.orchestrator.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop orchestrator: %w", err))
		}
	}

	if r.registry != nil {
		if err := r.registry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown lifecycle registry: %w", err))
		}
	}

	if err := r.logger.Sync(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sync logger: %w", err))
	}

	return errors.Join(errs...)
}

// EmergencyShutdown is the hard-reset path: schedules are cancelled and
// every breaker cleared without waiting for in-flight work, then the
// lifecycle registry unwinds. Intended for fatal-error handlers where a
// graceful drain is off the table.
func (r *Runtime) EmergencyShutdown() {
	if r == nil {
		return
	}

	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()

	r.logger.Log(context.Background(), log.LevelWarn, "runtime emergency shutdown")

	if r.orchestrator != nil {
		r.orchestrator.EmergencyShutdown()
	}

	if r.registry != nil {
		_ = r.registry.Shutdown(context.Background())
	}
}
