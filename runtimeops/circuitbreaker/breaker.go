package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LerianStudio/lib-runtimeops/runtimeops/backoff"
	"github.com/LerianStudio/lib-runtimeops/runtimeops/log"
)

var (
	// ErrCircuitOpen is the fast-fail error returned without invoking the
	// operation while the recovery window has not elapsed.
	ErrCircuitOpen = errors.New("circuitbreaker: circuit open, service unavailable")

	// ErrCallTimeout is returned when a guarded operation breaches its
	// per-call deadline. It counts as a failure for breaker bookkeeping.
	ErrCallTimeout = errors.New("circuitbreaker: operation timed out")

	// ErrOperationFailed wraps errors propagated from the guarded operation.
	ErrOperationFailed = errors.New("circuitbreaker: operation failed")

	// ErrNilOperation is returned when Execute is given a nil operation.
	ErrNilOperation = errors.New("circuitbreaker: operation is nil")

	// ErrNilBreaker is returned when a method is called on a nil breaker.
	ErrNilBreaker = errors.New("circuitbreaker: breaker is nil")
)

// Breaker guards a single logical operation. All state and counters are
// owned exclusively by the breaker; there is no external mutation path.
type Breaker struct {
	name      string
	cfg       Config
	logger    log.Logger
	listeners []StateChangeListener
	now       func() time.Time

	mu             sync.Mutex
	state          State
	consecFailures uint32
	consecSuccess  uint32
	reopens        uint32
	window         time.Duration
	lastFailure    time.Time
	lastTransition time.Time
}

// Option configures a Breaker.
type Option func(b *Breaker)

// WithLogger attaches a logger for state-transition and rejection events.
func WithLogger(logger log.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithStateChangeListener registers a listener notified after every state
// transition. Listeners are invoked outside the breaker's lock.
func WithStateChangeListener(listener StateChangeListener) Option {
	return func(b *Breaker) {
		if listener != nil {
			b.listeners = append(b.listeners, listener)
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a closed Breaker with the given name and configuration.
func New(name string, cfg Config, opts ...Option) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Breaker{
		name:   name,
		cfg:    cfg,
		logger: log.NewNop(),
		now:    time.Now,
		state:  StateClosed,
		window: cfg.BaseBackoff,
	}

	for _, opt := range opts {
		opt(b)
	}

	b.lastTransition = b.now()

	return b, nil
}

// Name returns the breaker's name.
func (b *Breaker) Name() string {
	if b == nil {
		return ""
	}

	return b.name
}

// State returns the current state.
func (b *Breaker) State() State {
	if b == nil {
		return StateOpen
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Counts returns a snapshot of the breaker's counters.
func (b *Breaker) Counts() Counts {
	if b == nil {
		return Counts{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return Counts{
		ConsecutiveFailures:  b.consecFailures,
		ConsecutiveSuccesses: b.consecSuccess,
		Reopens:              b.reopens,
	}
}

// Ready reports whether a call would be allowed right now: true unless the
// breaker is open and still inside its recovery window.
func (b *Breaker) Ready() bool {
	if b == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return true
	}

	return b.now().Sub(b.lastFailure) >= b.window
}

// RemainingCooldown returns how long until an open breaker admits a probe
// call. Zero when the breaker is not open or the window has elapsed.
func (b *Breaker) RemainingCooldown() time.Duration {
	if b == nil {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return 0
	}

	remaining := b.window - b.now().Sub(b.lastFailure)
	if remaining < 0 {
		return 0
	}

	return remaining
}

// Execute runs the operation under the breaker's per-call deadline.
//
// If the breaker is open and the recovery window has not elapsed, it fails
// immediately with ErrCircuitOpen without invoking the operation. If the
// window has elapsed, the breaker transitions to half-open and the call
// proceeds as a probe. A deadline breach or a propagated error counts as a
// failure; normal return counts as a success.
func (b *Breaker) Execute(ctx context.Context, op Operation) error {
	if b == nil {
		return ErrNilBreaker
	}

	if op == nil {
		return ErrNilOperation
	}

	if err := b.beforeCall(ctx); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- op(callCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			b.recordFailure(ctx)

			return fmt.Errorf("%w: %w", ErrOperationFailed, err)
		}

		b.recordSuccess(ctx)

		return nil
	case <-callCtx.Done():
		b.recordFailure(ctx)

		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrCallTimeout, b.cfg.CallTimeout)
		}

		return fmt.Errorf("%w: %w", ErrOperationFailed, callCtx.Err())
	}
}

// Reset forces the breaker back to closed with zeroed counters and the base
// recovery window.
func (b *Breaker) Reset(ctx context.Context) {
	if b == nil {
		return
	}

	b.mu.Lock()
	from := b.state
	b.consecFailures = 0
	b.consecSuccess = 0
	b.reopens = 0
	b.window = b.cfg.BaseBackoff

	var notify func()
	if from != StateClosed {
		notify = b.transitionLocked(ctx, StateClosed)
	}
	b.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// beforeCall applies the open-state gate, transitioning to half-open when
// the recovery window has elapsed.
func (b *Breaker) beforeCall(ctx context.Context) error {
	b.mu.Lock()

	if b.state != StateOpen {
		b.mu.Unlock()

		return nil
	}

	if b.now().Sub(b.lastFailure) < b.window {
		remaining := b.window - b.now().Sub(b.lastFailure)
		b.mu.Unlock()

		b.logger.Log(ctx, log.LevelDebug, "circuit open, rejecting call",
			log.String("breaker", b.name),
			log.Duration("cooldown_remaining", remaining),
		)

		return fmt.Errorf("%w: retry in %s", ErrCircuitOpen, remaining)
	}

	notify := b.transitionLocked(ctx, StateHalfOpen)
	b.mu.Unlock()

	if notify != nil {
		notify()
	}

	return nil
}

func (b *Breaker) recordSuccess(ctx context.Context) {
	b.mu.Lock()

	b.consecSuccess++

	// Decay instead of hard reset so a single success amid a failure streak
	// does not mask an unhealthy dependency.
	if b.consecFailures > 0 {
		b.consecFailures--
	}

	var notify func()

	if b.state == StateHalfOpen && b.consecSuccess >= b.cfg.SuccessThreshold {
		b.reopens = 0
		b.window = b.cfg.BaseBackoff
		notify = b.transitionLocked(ctx, StateClosed)
	}

	b.mu.Unlock()

	if notify != nil {
		notify()
	}
}

func (b *Breaker) recordFailure(ctx context.Context) {
	b.mu.Lock()

	b.consecFailures++
	b.consecSuccess = 0
	b.lastFailure = b.now()

	var notify func()

	switch b.state {
	case StateClosed:
		if b.consecFailures >= b.cfg.FailureThreshold {
			notify = b.openLocked(ctx)
		}
	case StateHalfOpen:
		// A single probe failure reopens immediately.
		notify = b.openLocked(ctx)
	case StateOpen:
		// Already open; a late failure from an in-flight call only refreshes
		// the failure timestamp.
	}

	b.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// openLocked transitions to open and doubles the recovery window, capped at
// MaxBackoff. Caller must hold b.mu.
func (b *Breaker) openLocked(ctx context.Context) func() {
	b.reopens++
	b.window = backoff.ExponentialCapped(b.cfg.BaseBackoff, b.cfg.MaxBackoff, int(b.reopens)-1)

	return b.transitionLocked(ctx, StateOpen)
}

// transitionLocked changes state, logs, and returns a closure that notifies
// listeners. Caller must hold b.mu and invoke the closure after unlocking.
func (b *Breaker) transitionLocked(ctx context.Context, to State) func() {
	from := b.state
	if from == to {
		return nil
	}

	b.state = to
	b.lastTransition = b.now()

	b.logger.Log(ctx, log.LevelInfo, "circuit breaker state change",
		log.String("breaker", b.name),
		log.String("from", string(from)),
		log.String("to", string(to)),
		log.Duration("recovery_window", b.window),
	)

	listeners := make([]StateChangeListener, len(b.listeners))
	copy(listeners, b.listeners)

	name := b.name

	return func() {
		for _, listener := range listeners {
			listener.OnStateChange(name, from, to)
		}
	}
}
