package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LerianStudio/lib-runtimeops/runtimeops/log"
	"github.com/google/uuid"
)

var (
	// ErrEmptyComponentID is returned when a component id is blank.
	ErrEmptyComponentID = errors.New("lifecycle: component id is empty")

	// ErrUnknownComponent is returned when a token references a component
	// that was never registered or has been unregistered.
	ErrUnknownComponent = errors.New("lifecycle: unknown component")

	// ErrStaleToken is returned when a token belongs to a superseded
	// registration of the same component id.
	ErrStaleToken = errors.New("lifecycle: stale component token")

	// ErrListenerCapReached is returned when a listener registration would
	// exceed the per-component cap. Non-fatal by design.
	ErrListenerCapReached = errors.New("lifecycle: listener cap reached")

	// ErrTimerCapReached is returned when a timer registration would exceed
	// the per-component cap. Non-fatal by design.
	ErrTimerCapReached = errors.New("lifecycle: timer cap reached")

	// ErrNilEmitter is returned when a listener registration carries no
	// emitter.
	ErrNilEmitter = errors.New("lifecycle: emitter is nil")

	// ErrNilHandler is returned when a listener registration carries no
	// handler.
	ErrNilHandler = errors.New("lifecycle: handler is nil")

	// ErrNilCleanup is returned when a cleanup registration carries no
	// callback.
	ErrNilCleanup = errors.New("lifecycle: cleanup callback is nil")

	// ErrNilTimerHandle is returned when a timer registration carries no
	// handle.
	ErrNilTimerHandle = errors.New("lifecycle: timer handle is nil")

	// ErrNilRegistry is returned when a method is called on a nil registry.
	ErrNilRegistry = errors.New("lifecycle: registry is nil")
)

// CleanupFunc is a component teardown callback. Callbacks are awaited
// sequentially during unregistration; a failure is logged, never
// propagated.
type CleanupFunc func(ctx context.Context) error

// Token proves ownership of one live component registration.
type Token struct {
	id    string
	nonce uuid.UUID
}

// ID returns the component id the token was issued for.
func (t Token) ID() string { return t.id }

// Config holds registry tuning parameters.
type Config struct {
	// MaxListeners caps listener registrations per component.
	MaxListeners int

	// MaxTimers caps timer registrations per component.
	MaxTimers int

	// SweepInterval is how often the background staleness sweep runs.
	SweepInterval time.Duration

	// ListenerStaleAfter is how long a listener may stay silent before the
	// sweep assumes its component is orphaned and drops it.
	ListenerStaleAfter time.Duration
}

// DefaultConfig provides caps and sweep timing suitable for most services.
func DefaultConfig() Config {
	return Config{
		MaxListeners:       50,
		MaxTimers:          20,
		SweepInterval:      time.Minute,
		ListenerStaleAfter: 5 * time.Minute,
	}
}

type listenerRecord struct {
	sub        Subscription
	event      string
	lastFired  time.Time
	registered time.Time
}

type timerRecord struct {
	handle TimerHandle
	kind   TimerKind
}

type component struct {
	token     Token
	listeners map[uuid.UUID]*listenerRecord
	timers    []timerRecord
	cleanups  []CleanupFunc
}

// Registry tracks components and their reclaimable resources.
type Registry struct {
	cfg    Config
	logger log.Logger
	now    func() time.Time

	mu         sync.Mutex
	components map[string]*component

	sweepStop chan struct{}
	sweepOnce sync.Once
	sweeping  bool
	wg        sync.WaitGroup
}

// Option configures a Registry.
type Option func(r *Registry)

// WithLogger attaches a logger for cap rejections, stale-instance warnings,
// and cleanup failures.
func WithLogger(logger log.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates a Registry. The staleness sweep does not run until
// Start is called.
func NewRegistry(cfg Config, opts ...Option) *Registry {
	if cfg.MaxListeners <= 0 {
		cfg.MaxListeners = DefaultConfig().MaxListeners
	}

	if cfg.MaxTimers <= 0 {
		cfg.MaxTimers = DefaultConfig().MaxTimers
	}

	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}

	if cfg.ListenerStaleAfter <= 0 {
		cfg.ListenerStaleAfter = DefaultConfig().ListenerStaleAfter
	}

	r := &Registry{
		cfg:        cfg,
		logger:     log.NewNop(),
		now:        time.Now,
		components: make(map[string]*component),
		sweepStop:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start launches the background staleness sweep. Calling it more than once
// is a no-op.
func (r *Registry) Start() {
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sweeping {
		return
	}

	r.sweeping = true

	r.wg.Add(1)

	go r.sweepLoop()
}

// RegisterComponent registers id and returns its ownership token. If the id
// is already live, the stale instance is fully unregistered first so there
// is never more than one registration per id.
func (r *Registry) RegisterComponent(id string) (Token, error) {
	if r == nil {
		return Token{}, ErrNilRegistry
	}

	if id == "" {
		return Token{}, ErrEmptyComponentID
	}

	r.mu.Lock()
	stale, exists := r.components[id]
	r.mu.Unlock()

	if exists {
		r.logger.Log(context.Background(), log.LevelWarn, "component already registered, replacing stale instance",
			log.String("component", id),
		)

		r.teardown(context.Background(), stale)

		r.mu.Lock()
		// Only delete if the stale instance is still the live one.
		if current, ok := r.components[id]; ok && current == stale {
			delete(r.components, id)
		}
		r.mu.Unlock()
	}

	token := Token{id: id, nonce: uuid.New()}

	r.mu.Lock()
	r.components[id] = &component{
		token:     token,
		listeners: make(map[uuid.UUID]*listenerRecord),
	}
	r.mu.Unlock()

	return token, nil
}

// RegisterListener subscribes handler to event on emitter and tracks the
// subscription under the component. The stored handler updates its
// last-fired timestamp on every invocation, which feeds the staleness
// sweep. Exceeding the listener cap rejects the registration with a warning.
func (r *Registry) RegisterListener(token Token, emitter Emitter, event string, handler Handler) error {
	if r == nil {
		return ErrNilRegistry
	}

	if emitter == nil {
		return ErrNilEmitter
	}

	if handler == nil {
		return ErrNilHandler
	}

	r.mu.Lock()

	comp, err := r.resolveLocked(token)
	if err != nil {
		r.mu.Unlock()

		return err
	}

	if len(comp.listeners) >= r.cfg.MaxListeners {
		r.mu.Unlock()

		r.logger.Log(context.Background(), log.LevelWarn, "listener cap reached, registration rejected",
			log.String("component", token.id),
			log.String("event", event),
			log.Int("cap", r.cfg.MaxListeners),
		)

		return fmt.Errorf("%w: component %q holds %d listeners", ErrListenerCapReached, token.id, r.cfg.MaxListeners)
	}

	listenerID := uuid.New()
	now := r.now()
	record := &listenerRecord{event: event, lastFired: now, registered: now}
	comp.listeners[listenerID] = record

	r.mu.Unlock()

	sub := emitter.Subscribe(event, func(args ...any) {
		r.mu.Lock()
		record.lastFired = r.now()
		r.mu.Unlock()

		handler(args...)
	})

	r.mu.Lock()
	record.sub = sub
	r.mu.Unlock()

	return nil
}

// RegisterTimer tracks a timer handle under the component. Exceeding the
// timer cap rejects the registration with a warning.
func (r *Registry) RegisterTimer(token Token, handle TimerHandle, kind TimerKind) error {
	if r == nil {
		return ErrNilRegistry
	}

	if handle == nil {
		return ErrNilTimerHandle
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	comp, err := r.resolveLocked(token)
	if err != nil {
		return err
	}

	if len(comp.timers) >= r.cfg.MaxTimers {
		r.logger.Log(context.Background(), log.LevelWarn, "timer cap reached, registration rejected",
			log.String("component", token.id),
			log.String("kind", kind.String()),
			log.Int("cap", r.cfg.MaxTimers),
		)

		return fmt.Errorf("%w: component %q holds %d timers", ErrTimerCapReached, token.id, r.cfg.MaxTimers)
	}

	comp.timers = append(comp.timers, timerRecord{handle: handle, kind: kind})

	return nil
}

// RegisterCleanup tracks a teardown callback invoked during
// unregistration.
func (r *Registry) RegisterCleanup(token Token, fn CleanupFunc) error {
	if r == nil {
		return ErrNilRegistry
	}

	if fn == nil {
		return ErrNilCleanup
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	comp, err := r.resolveLocked(token)
	if err != nil {
		return err
	}

	comp.cleanups = append(comp.cleanups, fn)

	return nil
}

// UnregisterComponent tears the component down: every listener is
// unsubscribed, every timer stopped, every cleanup callback awaited in
// registration order, then all bookkeeping is discarded. A failure in one
// step never prevents the following steps. Unregistering a component that
// is not live is a no-op.
func (r *Registry) UnregisterComponent(ctx context.Context, token Token) error {
	if r == nil {
		return ErrNilRegistry
	}

	r.mu.Lock()

	comp, ok := r.components[token.id]
	if !ok {
		r.mu.Unlock()

		return nil
	}

	if comp.token.nonce != token.nonce {
		r.mu.Unlock()

		return fmt.Errorf("%w: component %q was re-registered", ErrStaleToken, token.id)
	}

	delete(r.components, token.id)
	r.mu.Unlock()

	r.teardown(ctx, comp)

	return nil
}

// teardown runs all cleanup steps unconditionally, logging failures.
func (r *Registry) teardown(ctx context.Context, comp *component) {
	for _, record := range comp.listeners {
		if record.sub == nil {
			continue
		}

		if err := record.sub.Unsubscribe(); err != nil {
			r.logger.Log(ctx, log.LevelWarn, "listener unsubscribe failed during teardown",
				log.String("component", comp.token.id),
				log.String("event", record.event),
				log.Err(err),
			)
		}
	}

	for _, record := range comp.timers {
		record.handle.Stop()
	}

	for i, cleanup := range comp.cleanups {
		r.runCleanup(ctx, comp.token.id, i, cleanup)
	}
}

// runCleanup invokes one callback, capturing errors and panics so the
// remaining callbacks still run.
func (r *Registry) runCleanup(ctx context.Context, id string, index int, cleanup CleanupFunc) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Log(ctx, log.LevelError, "cleanup callback panicked",
				log.String("component", id),
				log.Int("index", index),
				log.Any("panic", recovered),
			)
		}
	}()

	if err := cleanup(ctx); err != nil {
		r.logger.Log(ctx, log.LevelWarn, "cleanup callback failed",
			log.String("component", id),
			log.Int("index", index),
			log.Err(err),
		)
	}
}

// Shutdown stops the staleness sweep and unregisters every live component.
// Safe to call more than once.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r == nil {
		return ErrNilRegistry
	}

	r.sweepOnce.Do(func() {
		close(r.sweepStop)
	})
	r.wg.Wait()

	r.mu.Lock()
	remaining := make([]*component, 0, len(r.components))
	for _, comp := range r.components {
		remaining = append(remaining, comp)
	}
	r.components = make(map[string]*component)
	r.mu.Unlock()

	for _, comp := range remaining {
		r.teardown(ctx, comp)
	}

	return nil
}

// resolveLocked validates a token against the live registration. Caller
// must hold r.mu.
func (r *Registry) resolveLocked(token Token) (*component, error) {
	comp, ok := r.components[token.id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownComponent, token.id)
	}

	if comp.token.nonce != token.nonce {
		return nil, fmt.Errorf("%w: component %q was re-registered", ErrStaleToken, token.id)
	}

	return comp, nil
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweepStaleListeners()
		case <-r.sweepStop:
			return
		}
	}
}

// sweepStaleListeners drops listeners that have not fired within the
// staleness window. Advisory cleanup: a silent listener usually means its
// component is orphaned.
func (r *Registry) sweepStaleListeners() {
	now := r.now()
	cutoff := now.Add(-r.cfg.ListenerStaleAfter)

	type stale struct {
		componentID string
		event       string
		sub         Subscription
	}

	var victims []stale

	r.mu.Lock()

	for _, comp := range r.components {
		for listenerID, record := range comp.listeners {
			if record.lastFired.Before(cutoff) {
				victims = append(victims, stale{
					componentID: comp.token.id,
					event:       record.event,
					sub:         record.sub,
				})
				delete(comp.listeners, listenerID)
			}
		}
	}

	r.mu.Unlock()

	for _, victim := range victims {
		if victim.sub != nil {
			if err := victim.sub.Unsubscribe(); err != nil {
				r.logger.Log(context.Background(), log.LevelWarn, "stale listener unsubscribe failed",
					log.String("component", victim.componentID),
					log.String("event", victim.event),
					log.Err(err),
				)

				continue
			}
		}

		r.logger.Log(context.Background(), log.LevelWarn, "removed stale listener",
			log.String("component", victim.componentID),
			log.String("event", victim.event),
			log.Duration("stale_after", r.cfg.ListenerStaleAfter),
		)
	}
}

// Stats is a point-in-time view of registry bookkeeping, used for leak
// detection in long-running processes.
type Stats struct {
	Components int
	Listeners  int
	Timers     int

	PerComponent map[string]ComponentStats
}

// ComponentStats breaks totals down for one component.
type ComponentStats struct {
	Listeners int
	Timers    int
	Cleanups  int
}

// Stats returns current bookkeeping totals.
func (r *Registry) Stats() Stats {
	if r == nil {
		return Stats{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{PerComponent: make(map[string]ComponentStats, len(r.components))}

	for id, comp := range r.components {
		cs := ComponentStats{
			Listeners: len(comp.listeners),
			Timers:    len(comp.timers),
			Cleanups:  len(comp.cleanups),
		}

		s.Components++
		s.Listeners += cs.Listeners
		s.Timers += cs.Timers
		s.PerComponent[id] = cs
	}

	return s
}
