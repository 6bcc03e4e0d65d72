package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LerianStudio/lib-runtimeops/runtimeops/circuitbreaker"
	"github.com/LerianStudio/lib-runtimeops/runtimeops/log"
	"github.com/LerianStudio/lib-runtimeops/runtimeops/opentelemetry/metrics"
	"github.com/google/uuid"
)

var (
	// ErrNilOrchestrator is returned when a method is called on a nil
	// orchestrator.
	ErrNilOrchestrator = errors.New("orchestrator: orchestrator is nil")

	// ErrEmptyTaskName is returned when a task has no name.
	ErrEmptyTaskName = errors.New("orchestrator: task name is empty")

	// ErrNilTaskFunc is returned when a task has no body.
	ErrNilTaskFunc = errors.New("orchestrator: task body is nil")

	// ErrStaleToken is returned when a token belongs to a superseded
	// registration of the same task name.
	ErrStaleToken = errors.New("orchestrator: stale task token")

	// ErrAlreadyStarted is returned when Start is called on a running
	// orchestrator.
	ErrAlreadyStarted = errors.New("orchestrator: already started")
)

// Token proves ownership of one task registration.
type Token struct {
	name  string
	nonce uuid.UUID
}

// Name returns the task name the token was issued for.
func (t Token) Name() string { return t.name }

// Config holds orchestrator tuning parameters.
type Config struct {
	// SampleInterval is how often the background load sampler runs.
	SampleInterval time.Duration

	// SampleHistory bounds the rolling CPU sample history.
	SampleHistory int
}

// DefaultConfig provides sampling defaults suitable for most services.
func DefaultConfig() Config {
	return Config{
		SampleInterval: 10 * time.Second,
		SampleHistory:  10,
	}
}

type taskState struct {
	task    Task
	token   Token
	breaker *circuitbreaker.Breaker
	cancel  CancelFunc
	running bool

	runs     uint64
	failures uint64
	skips    uint64
}

// Orchestrator owns a registry of named recurring tasks and the gates that
// decide whether each tick runs.
type Orchestrator struct {
	cfg       Config
	scheduler Scheduler
	sampler   Sampler
	logger    log.Logger
	metrics   *metrics.MetricsFactory
	now       func() time.Time

	mu      sync.Mutex
	tasks   map[string]*taskState
	samples []float64
	active  bool

	baseCtx     context.Context
	stopSampler context.CancelFunc
	samplerWG   sync.WaitGroup
	inflight    sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(o *Orchestrator)

// WithConfig overrides the sampling configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		if cfg.SampleInterval > 0 {
			o.cfg.SampleInterval = cfg.SampleInterval
		}

		if cfg.SampleHistory > 0 {
			o.cfg.SampleHistory = cfg.SampleHistory
		}
	}
}

// WithLogger attaches a logger for gate decisions and task failures.
func WithLogger(logger log.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics attaches a metrics factory recording task outcomes, breaker
// transitions, and load gauges.
func WithMetrics(factory *metrics.MetricsFactory) Option {
	return func(o *Orchestrator) {
		if factory != nil {
			o.metrics = factory
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an Orchestrator delegating to the given scheduling
// collaborator and load sampler.
func New(scheduler Scheduler, sampler Sampler, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       DefaultConfig(),
		scheduler: scheduler,
		sampler:   sampler,
		logger:    log.NewNop(),
		metrics:   metrics.NewNopFactory(),
		now:       time.Now,
		tasks:     make(map[string]*taskState),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// RegisterTask adds or replaces a task definition and returns its
// ownership token. Replacing keeps the prior breaker so an accumulated
// failure streak survives redefinition; the old schedule is cancelled. If
// the orchestrator is running, the task is scheduled immediately.
func (o *Orchestrator) RegisterTask(task Task) (Token, error) {
	if o == nil {
		return Token{}, ErrNilOrchestrator
	}

	if task.Name == "" {
		return Token{}, ErrEmptyTaskName
	}

	if task.Run == nil {
		return Token{}, ErrNilTaskFunc
	}

	breakerCfg := circuitbreaker.DefaultConfig()
	if task.Breaker != nil {
		breakerCfg = *task.Breaker
	}

	o.mu.Lock()

	prior, replacing := o.tasks[task.Name]

	var breaker *circuitbreaker.Breaker

	if replacing {
		o.logger.Log(context.Background(), log.LevelWarn, "task already registered, replacing definition",
			log.String("task", task.Name),
		)

		if prior.cancel != nil {
			prior.cancel()
		}

		// The breaker and its streak survive redefinition.
		breaker = prior.breaker
	} else {
		var err error

		breaker, err = circuitbreaker.New(task.Name, breakerCfg,
			circuitbreaker.WithLogger(o.logger),
			circuitbreaker.WithClock(o.now),
			circuitbreaker.WithStateChangeListener(circuitbreaker.StateChangeFunc(o.onBreakerChange)),
		)
		if err != nil {
			o.mu.Unlock()

			return Token{}, fmt.Errorf("create breaker for task %q: %w", task.Name, err)
		}
	}

	state := &taskState{
		task:    task,
		token:   Token{name: task.Name, nonce: uuid.New()},
		breaker: breaker,
	}
	o.tasks[task.Name] = state

	active := o.active

	o.mu.Unlock()

	if active {
		o.scheduleTask(state)
	}

	return state.token, nil
}

// UnregisterTask cancels the task's schedule and discards its breaker.
// A token for a name that is no longer registered is a no-op.
func (o *Orchestrator) UnregisterTask(token Token) error {
	if o == nil {
		return ErrNilOrchestrator
	}

	o.mu.Lock()

	state, ok := o.tasks[token.name]
	if !ok {
		o.mu.Unlock()

		return nil
	}

	if state.token.nonce != token.nonce {
		o.mu.Unlock()

		return fmt.Errorf("%w: task %q was re-registered", ErrStaleToken, token.name)
	}

	delete(o.tasks, token.name)
	cancel := state.cancel

	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	return nil
}

// Start begins the background load sampler and schedules every registered
// task. Task failures never propagate to the caller; they are contained
// per task.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o == nil {
		return ErrNilOrchestrator
	}

	o.mu.Lock()

	if o.active {
		o.mu.Unlock()

		return ErrAlreadyStarted
	}

	o.active = true
	o.baseCtx = ctx

	samplerCtx, cancel := context.WithCancel(ctx)
	o.stopSampler = cancel

	pending := make([]*taskState, 0, len(o.tasks))
	for _, state := range o.tasks {
		pending = append(pending, state)
	}

	o.mu.Unlock()

	o.samplerWG.Add(1)

	go o.sampleLoop(samplerCtx)

	for _, state := range pending {
		o.scheduleTask(state)
	}

	o.logger.Log(ctx, log.LevelInfo, "orchestrator started",
		log.Int("tasks", len(pending)),
		log.Duration("sample_interval", o.cfg.SampleInterval),
	)

	return nil
}

// Stop gracefully deactivates the orchestrator: future ticks are
// cancelled, the sampler stops, and in-flight ticks are awaited. Breaker
// state survives for a later Start.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o == nil {
		return ErrNilOrchestrator
	}

	if !o.deactivate(ctx, "orchestrator stopped") {
		return nil
	}

	// Wait for ticks already executing; Stop is the graceful path.
	done := make(chan struct{})

	go func() {
		o.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight tasks: %w", ctx.Err())
	}
}

// EmergencyShutdown is the hard-reset path: every schedule is cancelled,
// the sampler stops, and every breaker is cleared. Ticks already executing
// are not aborted; task bodies must be idempotent under this constraint.
func (o *Orchestrator) EmergencyShutdown() {
	if o == nil {
		return
	}

	if !o.deactivate(context.Background(), "orchestrator emergency shutdown") {
		return
	}

	o.mu.Lock()
	breakers := make([]*circuitbreaker.Breaker, 0, len(o.tasks))
	for _, state := range o.tasks {
		breakers = append(breakers, state.breaker)
	}
	o.mu.Unlock()

	for _, breaker := range breakers {
		breaker.Reset(context.Background())
	}
}

// deactivate cancels schedules and the sampler. Returns false when the
// orchestrator was not running.
func (o *Orchestrator) deactivate(ctx context.Context, msg string) bool {
	o.mu.Lock()

	if !o.active {
		o.mu.Unlock()

		return false
	}

	o.active = false

	cancels := make([]CancelFunc, 0, len(o.tasks))

	for _, state := range o.tasks {
		if state.cancel != nil {
			cancels = append(cancels, state.cancel)
			state.cancel = nil
		}
	}

	stopSampler := o.stopSampler
	o.stopSampler = nil

	o.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	if stopSampler != nil {
		stopSampler()
	}

	o.samplerWG.Wait()

	o.logger.Log(ctx, log.LevelInfo, msg)

	return true
}

// scheduleTask asks the collaborator to drive the task's trampoline.
func (o *Orchestrator) scheduleTask(state *taskState) {
	name := state.task.Name

	cancel, err := o.scheduler.Schedule(state.task.Rule, func() {
		o.tick(name)
	})
	if err != nil {
		o.logger.Log(context.Background(), log.LevelError, "failed to schedule task",
			log.String("task", name),
			log.String("rule", state.task.Rule),
			log.Err(err),
		)

		return
	}

	o.mu.Lock()

	// The task may have been unregistered or replaced while scheduling.
	current, ok := o.tasks[name]
	if !ok || current != state || !o.active {
		o.mu.Unlock()

		cancel()

		return
	}

	state.cancel = cancel

	o.mu.Unlock()
}

// tick is the trampoline invoked by the scheduler on every occurrence. It
// evaluates the gates in order (breaker cooldown, load ceiling,
// reentrancy) and feeds the outcome back into the breaker.
func (o *Orchestrator) tick(name string) {
	o.mu.Lock()

	state, ok := o.tasks[name]
	if !ok || !o.active {
		o.mu.Unlock()

		return
	}

	ctx := o.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}

	if !state.breaker.Ready() {
		state.skips++
		o.mu.Unlock()

		o.logger.Log(ctx, log.LevelWarn, "task skipped: circuit breaker open",
			log.String("task", name),
			log.Duration("cooldown_remaining", state.breaker.RemainingCooldown()),
		)
		o.metrics.RecordTaskSkip(ctx, name, "breaker_open")

		return
	}

	if gate := state.task.Gate; gate != nil {
		if load, ok := o.meanLoadLocked(); ok && load > gate.MaxLoad {
			state.skips++
			o.mu.Unlock()

			o.logger.Log(ctx, log.LevelInfo, "task skipped: lazy mode, load above ceiling",
				log.String("task", name),
				log.Float64("mean_load", load),
				log.Float64("max_load", gate.MaxLoad),
			)
			o.metrics.RecordTaskSkip(ctx, name, "load")

			return
		}
	}

	// Skip-if-running: a tick that outlives its own recurrence interval
	// suppresses the next occurrence instead of queueing it.
	if state.running {
		state.skips++
		o.mu.Unlock()

		o.logger.Log(ctx, log.LevelWarn, "task skipped: previous tick still running",
			log.String("task", name),
		)
		o.metrics.RecordTaskSkip(ctx, name, "still_running")

		return
	}

	state.running = true
	breaker := state.breaker
	run := state.task.Run

	o.inflight.Add(1)

	o.mu.Unlock()

	err := breaker.Execute(ctx, func(callCtx context.Context) (execErr error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				execErr = fmt.Errorf("task panicked: %v", recovered)
			}
		}()

		return run(callCtx)
	})

	o.mu.Lock()
	state.running = false

	switch {
	case err == nil:
		state.runs++
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		// Raced with another trip between the gate check and execution;
		// the task did not run.
		state.skips++
	default:
		state.failures++
	}

	o.mu.Unlock()
	o.inflight.Done()

	switch {
	case err == nil:
		o.metrics.RecordTaskRun(ctx, name, "success")
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		o.metrics.RecordTaskSkip(ctx, name, "breaker_open")
	default:
		o.logger.Log(ctx, log.LevelError, "task failed",
			log.String("task", name),
			log.Err(err),
		)
		o.metrics.RecordTaskRun(ctx, name, "failure")
	}
}

func (o *Orchestrator) onBreakerChange(name string, from, to circuitbreaker.State) {
	o.metrics.RecordBreakerTransition(context.Background(), name, string(from), string(to))
}

// sampleLoop collects CPU readings on a fixed interval, independent of any
// task's schedule.
func (o *Orchestrator) sampleLoop(ctx context.Context) {
	defer o.samplerWG.Done()

	ticker := time.NewTicker(o.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.collectSample(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) collectSample(ctx context.Context) {
	reading, err := o.sampler.Sample(ctx)
	if err != nil {
		o.logger.Log(ctx, log.LevelWarn, "load sample failed", log.Err(err))

		return
	}

	o.mu.Lock()

	o.samples = append(o.samples, reading)
	if len(o.samples) > o.cfg.SampleHistory {
		o.samples = o.samples[len(o.samples)-o.cfg.SampleHistory:]
	}

	o.mu.Unlock()

	_ = o.metrics.RecordSystemCPUUsage(ctx, int64(reading))
}

// meanLoadLocked averages the rolling history. Caller must hold o.mu.
// Reports false while no samples have been collected yet.
func (o *Orchestrator) meanLoadLocked() (float64, bool) {
	if len(o.samples) == 0 {
		return 0, false
	}

	var sum float64
	for _, sample := range o.samples {
		sum += sample
	}

	return sum / float64(len(o.samples)), true
}
