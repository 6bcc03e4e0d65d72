package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LerianStudio/lib-runtimeops/runtimeops/circuitbreaker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// fakeScheduler hands the trigger back to the test instead of running a
// timer, so ticks fire exactly when the test says so.
type fakeScheduler struct {
	mu      sync.Mutex
	entries []*schedEntry
}

type schedEntry struct {
	rule      string
	fn        func()
	cancelled bool
}

func (s *fakeScheduler) Schedule(rule string, fn func()) (CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &schedEntry{rule: rule, fn: fn}
	s.entries = append(s.entries, entry)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		entry.cancelled = true
	}, nil
}

// trigger fires the most recent live schedule.
func (s *fakeScheduler) trigger() {
	s.mu.Lock()

	var fn func()

	for i := len(s.entries) - 1; i >= 0; i-- {
		if !s.entries[i].cancelled {
			fn = s.entries[i].fn
			break
		}
	}

	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (s *fakeScheduler) liveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := 0

	for _, entry := range s.entries {
		if !entry.cancelled {
			live++
		}
	}

	return live
}

func newTestOrchestrator(t *testing.T, clock *fakeClock) (*Orchestrator, *fakeScheduler) {
	t.Helper()

	sched := &fakeScheduler{}
	sampler := SamplerFunc(func(context.Context) (float64, error) {
		return 0, nil
	})

	o := New(sched, sampler,
		WithClock(clock.Now),
		WithConfig(Config{SampleInterval: time.Minute, SampleHistory: 10}),
	)

	return o, sched
}

func startOrchestrator(t *testing.T, o *Orchestrator) {
	t.Helper()

	require.NoError(t, o.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = o.Stop(ctx)
	})
}

func TestRegisterTaskValidation(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, newFakeClock())

	_, err := o.RegisterTask(Task{Rule: "@every 30s", Run: func(context.Context) error { return nil }})
	require.ErrorIs(t, err, ErrEmptyTaskName)

	_, err = o.RegisterTask(Task{Name: "noop", Rule: "@every 30s"})
	require.ErrorIs(t, err, ErrNilTaskFunc)

	var nilOrch *Orchestrator

	_, err = nilOrch.RegisterTask(Task{Name: "noop"})
	require.ErrorIs(t, err, ErrNilOrchestrator)
}

func TestTickRunsTaskAndCountsOutcome(t *testing.T) {
	t.Parallel()

	o, sched := newTestOrchestrator(t, newFakeClock())

	var runs int

	_, err := o.RegisterTask(Task{
		Name:  "heartbeat",
		Label: "connection heartbeat",
		Rule:  "@every 30s",
		Run: func(context.Context) error {
			runs++
			return nil
		},
	})
	require.NoError(t, err)

	startOrchestrator(t, o)

	sched.trigger()
	sched.trigger()

	assert.Equal(t, 2, runs)

	status := o.Status()
	assert.True(t, status.Active)
	assert.Equal(t, 1, status.Tasks)
	assert.Equal(t, 1, status.Scheduled)

	task := status.PerTask["heartbeat"]
	assert.Equal(t, "connection heartbeat", task.Label)
	assert.Equal(t, uint64(2), task.Runs)
	assert.Equal(t, uint64(0), task.Failures)
	assert.Equal(t, circuitbreaker.StateClosed, task.Breaker)
}

func TestTickBeforeStartDoesNothing(t *testing.T) {
	t.Parallel()

	o, sched := newTestOrchestrator(t, newFakeClock())

	var runs int

	_, err := o.RegisterTask(Task{
		Name: "early",
		Rule: "@every 30s",
		Run: func(context.Context) error {
			runs++
			return nil
		},
	})
	require.NoError(t, err)

	// Nothing is scheduled until Start.
	sched.trigger()
	assert.Zero(t, runs)
	assert.Zero(t, sched.liveCount())
}

func TestBreakerOpenSkipsWithoutInvokingBody(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	o, sched := newTestOrchestrator(t, clock)

	var calls int

	_, err := o.RegisterTask(Task{
		Name: "flaky",
		Rule: "@every 30s",
		Breaker: &circuitbreaker.Config{
			FailureThreshold: 2,
			SuccessThreshold: 1,
			CallTimeout:      time.Second,
			BaseBackoff:      30 * time.Second,
			MaxBackoff:       5 * time.Minute,
		},
		Run: func(context.Context) error {
			calls++
			return errors.New("backend down")
		},
	})
	require.NoError(t, err)

	startOrchestrator(t, o)

	sched.trigger()
	sched.trigger()

	require.Equal(t, 2, calls)
	require.Equal(t, circuitbreaker.StateOpen, o.Status().PerTask["flaky"].Breaker)

	// The open breaker gates the tick out before the body is reached.
	sched.trigger()
	assert.Equal(t, 2, calls)

	status := o.Status().PerTask["flaky"]
	assert.Equal(t, uint64(2), status.Failures)
	assert.Equal(t, uint64(1), status.Skips)
}

func TestBreakerRecoveryScenario(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	o, sched := newTestOrchestrator(t, clock)

	fail := true

	var calls int

	_, err := o.RegisterTask(Task{
		Name: "sync",
		Rule: "@every 10s",
		Breaker: &circuitbreaker.Config{
			FailureThreshold: 3,
			SuccessThreshold: 2,
			CallTimeout:      time.Second,
			BaseBackoff:      30 * time.Second,
			MaxBackoff:       5 * time.Minute,
		},
		Run: func(context.Context) error {
			calls++
			if fail {
				return errors.New("dependency unavailable")
			}

			return nil
		},
	})
	require.NoError(t, err)

	startOrchestrator(t, o)

	for i := 0; i < 3; i++ {
		sched.trigger()
	}

	require.Equal(t, 3, calls)
	require.Equal(t, circuitbreaker.StateOpen, o.Status().PerTask["sync"].Breaker)

	// Cooldown has not elapsed: occurrences are suppressed.
	sched.trigger()
	require.Equal(t, 3, calls)

	// Dependency comes back and the cooldown passes; the next occurrence is
	// a probe.
	fail = false

	clock.Advance(31 * time.Second)
	sched.trigger()
	require.Equal(t, 4, calls)
	require.Equal(t, circuitbreaker.StateHalfOpen, o.Status().PerTask["sync"].Breaker)

	// Second consecutive success closes the circuit.
	sched.trigger()
	require.Equal(t, 5, calls)
	assert.Equal(t, circuitbreaker.StateClosed, o.Status().PerTask["sync"].Breaker)
}

func TestLoadGateSkipsAboveCeiling(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	sched := &fakeScheduler{}

	load := 80.0
	sampler := SamplerFunc(func(context.Context) (float64, error) {
		return load, nil
	})

	o := New(sched, sampler,
		WithClock(clock.Now),
		WithConfig(Config{SampleInterval: time.Minute, SampleHistory: 10}),
	)

	var runs int

	_, err := o.RegisterTask(Task{
		Name: "compaction",
		Rule: "@every 30s",
		Gate: &LoadGate{MaxLoad: 50},
		Run: func(context.Context) error {
			runs++
			return nil
		},
	})
	require.NoError(t, err)

	startOrchestrator(t, o)

	o.collectSample(context.Background())

	sched.trigger()
	assert.Zero(t, runs)
	assert.Equal(t, uint64(1), o.Status().PerTask["compaction"].Skips)

	// Enough calm samples pull the rolling mean under the ceiling.
	load = 10.0
	for i := 0; i < 9; i++ {
		o.collectSample(context.Background())
	}

	sched.trigger()
	assert.Equal(t, 1, runs)
}

func TestLoadGateIgnoredWithoutSamples(t *testing.T) {
	t.Parallel()

	o, sched := newTestOrchestrator(t, newFakeClock())

	var runs int

	_, err := o.RegisterTask(Task{
		Name: "report",
		Rule: "@every 30s",
		Gate: &LoadGate{MaxLoad: 1},
		Run: func(context.Context) error {
			runs++
			return nil
		},
	})
	require.NoError(t, err)

	startOrchestrator(t, o)

	// No history yet: the gate cannot judge, so the task runs.
	sched.trigger()
	assert.Equal(t, 1, runs)
}

func TestSkipWhilePreviousTickRunning(t *testing.T) {
	t.Parallel()

	o, sched := newTestOrchestrator(t, newFakeClock())

	release := make(chan struct{})

	_, err := o.RegisterTask(Task{
		Name: "slow",
		Rule: "@every 30s",
		Breaker: &circuitbreaker.Config{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			CallTimeout:      time.Minute,
			BaseBackoff:      30 * time.Second,
			MaxBackoff:       5 * time.Minute,
		},
		Run: func(context.Context) error {
			<-release
			return nil
		},
	})
	require.NoError(t, err)

	startOrchestrator(t, o)

	go sched.trigger()

	require.Eventually(t, func() bool {
		return o.Status().PerTask["slow"].Running
	}, 2*time.Second, 5*time.Millisecond)

	// The overlapping occurrence is suppressed, not queued.
	sched.trigger()
	assert.Equal(t, uint64(1), o.Status().PerTask["slow"].Skips)

	close(release)

	require.Eventually(t, func() bool {
		return o.Status().PerTask["slow"].Runs == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.False(t, o.Status().PerTask["slow"].Running)
}

func TestReRegisterKeepsBreakerStreak(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	o, sched := newTestOrchestrator(t, clock)

	cfg := &circuitbreaker.Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		CallTimeout:      time.Second,
		BaseBackoff:      30 * time.Second,
		MaxBackoff:       5 * time.Minute,
	}

	boom := func(context.Context) error { return errors.New("boom") }

	token1, err := o.RegisterTask(Task{Name: "ingest", Rule: "@every 30s", Breaker: cfg, Run: boom})
	require.NoError(t, err)

	startOrchestrator(t, o)

	sched.trigger()
	sched.trigger()
	require.Equal(t, circuitbreaker.StateClosed, o.Status().PerTask["ingest"].Breaker)

	// Redefining the task must not clear the accumulated failure streak.
	token2, err := o.RegisterTask(Task{Name: "ingest", Rule: "@every 30s", Breaker: cfg, Run: boom})
	require.NoError(t, err)
	require.NotEqual(t, token1, token2)

	sched.trigger()
	assert.Equal(t, circuitbreaker.StateOpen, o.Status().PerTask["ingest"].Breaker)
}

func TestUnregisterTask(t *testing.T) {
	t.Parallel()

	o, sched := newTestOrchestrator(t, newFakeClock())

	noop := func(context.Context) error { return nil }

	token1, err := o.RegisterTask(Task{Name: "job", Rule: "@every 30s", Run: noop})
	require.NoError(t, err)

	startOrchestrator(t, o)

	token2, err := o.RegisterTask(Task{Name: "job", Rule: "@every 30s", Run: noop})
	require.NoError(t, err)

	// The superseded token no longer owns the registration.
	require.ErrorIs(t, o.UnregisterTask(token1), ErrStaleToken)

	require.NoError(t, o.UnregisterTask(token2))
	assert.Zero(t, o.Status().Tasks)
	assert.Zero(t, sched.liveCount())

	// Unregistering an absent task is a no-op.
	require.NoError(t, o.UnregisterTask(token2))
}

func TestStartTwice(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, newFakeClock())

	startOrchestrator(t, o)

	require.ErrorIs(t, o.Start(context.Background()), ErrAlreadyStarted)
}

func TestStopWaitsForInflightTicks(t *testing.T) {
	t.Parallel()

	o, sched := newTestOrchestrator(t, newFakeClock())

	release := make(chan struct{})

	_, err := o.RegisterTask(Task{
		Name: "drain",
		Rule: "@every 30s",
		Breaker: &circuitbreaker.Config{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			CallTimeout:      time.Minute,
			BaseBackoff:      30 * time.Second,
			MaxBackoff:       5 * time.Minute,
		},
		Run: func(context.Context) error {
			<-release
			return nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, o.Start(context.Background()))

	go sched.trigger()

	require.Eventually(t, func() bool {
		return o.Status().PerTask["drain"].Running
	}, 2*time.Second, 5*time.Millisecond)

	// While the tick is still executing, a bounded Stop times out.
	shortCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, o.Stop(shortCtx), context.DeadlineExceeded)

	close(release)

	ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()

	require.NoError(t, o.Stop(ctx))
	assert.False(t, o.Status().Active)
}

func TestEmergencyShutdownResetsBreakers(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	o, sched := newTestOrchestrator(t, clock)

	_, err := o.RegisterTask(Task{
		Name: "flappy",
		Rule: "@every 30s",
		Breaker: &circuitbreaker.Config{
			FailureThreshold: 1,
			SuccessThreshold: 1,
			CallTimeout:      time.Second,
			BaseBackoff:      30 * time.Second,
			MaxBackoff:       5 * time.Minute,
		},
		Run: func(context.Context) error { return errors.New("nope") },
	})
	require.NoError(t, err)

	require.NoError(t, o.Start(context.Background()))

	sched.trigger()
	require.Equal(t, circuitbreaker.StateOpen, o.Status().PerTask["flappy"].Breaker)

	o.EmergencyShutdown()

	status := o.Status()
	assert.False(t, status.Active)
	assert.Equal(t, circuitbreaker.StateClosed, status.PerTask["flappy"].Breaker)

	// Idempotent.
	o.EmergencyShutdown()
}

func TestTaskPanicIsContainedAsFailure(t *testing.T) {
	t.Parallel()

	o, sched := newTestOrchestrator(t, newFakeClock())

	_, err := o.RegisterTask(Task{
		Name: "panicky",
		Rule: "@every 30s",
		Run: func(context.Context) error {
			panic("unexpected state")
		},
	})
	require.NoError(t, err)

	startOrchestrator(t, o)

	require.NotPanics(t, func() {
		sched.trigger()
	})

	status := o.Status().PerTask["panicky"]
	assert.Equal(t, uint64(1), status.Failures)
	assert.Zero(t, status.Runs)
}

func TestRegisterWhileActiveSchedulesImmediately(t *testing.T) {
	t.Parallel()

	o, sched := newTestOrchestrator(t, newFakeClock())

	startOrchestrator(t, o)

	var runs int

	_, err := o.RegisterTask(Task{
		Name: "late",
		Rule: "@every 30s",
		Run: func(context.Context) error {
			runs++
			return nil
		},
	})
	require.NoError(t, err)

	require.Equal(t, 1, sched.liveCount())

	sched.trigger()
	assert.Equal(t, 1, runs)
}

func TestPriorityString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "critical", PriorityCritical.String())
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "medium", PriorityMedium.String())
	assert.Equal(t, "low", PriorityLow.String())
	assert.Equal(t, "unknown", Priority(42).String())
}
