package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
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

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		CallTimeout:      time.Second,
		BaseBackoff:      30 * time.Second,
		MaxBackoff:       300 * time.Second,
	}
}

var errBoom = errors.New("boom")

func failingOp(_ context.Context) error { return errBoom }

func succeedingOp(_ context.Context) error { return nil }

func newTestBreaker(t *testing.T, clock *fakeClock, opts ...Option) *Breaker {
	t.Helper()

	opts = append(opts, WithClock(clock.Now))

	b, err := New("test", testConfig(), opts...)
	require.NoError(t, err)

	return b
}

func failTimes(t *testing.T, b *Breaker, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		err := b.Execute(context.Background(), failingOp)
		require.Error(t, err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{name: "zero failure threshold", mutate: func(cfg *Config) { cfg.FailureThreshold = 0 }},
		{name: "zero success threshold", mutate: func(cfg *Config) { cfg.SuccessThreshold = 0 }},
		{name: "zero call timeout", mutate: func(cfg *Config) { cfg.CallTimeout = 0 }},
		{name: "zero base backoff", mutate: func(cfg *Config) { cfg.BaseBackoff = 0 }},
		{name: "max below base", mutate: func(cfg *Config) { cfg.MaxBackoff = time.Second }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig()
			tc.mutate(&cfg)

			_, err := New("bad", cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestExecute_InitialStateClosed(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(t, newFakeClock())

	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Ready())
	require.NoError(t, b.Execute(context.Background(), succeedingOp))
}

func TestExecute_TripsExactlyAtThreshold(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(t, newFakeClock())

	failTimes(t, b, 2)
	assert.Equal(t, StateClosed, b.State(), "below threshold must stay closed")

	failTimes(t, b, 1)
	assert.Equal(t, StateOpen, b.State(), "third consecutive failure must trip the breaker")
}

func TestExecute_OpenFastFails(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := newTestBreaker(t, clock)
	failTimes(t, b, 3)

	invoked := false
	err := b.Execute(context.Background(), func(_ context.Context) error {
		invoked = true

		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked, "open breaker must not invoke the operation")
	assert.False(t, b.Ready())
	assert.Positive(t, b.RemainingCooldown())
}

func TestExecute_HalfOpenAfterWindow(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := newTestBreaker(t, clock)
	failTimes(t, b, 3)

	clock.Advance(31 * time.Second)
	assert.True(t, b.Ready())

	calls := 0
	err := b.Execute(context.Background(), func(_ context.Context) error {
		calls++

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls, "first call after the window is exactly one probe")
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestExecute_RecoveryScenario(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := newTestBreaker(t, clock)

	failTimes(t, b, 3)
	assert.Equal(t, StateOpen, b.State())

	clock.Advance(31 * time.Second)

	require.NoError(t, b.Execute(context.Background(), succeedingOp))
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(context.Background(), succeedingOp))
	assert.Equal(t, StateClosed, b.State(), "success threshold reached must close the breaker")
}

func TestExecute_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := newTestBreaker(t, clock)
	failTimes(t, b, 3)

	clock.Advance(31 * time.Second)

	err := b.Execute(context.Background(), failingOp)
	require.Error(t, err)
	assert.Equal(t, StateOpen, b.State(), "single half-open failure must reopen")
}

func TestExecute_BackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := newTestBreaker(t, clock)

	// First trip: window 30s.
	failTimes(t, b, 3)
	assert.Equal(t, 30*time.Second, b.RemainingCooldown())

	// Second reopen: 60s.
	clock.Advance(31 * time.Second)
	failTimes(t, b, 1)
	assert.Equal(t, 60*time.Second, b.RemainingCooldown())

	// Third reopen: 120s.
	clock.Advance(61 * time.Second)
	failTimes(t, b, 1)
	assert.Equal(t, 120*time.Second, b.RemainingCooldown())

	// Fourth reopen: 240s.
	clock.Advance(121 * time.Second)
	failTimes(t, b, 1)
	assert.Equal(t, 240*time.Second, b.RemainingCooldown())

	// Fifth reopen: capped at 300s.
	clock.Advance(241 * time.Second)
	failTimes(t, b, 1)
	assert.Equal(t, 300*time.Second, b.RemainingCooldown())
}

func TestExecute_BackoffResetsAfterClose(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := newTestBreaker(t, clock)

	failTimes(t, b, 3)
	clock.Advance(31 * time.Second)
	failTimes(t, b, 1)
	assert.Equal(t, 60*time.Second, b.RemainingCooldown())

	// Recover fully.
	clock.Advance(61 * time.Second)
	require.NoError(t, b.Execute(context.Background(), succeedingOp))
	require.NoError(t, b.Execute(context.Background(), succeedingOp))
	assert.Equal(t, StateClosed, b.State())

	// Next trip starts again from the base window.
	failTimes(t, b, 3)
	assert.Equal(t, 30*time.Second, b.RemainingCooldown())
}

func TestExecute_FailureCounterDecaysOnSuccess(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(t, newFakeClock())

	failTimes(t, b, 2)
	require.NoError(t, b.Execute(context.Background(), succeedingOp))

	counts := b.Counts()
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures, "success decays the failure streak by one")

	// Two failures on top of the decayed streak reach the threshold.
	failTimes(t, b, 2)
	assert.Equal(t, StateOpen, b.State())
}

func TestExecute_TimeoutCountsAsFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.CallTimeout = 20 * time.Millisecond

	b, err := New("slow", cfg)
	require.NoError(t, err)

	execErr := b.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	require.Error(t, execErr)
	assert.ErrorIs(t, execErr, ErrCallTimeout)
	assert.NotErrorIs(t, execErr, ErrOperationFailed)
	assert.Equal(t, uint32(1), b.Counts().ConsecutiveFailures)
}

func TestExecute_OperationErrorWrapped(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(t, newFakeClock())

	err := b.Execute(context.Background(), failingOp)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.ErrorIs(t, err, errBoom)
}

func TestExecute_NilOperation(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(t, newFakeClock())

	assert.ErrorIs(t, b.Execute(context.Background(), nil), ErrNilOperation)
}

func TestReset_RestoresClosedState(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := newTestBreaker(t, clock)
	failTimes(t, b, 3)
	require.Equal(t, StateOpen, b.State())

	b.Reset(context.Background())

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, Counts{}, b.Counts())
	assert.True(t, b.Ready())
}

func TestStateChangeListener_Notified(t *testing.T) {
	t.Parallel()

	type transition struct {
		from State
		to   State
	}

	var (
		mu          sync.Mutex
		transitions []transition
	)

	clock := newFakeClock()
	b := newTestBreaker(t, clock, WithStateChangeListener(StateChangeFunc(func(_ string, from, to State) {
		mu.Lock()
		defer mu.Unlock()

		transitions = append(transitions, transition{from: from, to: to})
	})))

	failTimes(t, b, 3)
	clock.Advance(31 * time.Second)
	require.NoError(t, b.Execute(context.Background(), succeedingOp))
	require.NoError(t, b.Execute(context.Background(), succeedingOp))

	mu.Lock()
	defer mu.Unlock()

	expected := []transition{
		{from: StateClosed, to: StateOpen},
		{from: StateOpen, to: StateHalfOpen},
		{from: StateHalfOpen, to: StateClosed},
	}
	assert.Equal(t, expected, transitions)
}

func TestNilBreaker_Guards(t *testing.T) {
	t.Parallel()

	var b *Breaker

	assert.ErrorIs(t, b.Execute(context.Background(), succeedingOp), ErrNilBreaker)
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Ready())
	assert.Equal(t, Counts{}, b.Counts())
	assert.NotPanics(t, func() { b.Reset(context.Background()) })
}
