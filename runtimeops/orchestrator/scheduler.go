package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/LerianStudio/lib-runtimeops/runtimeops/cron"
	"github.com/LerianStudio/lib-runtimeops/runtimeops/log"
)

// CancelFunc cancels a scheduled recurrence. Safe to call more than once.
type CancelFunc func()

// Scheduler is the scheduling collaborator: it invokes fn on every
// occurrence of rule until the returned CancelFunc is called. The
// orchestrator treats it as opaque; any implementation honoring this
// contract is interchangeable.
type Scheduler interface {
	Schedule(rule string, fn func()) (CancelFunc, error)
}

// CronScheduler is the default Scheduler, evaluating rules with
// runtimeops/cron in a goroutine per schedule.
type CronScheduler struct {
	logger log.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// CronOption configures a CronScheduler.
type CronOption func(s *CronScheduler)

// WithCronLogger attaches a logger for schedule diagnostics.
func WithCronLogger(logger log.Logger) CronOption {
	return func(s *CronScheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewCronScheduler creates a CronScheduler.
func NewCronScheduler(opts ...CronOption) *CronScheduler {
	s := &CronScheduler{
		logger: log.NewNop(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Schedule parses rule and starts invoking fn on each occurrence. The rule
// is validated eagerly; a malformed rule fails here, never later.
func (s *CronScheduler) Schedule(rule string, fn func()) (CancelFunc, error) {
	sched, err := cron.Parse(rule)
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})

	var once sync.Once

	s.wg.Add(1)

	go s.run(sched, rule, fn, stop)

	return func() {
		once.Do(func() {
			close(stop)
		})
	}, nil
}

// Wait blocks until every cancelled schedule's goroutine has exited.
func (s *CronScheduler) Wait() {
	s.wg.Wait()
}

func (s *CronScheduler) run(sched cron.Schedule, rule string, fn func(), stop <-chan struct{}) {
	defer s.wg.Done()

	for {
		next, err := sched.Next(s.now())
		if err != nil {
			s.logger.Log(context.Background(), log.LevelError, "schedule produced no next occurrence, stopping",
				log.String("rule", rule),
				log.Err(err),
			)

			return
		}

		timer := time.NewTimer(next.Sub(s.now()))

		select {
		case <-timer.C:
			fn()
		case <-stop:
			timer.Stop()

			return
		}
	}
}
