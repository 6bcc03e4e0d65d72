package lifecycle

import "time"

// Handler is an event callback managed through the registry.
type Handler func(args ...any)

// Subscription is the handle returned by an Emitter for one registered
// handler. Unsubscribe must be idempotent.
type Subscription interface {
	Unsubscribe() error
}

// Emitter is the single observer-registration capability the registry
// supports. Any event source can participate by implementing it.
type Emitter interface {
	Subscribe(event string, handler Handler) Subscription
}

// TimerKind distinguishes one-shot from repeating timers for bookkeeping.
type TimerKind uint8

const (
	TimerOneShot TimerKind = iota
	TimerRepeating
)

// String returns the kind's name.
func (kind TimerKind) String() string {
	switch kind {
	case TimerOneShot:
		return "one-shot"
	case TimerRepeating:
		return "repeating"
	default:
		return "unknown"
	}
}

// TimerHandle abstracts a cancellable timer. Stop reports whether the call
// stopped a pending fire.
type TimerHandle interface {
	Stop() bool
}

type timerAdapter struct {
	timer *time.Timer
}

func (a timerAdapter) Stop() bool {
	return a.timer.Stop()
}

type tickerAdapter struct {
	ticker *time.Ticker
}

func (a tickerAdapter) Stop() bool {
	a.ticker.Stop()

	return true
}

// WrapTimer adapts a *time.Timer for registration as a one-shot handle.
//
//nolint:ireturn
func WrapTimer(timer *time.Timer) TimerHandle {
	return timerAdapter{timer: timer}
}

// WrapTicker adapts a *time.Ticker for registration as a repeating handle.
//
//nolint:ireturn
func WrapTicker(ticker *time.Ticker) TimerHandle {
	return tickerAdapter{ticker: ticker}
}
