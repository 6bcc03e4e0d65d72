package circuitbreaker

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned when a Config fails validation.
var ErrInvalidConfig = errors.New("circuitbreaker: invalid config")

// Config holds breaker tuning parameters.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips a
	// closed breaker open.
	FailureThreshold uint32

	// SuccessThreshold is the number of consecutive successes in half-open
	// state required to close the breaker.
	SuccessThreshold uint32

	// CallTimeout is the mandatory per-call deadline for guarded operations.
	CallTimeout time.Duration

	// BaseBackoff is the initial open-state recovery window. Each
	// consecutive reopen doubles it.
	BaseBackoff time.Duration

	// MaxBackoff caps the recovery window growth.
	MaxBackoff time.Duration
}

// DefaultConfig provides balanced settings for most periodic tasks.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		CallTimeout:      30 * time.Second,
		BaseBackoff:      30 * time.Second,
		MaxBackoff:       5 * time.Minute,
	}
}

// AggressiveConfig for operations requiring fast failure isolation.
func AggressiveConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		CallTimeout:      10 * time.Second,
		BaseBackoff:      15 * time.Second,
		MaxBackoff:       2 * time.Minute,
	}
}

// ConservativeConfig for operations that should tolerate more failures
// before being isolated.
func ConservativeConfig() Config {
	return Config{
		FailureThreshold: 10,
		SuccessThreshold: 3,
		CallTimeout:      60 * time.Second,
		BaseBackoff:      time.Minute,
		MaxBackoff:       10 * time.Minute,
	}
}

// Validate checks that every parameter is usable.
func (cfg Config) Validate() error {
	if cfg.FailureThreshold == 0 {
		return fmt.Errorf("%w: failure threshold must be positive", ErrInvalidConfig)
	}

	if cfg.SuccessThreshold == 0 {
		return fmt.Errorf("%w: success threshold must be positive", ErrInvalidConfig)
	}

	if cfg.CallTimeout <= 0 {
		return fmt.Errorf("%w: call timeout must be positive", ErrInvalidConfig)
	}

	if cfg.BaseBackoff <= 0 {
		return fmt.Errorf("%w: base backoff must be positive", ErrInvalidConfig)
	}

	if cfg.MaxBackoff < cfg.BaseBackoff {
		return fmt.Errorf("%w: max backoff %s below base backoff %s", ErrInvalidConfig, cfg.MaxBackoff, cfg.BaseBackoff)
	}

	return nil
}
