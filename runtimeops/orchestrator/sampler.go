package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// ErrNoSample is returned when a sampler produced no reading.
var ErrNoSample = errors.New("orchestrator: no cpu sample available")

// Sampler produces a scalar CPU/load reading in percent. The orchestrator
// maintains its own bounded rolling history from these readings.
type Sampler interface {
	Sample(ctx context.Context) (float64, error)
}

// SamplerFunc adapts a plain function to Sampler.
type SamplerFunc func(ctx context.Context) (float64, error)

// Sample calls the wrapped function.
func (fn SamplerFunc) Sample(ctx context.Context) (float64, error) {
	return fn(ctx)
}

// defaultMeasureWindow is how long the CPU sampler observes per reading.
const defaultMeasureWindow = 100 * time.Millisecond

// CPUSampler reads host CPU utilization through gopsutil.
type CPUSampler struct {
	window time.Duration
}

// NewCPUSampler creates a sampler that observes CPU usage over the given
// window per reading. A non-positive window uses the default.
func NewCPUSampler(window time.Duration) *CPUSampler {
	if window <= 0 {
		window = defaultMeasureWindow
	}

	return &CPUSampler{window: window}
}

// Sample returns the aggregate CPU utilization percentage.
func (s *CPUSampler) Sample(_ context.Context) (float64, error) {
	out, err := cpu.Percent(s.window, false)
	if err != nil {
		return 0, err
	}

	if len(out) == 0 {
		return 0, ErrNoSample
	}

	return out[0], nil
}

// MemoryUsedPercent reads the host's used-memory percentage. Surfaced in
// status output alongside the CPU history.
func MemoryUsedPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}

	return vm.UsedPercent, nil
}
