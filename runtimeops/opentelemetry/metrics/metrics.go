package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/LerianStudio/lib-runtimeops/runtimeops/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// ErrNilMeter indicates that a nil OTel meter was provided.
var ErrNilMeter = errors.New("metrics: meter cannot be nil")

// Metric describes an instrument to create or retrieve.
type Metric struct {
	Name        string
	Description string
	Unit        string

	// Buckets sets explicit histogram bucket boundaries.
	Buckets []float64
}

// Pre-configured domain metrics.
var (
	// MetricTaskRuns counts task executions, labeled by task and outcome.
	MetricTaskRuns = Metric{
		Name:        "runtimeops.task.runs",
		Unit:        "1",
		Description: "Number of task executions, by task and outcome.",
	}

	// MetricTaskSkips counts gated-out ticks, labeled by task and reason.
	MetricTaskSkips = Metric{
		Name:        "runtimeops.task.skips",
		Unit:        "1",
		Description: "Number of task ticks skipped by a gate, by task and reason.",
	}

	// MetricBreakerTransitions counts circuit breaker state changes.
	MetricBreakerTransitions = Metric{
		Name:        "runtimeops.breaker.transitions",
		Unit:        "1",
		Description: "Number of circuit breaker state transitions.",
	}

	// MetricSystemCPUUsage is a gauge recording host CPU usage percent.
	MetricSystemCPUUsage = Metric{
		Name:        "system.cpu.usage",
		Unit:        "percentage",
		Description: "Current CPU usage percentage of the process host.",
	}

	// MetricSystemMemUsage is a gauge recording host memory usage percent.
	MetricSystemMemUsage = Metric{
		Name:        "system.mem.usage",
		Unit:        "percentage",
		Description: "Current memory usage percentage of the process host.",
	}
)

// MetricsFactory is a thread-safe factory for OpenTelemetry instruments
// with lazy creation and caching.
type MetricsFactory struct {
	meter      metric.Meter
	counters   sync.Map // string -> metric.Int64Counter
	gauges     sync.Map // string -> metric.Int64Gauge
	histograms sync.Map // string -> metric.Int64Histogram
	logger     log.Logger
}

// NewMetricsFactory creates a factory over the given meter.
func NewMetricsFactory(meter metric.Meter, logger log.Logger) (*MetricsFactory, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}

	if logger == nil {
		logger = log.NewNop()
	}

	return &MetricsFactory{meter: meter, logger: logger}, nil
}

// NewNopFactory returns a factory backed by OpenTelemetry's no-op meter.
// Safe as a fallback when a real meter is unavailable.
func NewNopFactory() *MetricsFactory {
	return &MetricsFactory{
		meter:  noop.NewMeterProvider().Meter("nop"),
		logger: log.NewNop(),
	}
}

// Counter creates or retrieves a counter and returns its builder.
func (f *MetricsFactory) Counter(m Metric) (*CounterBuilder, error) {
	counter, err := f.getOrCreateCounter(m)
	if err != nil {
		return nil, err
	}

	return &CounterBuilder{counter: counter, name: m.Name}, nil
}

// Gauge creates or retrieves a gauge and returns its builder.
func (f *MetricsFactory) Gauge(m Metric) (*GaugeBuilder, error) {
	gauge, err := f.getOrCreateGauge(m)
	if err != nil {
		return nil, err
	}

	return &GaugeBuilder{gauge: gauge, name: m.Name}, nil
}

// Histogram creates or retrieves a histogram and returns its builder.
func (f *MetricsFactory) Histogram(m Metric) (*HistogramBuilder, error) {
	histogram, err := f.getOrCreateHistogram(m)
	if err != nil {
		return nil, err
	}

	return &HistogramBuilder{histogram: histogram, name: m.Name}, nil
}

func (f *MetricsFactory) getOrCreateCounter(m Metric) (metric.Int64Counter, error) {
	if cached, ok := f.counters.Load(m.Name); ok {
		if counter, ok := cached.(metric.Int64Counter); ok {
			return counter, nil
		}

		return nil, fmt.Errorf("counter cache contains invalid type for %q", m.Name)
	}

	counter, err := f.meter.Int64Counter(m.Name,
		metric.WithDescription(m.Description),
		metric.WithUnit(m.Unit),
	)
	if err != nil {
		f.logger.Log(context.Background(), log.LevelError, "failed to create counter",
			log.String("metric", m.Name), log.Err(err))

		return nil, fmt.Errorf("create counter %q: %w", m.Name, err)
	}

	if actual, loaded := f.counters.LoadOrStore(m.Name, counter); loaded {
		if existing, ok := actual.(metric.Int64Counter); ok {
			return existing, nil
		}

		return nil, fmt.Errorf("counter cache contains invalid type for %q", m.Name)
	}

	return counter, nil
}

func (f *MetricsFactory) getOrCreateGauge(m Metric) (metric.Int64Gauge, error) {
	if cached, ok := f.gauges.Load(m.Name); ok {
		if gauge, ok := cached.(metric.Int64Gauge); ok {
			return gauge, nil
		}

		return nil, fmt.Errorf("gauge cache contains invalid type for %q", m.Name)
	}

	gauge, err := f.meter.Int64Gauge(m.Name,
		metric.WithDescription(m.Description),
		metric.WithUnit(m.Unit),
	)
	if err != nil {
		f.logger.Log(context.Background(), log.LevelError, "failed to create gauge",
			log.String("metric", m.Name), log.Err(err))

		return nil, fmt.Errorf("create gauge %q: %w", m.Name, err)
	}

	if actual, loaded := f.gauges.LoadOrStore(m.Name, gauge); loaded {
		if existing, ok := actual.(metric.Int64Gauge); ok {
			return existing, nil
		}

		return nil, fmt.Errorf("gauge cache contains invalid type for %q", m.Name)
	}

	return gauge, nil
}

func (f *MetricsFactory) getOrCreateHistogram(m Metric) (metric.Int64Histogram, error) {
	if cached, ok := f.histograms.Load(m.Name); ok {
		if histogram, ok := cached.(metric.Int64Histogram); ok {
			return histogram, nil
		}

		return nil, fmt.Errorf("histogram cache contains invalid type for %q", m.Name)
	}

	opts := []metric.Int64HistogramOption{
		metric.WithDescription(m.Description),
		metric.WithUnit(m.Unit),
	}

	if len(m.Buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(m.Buckets...))
	}

	histogram, err := f.meter.Int64Histogram(m.Name, opts...)
	if err != nil {
		f.logger.Log(context.Background(), log.LevelError, "failed to create histogram",
			log.String("metric", m.Name), log.Err(err))

		return nil, fmt.Errorf("create histogram %q: %w", m.Name, err)
	}

	if actual, loaded := f.histograms.LoadOrStore(m.Name, histogram); loaded {
		if existing, ok := actual.(metric.Int64Histogram); ok {
			return existing, nil
		}

		return nil, fmt.Errorf("histogram cache contains invalid type for %q", m.Name)
	}

	return histogram, nil
}
