package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNewMetricsFactoryRequiresMeter(t *testing.T) {
	t.Parallel()

	_, err := NewMetricsFactory(nil, nil)
	require.ErrorIs(t, err, ErrNilMeter)
}

func TestNewMetricsFactory(t *testing.T) {
	t.Parallel()

	meter := noop.NewMeterProvider().Meter("test")

	factory, err := NewMetricsFactory(meter, nil)
	require.NoError(t, err)
	require.NotNil(t, factory)
}

func TestCounterBuilderRecords(t *testing.T) {
	t.Parallel()

	factory := NewNopFactory()

	counter, err := factory.Counter(MetricTaskRuns)
	require.NoError(t, err)

	require.NoError(t, counter.AddOne(context.Background()))
	require.NoError(t, counter.
		WithLabels(map[string]string{"task": "sync", "outcome": "success"}).
		Add(context.Background(), 3))
	require.NoError(t, counter.
		WithAttributes(attribute.String("task", "sync")).
		AddOne(context.Background()))
}

func TestGaugeBuilderRecords(t *testing.T) {
	t.Parallel()

	factory := NewNopFactory()

	gauge, err := factory.Gauge(MetricSystemCPUUsage)
	require.NoError(t, err)

	require.NoError(t, gauge.Set(context.Background(), 73))
	require.NoError(t, gauge.
		WithLabels(map[string]string{"host": "worker-1"}).
		Set(context.Background(), 12))
}

func TestHistogramBuilderRecords(t *testing.T) {
	t.Parallel()

	factory := NewNopFactory()

	histogram, err := factory.Histogram(Metric{
		Name:        "runtimeops.task.duration",
		Unit:        "ms",
		Description: "Task execution duration.",
		Buckets:     []float64{10, 50, 100, 500},
	})
	require.NoError(t, err)

	require.NoError(t, histogram.Record(context.Background(), 42))
}

func TestInstrumentsAreCached(t *testing.T) {
	t.Parallel()

	factory := NewNopFactory()

	first, err := factory.Counter(MetricTaskSkips)
	require.NoError(t, err)

	second, err := factory.Counter(MetricTaskSkips)
	require.NoError(t, err)

	assert.Equal(t, first.counter, second.counter)
}

func TestNilInstrumentGuards(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	assert.ErrorIs(t, (&CounterBuilder{}).AddOne(ctx), ErrNilCounter)
	assert.ErrorIs(t, (&GaugeBuilder{}).Set(ctx, 1), ErrNilGauge)
	assert.ErrorIs(t, (&HistogramBuilder{}).Record(ctx, 1), ErrNilHistogram)
}

func TestDomainRecorders(t *testing.T) {
	t.Parallel()

	factory := NewNopFactory()
	ctx := context.Background()

	factory.RecordTaskRun(ctx, "sync", "success")
	factory.RecordTaskSkip(ctx, "sync", "breaker_open")
	factory.RecordBreakerTransition(ctx, "sync", "closed", "open")

	require.NoError(t, factory.RecordSystemCPUUsage(ctx, 55))
	require.NoError(t, factory.RecordSystemMemUsage(ctx, 40))

	// Nil receivers are tolerated on the fire-and-forget paths.
	var nilFactory *MetricsFactory

	nilFactory.RecordTaskRun(ctx, "sync", "success")
	nilFactory.RecordTaskSkip(ctx, "sync", "load")
	nilFactory.RecordBreakerTransition(ctx, "sync", "open", "half-open")
}
