package metrics

import "context"

// RecordTaskRun counts one task execution. Outcome is "success" or
// "failure". Recording errors are swallowed: telemetry never disturbs the
// task path.
func (f *MetricsFactory) RecordTaskRun(ctx context.Context, task, outcome string) {
	if f == nil {
		return
	}

	counter, err := f.Counter(MetricTaskRuns)
	if err != nil {
		return
	}

	_ = counter.
		WithLabels(map[string]string{"task": task, "outcome": outcome}).
		AddOne(ctx)
}

// RecordTaskSkip counts one gated-out tick. Reason is "breaker_open",
// "load", or "still_running".
func (f *MetricsFactory) RecordTaskSkip(ctx context.Context, task, reason string) {
	if f == nil {
		return
	}

	counter, err := f.Counter(MetricTaskSkips)
	if err != nil {
		return
	}

	_ = counter.
		WithLabels(map[string]string{"task": task, "reason": reason}).
		AddOne(ctx)
}

// RecordBreakerTransition counts one circuit breaker state change.
func (f *MetricsFactory) RecordBreakerTransition(ctx context.Context, breaker, from, to string) {
	if f == nil {
		return
	}

	counter, err := f.Counter(MetricBreakerTransitions)
	if err != nil {
		return
	}

	_ = counter.
		WithLabels(map[string]string{"breaker": breaker, "from": from, "to": to}).
		AddOne(ctx)
}

// RecordSystemCPUUsage records the current host CPU usage percentage.
func (f *MetricsFactory) RecordSystemCPUUsage(ctx context.Context, percentage int64) error {
	gauge, err := f.Gauge(MetricSystemCPUUsage)
	if err != nil {
		return err
	}

	return gauge.Set(ctx, percentage)
}

// RecordSystemMemUsage records the current host memory usage percentage.
func (f *MetricsFactory) RecordSystemMemUsage(ctx context.Context, percentage int64) error {
	gauge, err := f.Gauge(MetricSystemMemUsage)
	if err != nil {
		return err
	}

	return gauge.Set(ctx, percentage)
}
