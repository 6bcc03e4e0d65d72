// Package metrics provides a fluent factory for OpenTelemetry metric
// instruments.
//
// MetricsFactory caches instruments and exposes builder-style APIs for
// counters, gauges, and histograms with low-overhead attribute
// composition. Convenience methods cover the runtime-ops domain: task
// outcomes, breaker transitions, cache telemetry, and system gauges.
package metrics
