// Package zap provides the go.uber.org/zap implementation of the
// runtimeops log.Logger interface.
//
// When the context carries an active OpenTelemetry span, trace_id and
// span_id fields are appended automatically so log lines correlate with
// distributed traces.
package zap
