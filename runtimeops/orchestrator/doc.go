// Package orchestrator schedules and gates the recurring background tasks
// of a long-lived process.
//
// Each registered task owns one circuit breaker for its lifetime; every
// scheduled tick passes through a gate that skips execution when the
// breaker is open and cooling down, when the rolling CPU average exceeds
// the task's load ceiling ("lazy mode"), or when the previous tick is
// still running. Task failures are contained per task: they feed the
// breaker and the log, never the caller.
//
// Scheduling is delegated to a pluggable collaborator; the default one
// evaluates rules with runtimeops/cron. CPU readings come from a pluggable
// sampler; the default one reads gopsutil.
package orchestrator
