// Package runtimeops keeps long-lived processes healthy while they run
// many periodic background jobs.
//
// The subpackages provide the four core primitives: orchestrator (recurring
// tasks behind circuit breaker, load, and reentrancy gates), circuitbreaker
// (a consecutive-failure state machine with exponential cooldown), cache
// (a bounded lazily-expiring store), and lifecycle (ownership-tracked
// listeners, timers, and cleanup callbacks).
//
// The root package carries the cross-cutting glue: context plumbing for
// loggers and metric factories, and Runtime, which composes an orchestrator
// and a lifecycle registry behind a single Shutdown entry point suitable
// for signal handlers.
package runtimeops
