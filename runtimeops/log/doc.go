// Package log defines the structured logging contract shared by every
// runtimeops package.
//
// The interface is intentionally small: a single leveled Log method that
// carries context, plus With/WithGroup for field scoping. Implementations
// live elsewhere (see runtimeops/zap); NewNop returns a silent logger for
// tests and optional dependencies.
package log
