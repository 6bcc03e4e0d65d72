// Package circuitbreaker implements a guarded-call primitive that isolates
// a failing operation behind a three-state machine (closed, open, half-open)
// with an exponentially growing recovery window.
//
// Unlike ratio-based breakers, tripping is driven purely by consecutive
// failures, and the consecutive-failure counter decays on success rather
// than resetting, which dampens flapping around the threshold. Every
// guarded call runs under a mandatory per-call deadline; a deadline breach
// counts as a failure but is reported distinctly from a propagated error.
package circuitbreaker
