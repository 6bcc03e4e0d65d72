// Package lifecycle tracks the observer subscriptions, timers, and cleanup
// callbacks owned by logical components of a long-lived process, so they
// can be reclaimed deterministically instead of leaking.
//
// Components register under an opaque string id and receive a Token that
// must be presented for every subsequent mutation, preventing stringly-typed
// misuse. Per-component caps bound listener and timer growth; a background
// sweep drops listener registrations that have not fired within a staleness
// window. Unregistering a component always runs every cleanup step, even
// when individual steps fail.
package lifecycle
