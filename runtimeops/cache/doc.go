// Package cache provides a bounded in-memory key/value store with passive
// expiration.
//
// No timers are ever started: an entry's TTL is checked only when the entry
// is read, and a full sweep of expired entries runs every N operations
// (amortized, configurable). When a size ceiling is configured, inserting
// past it evicts the least-recently-accessed entry. Expiration and eviction
// fire distinct callbacks so callers can tell "aged out" from "pushed out".
package cache
