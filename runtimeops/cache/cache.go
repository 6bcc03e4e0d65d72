package cache

import (
	"context"
	"sync"
	"time"

	"github.com/LerianStudio/lib-runtimeops/runtimeops/log"
)

// DefaultSweepEvery is the default number of operations between amortized
// sweeps of expired entries.
const DefaultSweepEvery = 1000

// Config holds cache tuning parameters.
type Config struct {
	// MaxSize bounds the number of entries; zero or negative means
	// unbounded. Inserting a new key at the ceiling evicts the
	// least-recently-accessed entry first.
	MaxSize int

	// DefaultTTL applies to entries stored with Set. Zero or negative means
	// entries do not expire unless SetWithTTL is used.
	DefaultTTL time.Duration

	// SweepEvery is the operation count that triggers a full expired-entry
	// sweep. Defaults to DefaultSweepEvery when zero or negative.
	SweepEvery int
}

// RemovalFunc observes an entry leaving the cache through expiry or
// eviction.
type RemovalFunc[K comparable, V any] func(key K, value V)

type entry[V any] struct {
	value       V
	expiresAt   time.Time // zero means no expiry
	createdAt   time.Time
	accessedAt  time.Time
	inserted    uint64 // insertion sequence, LRU tie-break
	accessCount uint64
}

func (e *entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Cache is a generic bounded store with lazy expiration. All methods are
// safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	cfg      Config
	entries  map[K]*entry[V]
	seq      uint64
	ops      int
	stats    statCounters
	onExpire RemovalFunc[K, V]
	onEvict  RemovalFunc[K, V]
	logger   log.Logger
	now      func() time.Time
}

type statCounters struct {
	hits    uint64
	misses  uint64
	expired uint64
	evicted uint64
	sweeps  uint64
}

// Option configures a Cache.
type Option[K comparable, V any] func(c *Cache[K, V])

// WithOnExpire registers a callback fired when an entry is removed because
// its TTL elapsed. Callbacks run outside the cache lock.
func WithOnExpire[K comparable, V any](fn RemovalFunc[K, V]) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.onExpire = fn
	}
}

// WithOnEvict registers a callback fired when an entry is removed to make
// room under the size ceiling. Callbacks run outside the cache lock.
func WithOnEvict[K comparable, V any](fn RemovalFunc[K, V]) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.onEvict = fn
	}
}

// WithLogger attaches a logger for sweep diagnostics.
func WithLogger[K comparable, V any](logger log.Logger) Option[K, V] {
	return func(c *Cache[K, V]) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *Cache[K, V]) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates an empty cache.
func New[K comparable, V any](cfg Config, opts ...Option[K, V]) *Cache[K, V] {
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = DefaultSweepEvery
	}

	c := &Cache[K, V]{
		cfg:     cfg,
		entries: make(map[K]*entry[V]),
		logger:  log.NewNop(),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// removed captures a callback to fire after the lock is released.
type removed[K comparable, V any] struct {
	key     K
	value   V
	evicted bool
}

func (c *Cache[K, V]) fire(pending []removed[K, V]) {
	for _, r := range pending {
		if r.evicted {
			if c.onEvict != nil {
				c.onEvict(r.key, r.value)
			}
		} else if c.onExpire != nil {
			c.onExpire(r.key, r.value)
		}
	}
}

// Set stores a value under the cache's default TTL. With no default
// configured the entry does not expire.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()

	var expiresAt time.Time
	if c.cfg.DefaultTTL > 0 {
		expiresAt = c.now().Add(c.cfg.DefaultTTL)
	}

	c.setLocked(key, value, expiresAt)
}

// SetWithTTL stores a value with an explicit TTL. A zero or negative TTL
// marks the entry already expired: it becomes unreadable on the next
// access. Updating an existing key replaces it in place and never triggers
// eviction.
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()

	now := c.now()

	expiresAt := now
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	c.setLocked(key, value, expiresAt)
}

// setLocked stores under an absolute expiry. Caller must hold c.mu, which
// is released before callbacks fire.
func (c *Cache[K, V]) setLocked(key K, value V, expiresAt time.Time) {
	pending := c.tickLocked()
	now := c.now()

	if existing, ok := c.entries[key]; ok {
		existing.value = value
		existing.expiresAt = expiresAt
		existing.accessedAt = now
		c.mu.Unlock()

		c.fire(pending)

		return
	}

	if c.cfg.MaxSize > 0 && len(c.entries) >= c.cfg.MaxSize {
		if r, ok := c.evictLRULocked(); ok {
			pending = append(pending, r)
		}
	}

	c.seq++
	c.entries[key] = &entry[V]{
		value:      value,
		expiresAt:  expiresAt,
		createdAt:  now,
		accessedAt: now,
		inserted:   c.seq,
	}

	c.mu.Unlock()

	c.fire(pending)
}

// Get returns the value stored under key. An entry past its expiry is
// deleted on access and reported as absent.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V

	c.mu.Lock()

	pending := c.tickLocked()

	e, ok := c.entries[key]
	if !ok {
		c.stats.misses++
		c.mu.Unlock()

		c.fire(pending)

		return zero, false
	}

	now := c.now()
	if e.expired(now) {
		delete(c.entries, key)
		c.stats.expired++
		c.stats.misses++
		pending = append(pending, removed[K, V]{key: key, value: e.value})
		c.mu.Unlock()

		c.fire(pending)

		return zero, false
	}

	e.accessedAt = now
	e.accessCount++
	c.stats.hits++
	value := e.value

	c.mu.Unlock()

	c.fire(pending)

	return value, true
}

// Has reports whether key holds a live entry. Unlike Get it does not touch
// the entry's access time and counts neither a hit nor a miss, but an
// expired entry found here is still deleted.
func (c *Cache[K, V]) Has(key K) bool {
	c.mu.Lock()

	pending := c.tickLocked()

	e, ok := c.entries[key]
	if ok && e.expired(c.now()) {
		delete(c.entries, key)
		c.stats.expired++
		pending = append(pending, removed[K, V]{key: key, value: e.value})
		ok = false
	}

	c.mu.Unlock()

	c.fire(pending)

	return ok
}

// Delete removes key, reporting whether an entry was present. No callback
// fires for explicit removal.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}

	delete(c.entries, key)

	return true
}

// Clear removes every entry without firing callbacks.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*entry[V])
}

// Len returns the number of stored entries, including any not yet swept
// expired ones.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Sweep removes every expired entry immediately, independent of the
// amortized operation counter.
func (c *Cache[K, V]) Sweep() {
	c.mu.Lock()
	pending := c.sweepLocked()
	c.mu.Unlock()

	c.fire(pending)
}

// tickLocked counts one operation and sweeps once the threshold is reached.
func (c *Cache[K, V]) tickLocked() []removed[K, V] {
	c.ops++
	if c.ops < c.cfg.SweepEvery {
		return nil
	}

	c.ops = 0

	return c.sweepLocked()
}

func (c *Cache[K, V]) sweepLocked() []removed[K, V] {
	now := c.now()

	var pending []removed[K, V]

	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			c.stats.expired++
			pending = append(pending, removed[K, V]{key: key, value: e.value})
		}
	}

	c.stats.sweeps++

	if len(pending) > 0 {
		c.logger.Log(context.Background(), log.LevelDebug, "cache sweep removed expired entries",
			log.Int("removed", len(pending)),
			log.Int("remaining", len(c.entries)),
		)
	}

	return pending
}

// evictLRULocked removes the entry with the oldest access time, ties broken
// by insertion order.
func (c *Cache[K, V]) evictLRULocked() (removed[K, V], bool) {
	var (
		victimKey K
		victim    *entry[V]
	)

	for key, e := range c.entries {
		if victim == nil ||
			e.accessedAt.Before(victim.accessedAt) ||
			(e.accessedAt.Equal(victim.accessedAt) && e.inserted < victim.inserted) {
			victimKey = key
			victim = e
		}
	}

	if victim == nil {
		return removed[K, V]{}, false
	}

	delete(c.entries, victimKey)
	c.stats.evicted++

	return removed[K, V]{key: victimKey, value: victim.value, evicted: true}, true
}
