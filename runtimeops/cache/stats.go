package cache

import "time"

// Stats is a point-in-time snapshot of cache telemetry. Reading it never
// mutates cache contents.
type Stats struct {
	Size    int
	Hits    uint64
	Misses  uint64
	Expired uint64
	Evicted uint64
	Sweeps  uint64

	// HitRate is Hits / (Hits + Misses), zero when no reads happened.
	HitRate float64

	// MeanEntryAge is the average age of currently stored entries.
	MeanEntryAge time.Duration
}

// Stats returns current telemetry.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:    len(c.entries),
		Hits:    c.stats.hits,
		Misses:  c.stats.misses,
		Expired: c.stats.expired,
		Evicted: c.stats.evicted,
		Sweeps:  c.stats.sweeps,
	}

	if reads := s.Hits + s.Misses; reads > 0 {
		s.HitRate = float64(s.Hits) / float64(reads)
	}

	if len(c.entries) > 0 {
		now := c.now()

		var total time.Duration
		for _, e := range c.entries {
			total += now.Sub(e.createdAt)
		}

		s.MeanEntryAge = total / time.Duration(len(c.entries))
	}

	return s
}
