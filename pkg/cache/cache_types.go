// Package cache implements the two-level block cache fronting SSTable
// reads: independently sized L1/L2 tiers, pluggable LRU/LFU/FIFO
// eviction, size/frequency-based admission, and successor-pattern
// prefetch.
package cache

import (
	"sync/atomic"

	"github.com/serengeti-db/serengeti/pkg/metrics"
)

// Policy selects the eviction strategy for one cache tier.
type Policy uint8

const (
	PolicyLRU Policy = iota
	PolicyLFU
	PolicyFIFO
)

// Loader fetches the canonical value for key on a cache miss, used only
// by the prefetcher to warm predicted successors; the cache itself never
// calls it on the synchronous Get path.
type Loader func(key string) ([]byte, bool)

// Options configures a BlockCache.
type Options struct {
	L1Bytes  int64
	L2Bytes  int64
	Policy   Policy
	Loader   Loader
	// PrefetchWindow is how many recent successors are tracked per key.
	PrefetchWindow int
	// PrefetchTopK is how many of the most frequent successors are
	// prefetched on a hit.
	PrefetchTopK int
	// DemoteAfterAccesses: an L1 eviction victim is demoted into L2
	// instead of dropped once its access count reaches this.
	DemoteAfterAccesses int64
	Metrics             *metrics.Registry
}

func (o *Options) setDefaults() {
	if o.L1Bytes <= 0 {
		o.L1Bytes = 4 << 20
	}
	if o.L2Bytes <= 0 {
		o.L2Bytes = 32 << 20
	}
	if o.PrefetchWindow <= 0 {
		o.PrefetchWindow = 8
	}
	if o.PrefetchTopK <= 0 {
		o.PrefetchTopK = 2
	}
	if o.DemoteAfterAccesses <= 0 {
		o.DemoteAfterAccesses = 2
	}
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRatio returns Hits/(Hits+Misses), or 0 if nothing has happened yet.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type counters struct {
	hits      int64
	misses    int64
	evictions int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Evictions: atomic.LoadInt64(&c.evictions),
	}
}
