package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initCacheMetrics() {
	r.CacheHitsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "serengeti_cache_hits_total",
			Help: "Block cache hits",
		},
		[]string{"tier"}, // l1, l2
	)

	r.CacheMissesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "serengeti_cache_misses_total",
			Help: "Block cache misses across both tiers",
		},
	)

	r.CacheEvictionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "serengeti_cache_evictions_total",
			Help: "Block cache evictions",
		},
		[]string{"tier"},
	)

	r.CachePrefetchesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "serengeti_cache_prefetches_total",
			Help: "Blocks loaded by the successor prefetcher",
		},
	)
}
