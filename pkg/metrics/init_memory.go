package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initMemoryMetrics() {
	r.QueryPoolUsedBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "serengeti_memory_query_pool_used_bytes",
			Help: "Aggregate live allocations across all query contexts",
		},
	)

	r.ActiveQueries = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "serengeti_memory_active_queries",
			Help: "Query contexts currently holding a budget",
		},
	)

	r.SpillBytesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "serengeti_spill_bytes_total",
			Help: "Bytes written to spill files",
		},
	)

	r.SpillFilesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "serengeti_spill_files_total",
			Help: "Spill files created",
		},
		[]string{"operator"}, // sort, hashjoin
	)

	r.OutOfMemoryTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "serengeti_memory_oom_total",
			Help: "Allocations that failed after exhausting spill options",
		},
	)
}
