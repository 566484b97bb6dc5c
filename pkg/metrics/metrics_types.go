// Package metrics registers and updates the Prometheus instruments for
// the storage and query core. Exposing them over HTTP is the hosting
// process's job; this package only owns the registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every instrument the engine updates. A nil *Registry is
// valid everywhere: the record helpers in metrics.go no-op on nil, so
// components take an optional Registry without guarding each call site.
type Registry struct {
	// WAL
	WALAppendsTotal      *prometheus.CounterVec // {type}
	WALFsyncDuration     prometheus.Histogram
	WALSegmentRotations  prometheus.Counter
	WALRecoveredRecords  prometheus.Counter
	WALTruncatedSegments prometheus.Counter

	// LSM storage
	FlushesTotal           *prometheus.CounterVec // {status}
	FlushDuration          prometheus.Histogram
	CompactionsTotal       *prometheus.CounterVec // {kind, status}
	CompactionDuration     prometheus.Histogram
	CompactionBytesWritten prometheus.Counter
	SSTablesPerLevel       *prometheus.GaugeVec // {level}
	MemTableBytes          prometheus.Gauge

	// Block cache
	CacheHitsTotal       *prometheus.CounterVec // {tier}
	CacheMissesTotal     prometheus.Counter
	CacheEvictionsTotal  *prometheus.CounterVec // {tier}
	CachePrefetchesTotal prometheus.Counter

	// Query
	QueriesTotal      *prometheus.CounterVec   // {type, status}
	QueryDuration     *prometheus.HistogramVec // {type}
	QueryRowsReturned prometheus.Histogram
	ParseErrorsTotal  prometheus.Counter

	// Memory / spill
	QueryPoolUsedBytes prometheus.Gauge
	ActiveQueries      prometheus.Gauge
	SpillBytesTotal    prometheus.Counter
	SpillFilesTotal    *prometheus.CounterVec // {operator}
	OutOfMemoryTotal   prometheus.Counter

	registry *prometheus.Registry
}

// NewRegistry creates a Registry with every instrument registered against
// a fresh prometheus.Registry.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	r.initWALMetrics()
	r.initStorageMetrics()
	r.initCacheMetrics()
	r.initQueryMetrics()
	r.initMemoryMetrics()
	return r
}

// Gatherer returns the underlying registry for the hosting process to
// mount behind its metrics endpoint.
func (r *Registry) Gatherer() *prometheus.Registry {
	return r.registry
}
