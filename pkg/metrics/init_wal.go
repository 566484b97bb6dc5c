package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initWALMetrics() {
	r.WALAppendsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "serengeti_wal_appends_total",
			Help: "Total WAL records appended",
		},
		[]string{"type"}, // put, delete, commit
	)

	r.WALFsyncDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "serengeti_wal_fsync_duration_seconds",
			Help:    "WAL fsync latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	r.WALSegmentRotations = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "serengeti_wal_segment_rotations_total",
			Help: "Total WAL segment rotations",
		},
	)

	r.WALRecoveredRecords = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "serengeti_wal_recovered_records_total",
			Help: "WAL records replayed during recovery",
		},
	)

	r.WALTruncatedSegments = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "serengeti_wal_truncated_segments_total",
			Help: "WAL segments removed by truncation",
		},
	)
}
