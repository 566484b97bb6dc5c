package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initStorageMetrics() {
	r.FlushesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "serengeti_storage_flushes_total",
			Help: "MemTable flushes to level-0 SSTables",
		},
		[]string{"status"}, // ok, error
	)

	r.FlushDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "serengeti_storage_flush_duration_seconds",
			Help:    "MemTable flush duration",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
	)

	r.CompactionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "serengeti_storage_compactions_total",
			Help: "SSTable compactions",
		},
		[]string{"kind", "status"}, // kind: l0, leveled
	)

	r.CompactionDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "serengeti_storage_compaction_duration_seconds",
			Help:    "Compaction duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
	)

	r.CompactionBytesWritten = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "serengeti_storage_compaction_bytes_written_total",
			Help: "Bytes written by compaction output tables",
		},
	)

	r.SSTablesPerLevel = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "serengeti_storage_sstables",
			Help: "SSTable count per level",
		},
		[]string{"level"},
	)

	r.MemTableBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "serengeti_storage_memtable_bytes",
			Help: "Approximate bytes in the mutable MemTable",
		},
	)
}
