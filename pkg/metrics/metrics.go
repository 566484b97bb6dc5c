package metrics

import (
	"strconv"
	"time"
)

// Every helper below tolerates a nil receiver so components can carry an
// optional *Registry and call through unconditionally.

// RecordWALAppend counts one appended record of the given type.
func (r *Registry) RecordWALAppend(recordType string) {
	if r == nil {
		return
	}
	r.WALAppendsTotal.WithLabelValues(recordType).Inc()
}

// RecordWALFsync observes one fsync's latency.
func (r *Registry) RecordWALFsync(d time.Duration) {
	if r == nil {
		return
	}
	r.WALFsyncDuration.Observe(d.Seconds())
}

// RecordWALRotation counts one segment rotation.
func (r *Registry) RecordWALRotation() {
	if r == nil {
		return
	}
	r.WALSegmentRotations.Inc()
}

// RecordWALRecovery counts records replayed at startup.
func (r *Registry) RecordWALRecovery(records int) {
	if r == nil {
		return
	}
	r.WALRecoveredRecords.Add(float64(records))
}

// RecordWALTruncation counts segments removed by truncation.
func (r *Registry) RecordWALTruncation(segments int) {
	if r == nil {
		return
	}
	r.WALTruncatedSegments.Add(float64(segments))
}

// RecordFlush records one MemTable flush attempt.
func (r *Registry) RecordFlush(status string, d time.Duration) {
	if r == nil {
		return
	}
	r.FlushesTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		r.FlushDuration.Observe(d.Seconds())
	}
}

// RecordCompaction records one compaction attempt.
func (r *Registry) RecordCompaction(kind, status string, d time.Duration, bytesWritten int64) {
	if r == nil {
		return
	}
	r.CompactionsTotal.WithLabelValues(kind, status).Inc()
	if status == "ok" {
		r.CompactionDuration.Observe(d.Seconds())
		r.CompactionBytesWritten.Add(float64(bytesWritten))
	}
}

// SetLevelTableCount publishes the SSTable count at one level.
func (r *Registry) SetLevelTableCount(level, count int) {
	if r == nil {
		return
	}
	r.SSTablesPerLevel.WithLabelValues(strconv.Itoa(level)).Set(float64(count))
}

// SetMemTableBytes publishes the mutable MemTable's approximate size.
func (r *Registry) SetMemTableBytes(n int) {
	if r == nil {
		return
	}
	r.MemTableBytes.Set(float64(n))
}

// RecordCacheHit counts a hit on the given tier ("l1" or "l2").
func (r *Registry) RecordCacheHit(tier string) {
	if r == nil {
		return
	}
	r.CacheHitsTotal.WithLabelValues(tier).Inc()
}

// RecordCacheMiss counts a miss across both tiers.
func (r *Registry) RecordCacheMiss() {
	if r == nil {
		return
	}
	r.CacheMissesTotal.Inc()
}

// RecordCacheEviction counts an eviction from the given tier.
func (r *Registry) RecordCacheEviction(tier string) {
	if r == nil {
		return
	}
	r.CacheEvictionsTotal.WithLabelValues(tier).Inc()
}

// RecordCachePrefetch counts one block loaded by the prefetcher.
func (r *Registry) RecordCachePrefetch() {
	if r == nil {
		return
	}
	r.CachePrefetchesTotal.Inc()
}

// RecordQuery records one executed statement.
func (r *Registry) RecordQuery(stmtType, status string, d time.Duration, rows int) {
	if r == nil {
		return
	}
	r.QueriesTotal.WithLabelValues(stmtType, status).Inc()
	r.QueryDuration.WithLabelValues(stmtType).Observe(d.Seconds())
	if stmtType == "select" && status == "ok" {
		r.QueryRowsReturned.Observe(float64(rows))
	}
}

// RecordParseError counts one statement the parser rejected.
func (r *Registry) RecordParseError() {
	if r == nil {
		return
	}
	r.ParseErrorsTotal.Inc()
}

// SetQueryPoolUsed publishes the buffer pool's aggregate live bytes.
func (r *Registry) SetQueryPoolUsed(n int64) {
	if r == nil {
		return
	}
	r.QueryPoolUsedBytes.Set(float64(n))
}

// SetActiveQueries publishes the live query-context count.
func (r *Registry) SetActiveQueries(n int) {
	if r == nil {
		return
	}
	r.ActiveQueries.Set(float64(n))
}

// RecordSpill counts one spill file and its size for an operator
// ("sort" or "hashjoin").
func (r *Registry) RecordSpill(operator string, bytes int64) {
	if r == nil {
		return
	}
	r.SpillFilesTotal.WithLabelValues(operator).Inc()
	r.SpillBytesTotal.Add(float64(bytes))
}

// RecordOutOfMemory counts one allocation failure.
func (r *Registry) RecordOutOfMemory() {
	if r == nil {
		return
	}
	r.OutOfMemoryTotal.Inc()
}
