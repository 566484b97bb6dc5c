package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryRegistersEverything(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r.Gatherer())

	// Counters start at zero and every instrument is gatherable.
	mfs, err := r.Gatherer().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry
	r.RecordWALAppend("put")
	r.RecordWALFsync(time.Millisecond)
	r.RecordFlush("ok", time.Millisecond)
	r.RecordCompaction("l0", "ok", time.Millisecond, 100)
	r.SetLevelTableCount(0, 3)
	r.SetMemTableBytes(1024)
	r.RecordCacheHit("l1")
	r.RecordCacheMiss()
	r.RecordCacheEviction("l2")
	r.RecordCachePrefetch()
	r.RecordQuery("select", "ok", time.Millisecond, 10)
	r.RecordParseError()
	r.SetQueryPoolUsed(1 << 20)
	r.SetActiveQueries(2)
	r.RecordSpill("sort", 4096)
	r.RecordOutOfMemory()
}

func TestWALMetrics(t *testing.T) {
	r := NewRegistry()

	r.RecordWALAppend("put")
	r.RecordWALAppend("put")
	r.RecordWALAppend("delete")
	r.RecordWALRotation()
	r.RecordWALRecovery(42)
	r.RecordWALTruncation(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.WALAppendsTotal.WithLabelValues("put")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.WALAppendsTotal.WithLabelValues("delete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.WALSegmentRotations))
	assert.Equal(t, 42.0, testutil.ToFloat64(r.WALRecoveredRecords))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.WALTruncatedSegments))
}

func TestFlushAndCompactionMetrics(t *testing.T) {
	r := NewRegistry()

	r.RecordFlush("ok", 10*time.Millisecond)
	r.RecordFlush("error", 0)
	r.RecordCompaction("l0", "ok", 50*time.Millisecond, 1<<20)
	r.RecordCompaction("leveled", "error", 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.FlushesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.FlushesTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CompactionsTotal.WithLabelValues("l0", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CompactionsTotal.WithLabelValues("leveled", "error")))
	// A failed compaction contributes nothing to bytes written.
	assert.Equal(t, float64(1<<20), testutil.ToFloat64(r.CompactionBytesWritten))
}

func TestLevelGauges(t *testing.T) {
	r := NewRegistry()

	r.SetLevelTableCount(0, 4)
	r.SetLevelTableCount(1, 10)
	r.SetLevelTableCount(0, 2) // overwrite

	assert.Equal(t, 2.0, testutil.ToFloat64(r.SSTablesPerLevel.WithLabelValues("0")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.SSTablesPerLevel.WithLabelValues("1")))
}

func TestCacheMetrics(t *testing.T) {
	r := NewRegistry()

	r.RecordCacheHit("l1")
	r.RecordCacheHit("l1")
	r.RecordCacheHit("l2")
	r.RecordCacheMiss()
	r.RecordCacheEviction("l1")
	r.RecordCachePrefetch()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.CacheHitsTotal.WithLabelValues("l1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CacheHitsTotal.WithLabelValues("l2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CacheMissesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CacheEvictionsTotal.WithLabelValues("l1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CachePrefetchesTotal))
}

func TestQueryMetrics(t *testing.T) {
	r := NewRegistry()

	r.RecordQuery("select", "ok", 5*time.Millisecond, 100)
	r.RecordQuery("select", "error", time.Millisecond, 0)
	r.RecordQuery("insert", "ok", time.Millisecond, 0)
	r.RecordParseError()

	assert.Equal(t, 1.0, testutil.ToFloat64(r.QueriesTotal.WithLabelValues("select", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.QueriesTotal.WithLabelValues("select", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.QueriesTotal.WithLabelValues("insert", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ParseErrorsTotal))
}

func TestMemoryAndSpillMetrics(t *testing.T) {
	r := NewRegistry()

	r.SetQueryPoolUsed(64 << 20)
	r.SetActiveQueries(3)
	r.RecordSpill("sort", 4096)
	r.RecordSpill("sort", 8192)
	r.RecordSpill("hashjoin", 1024)
	r.RecordOutOfMemory()

	assert.Equal(t, float64(64<<20), testutil.ToFloat64(r.QueryPoolUsedBytes))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.ActiveQueries))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.SpillFilesTotal.WithLabelValues("sort")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SpillFilesTotal.WithLabelValues("hashjoin")))
	assert.Equal(t, float64(4096+8192+1024), testutil.ToFloat64(r.SpillBytesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.OutOfMemoryTotal))
}
