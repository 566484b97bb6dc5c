package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serengeti-db/serengeti/pkg/cache"
	"github.com/serengeti-db/serengeti/pkg/logging"
	"github.com/serengeti-db/serengeti/pkg/wal"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, wal.SyncGroup, cfg.SyncMode())
	assert.Equal(t, cache.PolicyLRU, cfg.CachePolicy())
	assert.Equal(t, logging.LevelInfo, cfg.LogLevel())
}

func TestParseOverridesOnlyNamedFields(t *testing.T) {
	cfg, err := Parse([]byte(`
data_dir: /var/lib/serengeti
storage:
  wal_sync_mode: sync
cache:
  policy: lfu
`))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/serengeti", cfg.DataDir)
	assert.Equal(t, wal.SyncSync, cfg.SyncMode())
	assert.Equal(t, cache.PolicyLFU, cfg.CachePolicy())
	// Untouched sections keep their defaults.
	assert.Equal(t, 4<<20, cfg.Storage.MemTableMaxBytes)
	assert.Equal(t, int64(32<<20), cfg.Cache.L2Bytes)
}

func TestParseRejectsBadEnum(t *testing.T) {
	_, err := Parse([]byte("data_dir: d\nstorage:\n  wal_sync_mode: fast\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wal_sync_mode")
}

func TestParseRejectsOutOfRange(t *testing.T) {
	_, err := Parse([]byte("data_dir: d\nstorage:\n  memtable_max_bytes: 16\n"))
	require.Error(t, err)
}

func TestParseRejectsMissingDataDir(t *testing.T) {
	_, err := Parse([]byte("storage:\n  wal_sync_mode: sync\n"))
	// data_dir survives from defaults when merged, so blank it explicitly.
	require.NoError(t, err)

	_, err = Parse([]byte(`data_dir: ""`))
	require.Error(t, err)
}

func TestReservedMustBeBelowTotal(t *testing.T) {
	cfg := Default()
	cfg.Memory.ReservedSystemBytes = cfg.Memory.TotalBudgetBytes
	require.Error(t, cfg.Validate())
}

func TestQueryPoolBytes(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cfg.Memory.TotalBudgetBytes-cfg.Memory.ReservedSystemBytes, cfg.QueryPoolBytes())
}

func TestEngineOptions(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/tmp/x"
	opts := cfg.EngineOptions(logging.NewNopLogger())

	assert.Equal(t, "/tmp/x", opts.DataDir)
	assert.Equal(t, cfg.Storage.MemTableMaxBytes, opts.MemTableMaxBytes)
	assert.Equal(t, cfg.QueryPoolBytes(), opts.MemoryPoolBytes)
	require.NotNil(t, opts.Cache)
	assert.Equal(t, cfg.Cache.L1Bytes, opts.Cache.L1Bytes)
}
