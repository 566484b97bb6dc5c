package config

import (
	"github.com/serengeti-db/serengeti/pkg/cache"
	"github.com/serengeti-db/serengeti/pkg/engine"
	"github.com/serengeti-db/serengeti/pkg/logging"
	"github.com/serengeti-db/serengeti/pkg/lsm"
	"github.com/serengeti-db/serengeti/pkg/wal"
)

// SyncMode maps the config string to the WAL's enum, defaulting to
// group.
func (c *Config) SyncMode() wal.SyncMode {
	switch c.Storage.WALSyncMode {
	case "sync":
		return wal.SyncSync
	case "async":
		return wal.SyncAsync
	}
	return wal.SyncGroup
}

// CachePolicy maps the config string to the cache's enum, defaulting to
// LRU.
func (c *Config) CachePolicy() cache.Policy {
	switch c.Cache.Policy {
	case "lfu":
		return cache.PolicyLFU
	case "fifo":
		return cache.PolicyFIFO
	}
	return cache.PolicyLRU
}

// LogLevel maps the config string to the logging level.
func (c *Config) LogLevel() logging.Level {
	return logging.ParseLevel(c.Logging.Level)
}

// EngineOptions assembles the engine.Options a hosting process passes to
// engine.Open from the data root and the storage, cache and memory
// sections. The spill and logging sections, and the WAL segment size,
// merge-table and compaction-interval knobs, are not carried over.
func (c *Config) EngineOptions(log logging.Logger) engine.Options {
	return engine.Options{
		DataDir:          c.DataDir,
		MemTableMaxBytes: c.Storage.MemTableMaxBytes,
		MaxImmutables:    c.Storage.MaxImmutables,
		WALSyncMode:      c.SyncMode(),
		CompactionOpts: lsm.CompactionOptions{
			L0CompactionTrigger: c.Storage.L0CompactionTrigger,
		},
		Cache: &cache.Options{
			L1Bytes:        c.Cache.L1Bytes,
			L2Bytes:        c.Cache.L2Bytes,
			Policy:         c.CachePolicy(),
			PrefetchWindow: c.Cache.PrefetchWindow,
			PrefetchTopK:   c.Cache.PrefetchTopK,
		},
		MemoryPoolBytes: c.QueryPoolBytes(),
		Logger:          log,
	}
}
