package lsm

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/serengeti-db/serengeti/pkg/wal"
)

func spin() { time.Sleep(5 * time.Millisecond) }

func newTestEngine(t *testing.T, dir string) *Engine {
	t.Helper()
	e, err := Open(EngineOptions{
		Dir:              dir,
		MemTableMaxBytes: 256,
		MaxImmutables:    8,
		WAL:              wal.Options{SyncMode: wal.SyncSync},
		Compaction:       CompactionOptions{L0CompactionTrigger: 3},
	})
	require.NoError(t, err)
	return e
}

func TestEnginePutGetDelete(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	defer e.Close()

	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Put([]byte("b"), []byte("2")))

	v, ok, err := e.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", string(v))

	require.NoError(t, e.Delete([]byte("a")))
	_, ok, err = e.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)
}

// TestEngineDurabilityAcrossReopen simulates a crash/restart: every Put
// acknowledged before Close must be visible after reopening the engine
// against the same directory, whether it was flushed to an SSTable or
// only ever lived in the WAL.
func TestEngineDurabilityAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("k%03d", i)
		require.NoError(t, e.Put([]byte(key), []byte(key+"-value")))
	}
	require.NoError(t, e.Close())

	e2 := newTestEngine(t, dir)
	defer e2.Close()
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("k%03d", i)
		v, ok, err := e2.Get([]byte(key))
		require.NoError(t, err)
		require.True(t, ok, "missing key %s after reopen", key)
		require.Equal(t, key+"-value", string(v))
	}
}

// TestEngineFlushesUnderMemoryPressure drives enough writes through a
// tiny MemTable budget to force multiple flushes to L0, then checks the
// values are still all reachable through the on-disk path.
func TestEngineFlushesUnderMemoryPressure(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)
	defer e.Close()

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("row-%04d", i)
		require.NoError(t, e.Put([]byte(key), []byte(key)))
	}

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("row-%04d", i)
		v, ok, err := e.Get([]byte(key))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, key, string(v))
	}
}

// TestEngineCompactionMergesTombstones exercises the L0 file-count
// compaction trigger and confirms a value deleted in a later flush no
// longer resurfaces after the merge collapses the bottom level.
func TestEngineCompactionMergesTombstones(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)
	defer e.Close()

	pad := make([]byte, 260)

	// Flush 1: write then immediately overflow the memtable.
	require.NoError(t, e.Put([]byte("x"), []byte("v1")))
	require.NoError(t, e.Put([]byte("pad1"), pad))
	waitForFlush(t, e, 1)

	// Flush 2: delete it.
	require.NoError(t, e.Delete([]byte("x")))
	require.NoError(t, e.Put([]byte("pad2"), pad))
	waitForFlush(t, e, 2)

	// Flush 3: crosses the L0 compaction trigger (3 files).
	require.NoError(t, e.Put([]byte("pad3"), pad))
	require.NoError(t, e.Put([]byte("pad4"), pad))
	waitForFlush(t, e, 3)

	waitForCompaction(t, e)

	_, ok, err := e.Get([]byte("x"))
	require.NoError(t, err)
	require.False(t, ok)
}

func waitForFlush(t *testing.T, e *Engine, minL0Files int) {
	t.Helper()
	for i := 0; i < 200; i++ {
		e.mu.RLock()
		n := len(e.levels[0])
		e.mu.RUnlock()
		if n >= minL0Files {
			return
		}
		spin()
	}
	t.Fatalf("timed out waiting for %d L0 files", minL0Files)
}

func waitForCompaction(t *testing.T, e *Engine) {
	t.Helper()
	for i := 0; i < 200; i++ {
		e.mu.RLock()
		n := len(e.levels[0])
		e.mu.RUnlock()
		if n < 3 {
			return
		}
		spin()
	}
}

func TestEngineLoadsExistingTablesOnReopen(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("z%04d", i)
		require.NoError(t, e.Put([]byte(key), []byte(key)))
	}
	waitForFlush(t, e, 1)
	require.NoError(t, e.Close())

	// A second open should see the on-disk L0 directory directly.
	require.DirExists(t, filepath.Join(dir, "L0"))

	e2 := newTestEngine(t, dir)
	defer e2.Close()
	v, ok, err := e2.Get([]byte("z0005"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "z0005", string(v))
}
