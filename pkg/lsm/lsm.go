// Package lsm implements the single-node storage engine: MemTable,
// SSTable, and the leveled LSM engine tying them together with the
// write-ahead log and block cache. Reads follow the
// mutable -> immutable -> on-disk, newest-wins search order;
// tombstones are sequence-numbered and snapshot reads are refcounted.
package lsm

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/serengeti-db/serengeti/pkg/cache"
	"github.com/serengeti-db/serengeti/pkg/errs"
	"github.com/serengeti-db/serengeti/pkg/logging"
	"github.com/serengeti-db/serengeti/pkg/metrics"
	"github.com/serengeti-db/serengeti/pkg/wal"
)

// Row is one visible (key, value) pair returned from Scan, with
// tombstones and shadowed older versions already resolved.
type Row struct {
	Key   []byte
	Value []byte
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Dir              string
	MemTableMaxBytes int
	MaxImmutables    int
	Cache            *cache.BlockCache
	WAL              wal.Options
	Compaction       CompactionOptions
	Logger           logging.Logger
	Metrics          *metrics.Registry
}

func (o *EngineOptions) setDefaults() {
	if o.MemTableMaxBytes <= 0 {
		o.MemTableMaxBytes = 4 << 20
	}
	if o.MaxImmutables <= 0 {
		o.MaxImmutables = 4
	}
	if o.Cache == nil {
		o.Cache = cache.New(cache.Options{})
	}
	if o.Logger == nil {
		o.Logger = logging.NewNopLogger()
	}
}

// Engine is a single-namespace LSM tree: one WAL, one mutable MemTable,
// a queue of sealed-but-not-yet-flushed MemTables, and a leveled set of
// SSTables reachable concurrently with background flush/compaction.
type Engine struct {
	mu   sync.RWMutex
	dir  string
	opts EngineOptions

	w          *wal.WAL
	walDir     string
	mem        *MemTable
	immutables []*MemTable // oldest first
	levels     map[int][]*SSTable
	nextFileID uint64
	closed     bool
	readOnly   bool

	cond *sync.Cond

	stopCh        chan struct{}
	wg            sync.WaitGroup
	flushSignal   chan struct{}
	compactSignal chan struct{}

	log logging.Logger
}

// Open recovers (or creates) an Engine rooted at opts.Dir: it loads
// existing SSTables from each level directory, opens the WAL, and
// replays it into a fresh mutable MemTable.
func Open(opts EngineOptions) (*Engine, error) {
	opts.setDefaults()
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, errs.IO("mkdir", err)
	}

	e := &Engine{
		dir:           opts.Dir,
		opts:          opts,
		walDir:        filepath.Join(opts.Dir, "wal"),
		mem:           NewMemTable(opts.MemTableMaxBytes),
		levels:        map[int][]*SSTable{},
		stopCh:        make(chan struct{}),
		flushSignal:   make(chan struct{}, 1),
		compactSignal: make(chan struct{}, 1),
		log:           opts.Logger,
	}
	e.cond = sync.NewCond(&e.mu)

	if err := e.loadExistingTables(); err != nil {
		return nil, err
	}

	opts.WAL.Dir = e.walDir
	opts.WAL.Metrics = opts.Metrics
	w, err := wal.Open(opts.WAL)
	if err != nil {
		return nil, err
	}
	e.w = w

	if err := e.replayWAL(); err != nil {
		return nil, err
	}

	e.wg.Add(2)
	go e.flushWorker()
	go e.compactionWorker()

	return e, nil
}

func sstableFileName(id uint64) string {
	return fmt.Sprintf("%020d.sst", id)
}

func levelDirName(level int) string {
	return fmt.Sprintf("L%d", level)
}

// loadExistingTables scans Dir/L0, Dir/L1, ... for previously flushed or
// compacted SSTable files and opens each one, restoring nextFileID from
// the highest file id on disk.
func (e *Engine) loadExistingTables() error {
	const maxLevelsOnDisk = 8
	for level := 0; level <= maxLevelsOnDisk; level++ {
		ldir := filepath.Join(e.dir, levelDirName(level))
		entries, err := os.ReadDir(ldir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errs.IO("readdir", err)
		}
		for _, de := range entries {
			if de.IsDir() {
				continue
			}
			path := filepath.Join(ldir, de.Name())
			tbl, err := OpenSSTable(path, e.opts.Cache)
			if err != nil {
				return errs.CorruptData(path, err)
			}
			var id uint64
			fmt.Sscanf(de.Name(), "%020d.sst", &id)
			tbl.SetSeqID(id)
			if id >= e.nextFileID {
				e.nextFileID = id + 1
			}
			e.levels[level] = append(e.levels[level], tbl)
		}
		sortTablesByMinKey(e.levels[level])
	}
	return nil
}

func (e *Engine) replayWAL() error {
	replayed := 0
	err := wal.Replay(e.walDir, func(rec wal.Record) error {
		switch rec.Type {
		case wal.RecordPut:
			e.mem.Put(rec.Key, rec.Value, rec.Sequence)
		case wal.RecordDelete:
			e.mem.Delete(rec.Key, rec.Sequence)
		case wal.RecordCommit:
			// Single-statement engine: no multi-record transaction to
			// apply atomically, so a commit marker is simply skipped.
		}
		replayed++
		return nil
	})
	if err != nil {
		return err
	}
	e.opts.Metrics.RecordWALRecovery(replayed)
	return nil
}

// checkWritable rejects writes once the engine is closed or a
// persistent flush failure or corrupt block read latched it read-only.
func (e *Engine) checkWritable() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("lsm: engine closed")
	}
	if e.readOnly {
		return errs.IO("write", fmt.Errorf("engine is read-only after persistent flush failure or corrupt read"))
	}
	return nil
}

// Put writes key=value durably (per the configured WAL sync mode) and
// into the mutable MemTable, rotating to a fresh MemTable if this write
// fills it.
func (e *Engine) Put(key, value []byte) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	seq, fut, err := e.w.Append(wal.RecordPut, key, value)
	if err != nil {
		return errs.IO("wal append", err)
	}
	if err := fut.Wait(); err != nil {
		return errs.IO("wal sync", err)
	}

	e.mu.Lock()
	e.mem.Put(key, value, seq)
	e.maybeRotateMemtableLocked()
	e.opts.Metrics.SetMemTableBytes(e.mem.ApproxBytes())
	e.mu.Unlock()
	return nil
}

// Delete records a tombstone for key.
func (e *Engine) Delete(key []byte) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	seq, fut, err := e.w.Append(wal.RecordDelete, key, nil)
	if err != nil {
		return errs.IO("wal append", err)
	}
	if err := fut.Wait(); err != nil {
		return errs.IO("wal sync", err)
	}

	e.mu.Lock()
	e.mem.Delete(key, seq)
	e.maybeRotateMemtableLocked()
	e.opts.Metrics.SetMemTableBytes(e.mem.ApproxBytes())
	e.mu.Unlock()
	return nil
}

// maybeRotateMemtableLocked freezes the mutable MemTable once it is
// full, applying backpressure (blocking the writer) if too many sealed
// MemTables are already waiting on the flush worker. Must be called
// with e.mu held.
func (e *Engine) maybeRotateMemtableLocked() {
	if !e.mem.IsFull() {
		return
	}
	for len(e.immutables) >= e.opts.MaxImmutables && !e.closed && !e.readOnly {
		e.cond.Wait()
	}
	if e.closed || e.readOnly {
		return
	}
	e.mem.Freeze()
	e.immutables = append(e.immutables, e.mem)
	e.mem = NewMemTable(e.opts.MemTableMaxBytes)
	select {
	case e.flushSignal <- struct{}{}:
	default:
	}
}

// Get resolves key against the engine's search order: mutable
// MemTable, then sealed MemTables newest-first, then L0 newest-first,
// then each deeper level's single owning table. A corrupt block is
// fatal to the read and latches the engine read-only.
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	v, ok, err := e.get(key)
	if err != nil && errors.Is(err, errs.ErrCorruptData) {
		e.mu.Lock()
		e.readOnly = true
		e.cond.Broadcast()
		e.mu.Unlock()
	}
	return v, ok, err
}

func (e *Engine) get(key []byte) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if v, ok := e.mem.Get(key); ok {
		return resolveMemEntry(v)
	}
	for i := len(e.immutables) - 1; i >= 0; i-- {
		if v, ok := e.immutables[i].Get(key); ok {
			return resolveMemEntry(v)
		}
	}

	l0 := append([]*SSTable{}, e.levels[0]...)
	sort.Slice(l0, func(i, j int) bool { return l0[i].SeqID() > l0[j].SeqID() })
	for _, t := range l0 {
		v, tombstone, _, found, err := t.Get(key)
		if err != nil {
			return nil, false, err
		}
		if found {
			if tombstone {
				return nil, false, nil
			}
			return v, true, nil
		}
	}

	for level := 1; level <= maxLevel(e.levels); level++ {
		tbl := findTableForKey(e.levels[level], key)
		if tbl == nil {
			continue
		}
		v, tombstone, _, found, err := tbl.Get(key)
		if err != nil {
			return nil, false, err
		}
		if found {
			if tombstone {
				return nil, false, nil
			}
			return v, true, nil
		}
	}
	return nil, false, nil
}

func resolveMemEntry(e *MemEntry) ([]byte, bool, error) {
	if e.Tombstone {
		return nil, false, nil
	}
	return e.Value, true, nil
}

// findTableForKey binary-searches a level's non-overlapping, MinKey-
// sorted tables for the one whose range could contain key.
func findTableForKey(tables []*SSTable, key []byte) *SSTable {
	idx := sort.Search(len(tables), func(i int) bool {
		return bytes.Compare(tables[i].MaxKey(), key) >= 0
	})
	if idx < len(tables) && bytes.Compare(tables[idx].MinKey(), key) <= 0 {
		return tables[idx]
	}
	return nil
}

func sortTablesByMinKey(tables []*SSTable) {
	sort.Slice(tables, func(i, j int) bool {
		return bytes.Compare(tables[i].MinKey(), tables[j].MinKey()) < 0
	})
}

func convertMemEntries(entries []*MemEntry) []blockEntry {
	out := make([]blockEntry, len(entries))
	for i, e := range entries {
		typ := EntryPut
		if e.Tombstone {
			typ = EntryTombstone
		}
		out[i] = blockEntry{Key: e.Key, Type: typ, Seq: e.Sequence, Value: e.Value}
	}
	return out
}

// Scan returns every visible row with lo <= key < hi (nil bounds are
// unbounded), newest-wins and tombstones resolved away, merged across
// every MemTable and SSTable that might hold data in range.
func (e *Engine) Scan(lo, hi []byte) ([]Row, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var sources []*mergeSource
	priority := 0
	addSource := func(entries []blockEntry) {
		if len(entries) == 0 {
			return
		}
		sources = append(sources, &mergeSource{entries: entries, priority: priority})
		priority++
	}

	addSource(convertMemEntries(e.mem.IterRange(lo, hi)))
	for i := len(e.immutables) - 1; i >= 0; i-- {
		addSource(convertMemEntries(e.immutables[i].IterRange(lo, hi)))
	}

	l0 := append([]*SSTable{}, e.levels[0]...)
	sort.Slice(l0, func(i, j int) bool { return l0[i].SeqID() > l0[j].SeqID() })
	for _, t := range l0 {
		entries, err := t.IterRange(lo, hi)
		if err != nil {
			return nil, errs.IO("scan", err)
		}
		addSource(entries)
	}

	for level := 1; level <= maxLevel(e.levels); level++ {
		for _, t := range overlappingTables(e.levels[level], lo, hi) {
			entries, err := t.IterRange(lo, hi)
			if err != nil {
				return nil, errs.IO("scan", err)
			}
			addSource(entries)
		}
	}

	merged := mergeSorted(sources, true)
	rows := make([]Row, len(merged))
	for i, be := range merged {
		rows[i] = Row{Key: be.Key, Value: be.Value}
	}
	return rows, nil
}

// Snapshot retains every SSTable currently installed in the engine so a
// long-lived reader keeps seeing them even if compaction later removes
// them from service; the mutable MemTable is not part of the snapshot
// (refcounting covers durable, on-disk state; the hot MemTable
// has no equivalent versioning in this engine).
type Snapshot struct {
	levels map[int][]*SSTable
}

func (e *Engine) Snapshot() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap := &Snapshot{levels: map[int][]*SSTable{}}
	for level, tables := range e.levels {
		cp := append([]*SSTable{}, tables...)
		for _, t := range cp {
			t.Retain()
		}
		snap.levels[level] = cp
	}
	return snap
}

// Get reads key as of the snapshot, ignoring tables installed since.
func (s *Snapshot) Get(key []byte) ([]byte, bool, error) {
	l0 := append([]*SSTable{}, s.levels[0]...)
	sort.Slice(l0, func(i, j int) bool { return l0[i].SeqID() > l0[j].SeqID() })
	for _, t := range l0 {
		v, tombstone, _, found, err := t.Get(key)
		if err != nil {
			return nil, false, err
		}
		if found {
			if tombstone {
				return nil, false, nil
			}
			return v, true, nil
		}
	}
	for level := 1; level <= maxLevel(s.levels); level++ {
		tbl := findTableForKey(s.levels[level], key)
		if tbl == nil {
			continue
		}
		v, tombstone, _, found, err := tbl.Get(key)
		if err != nil {
			return nil, false, err
		}
		if found {
			if tombstone {
				return nil, false, nil
			}
			return v, true, nil
		}
	}
	return nil, false, nil
}

// Release drops this snapshot's hold on every retained table, unlinking
// any whose refcount consequently reaches zero (i.e. compaction already
// superseded it while the snapshot was alive).
func (s *Snapshot) Release() {
	for _, tables := range s.levels {
		for _, t := range tables {
			if t.Release() {
				t.Close()
				os.Remove(t.Path())
			}
		}
	}
}

// Close stops the background workers, flushes whatever is still
// resident in memory so a future Open replays little or no WAL, and
// closes every open file handle.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()

	e.mu.Lock()
	pending := append(append([]*MemTable{}, e.immutables...), e.mem)
	e.mu.Unlock()

	for _, mt := range pending {
		if mt.ApproxBytes() == 0 {
			continue
		}
		if _, err := e.flushOne(mt); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, tables := range e.levels {
		for _, t := range tables {
			t.Close()
		}
	}
	return e.w.Close()
}

// Stats reports current levels' file counts, for diagnostics/tests.
func (e *Engine) Stats() map[int]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[int]int, len(e.levels))
	for level, tables := range e.levels {
		out[level] = len(tables)
	}
	return out
}
