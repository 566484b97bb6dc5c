package lsm

import (
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/serengeti-db/serengeti/pkg/errs"
	"github.com/serengeti-db/serengeti/pkg/logging"
)

// flushWorker drains e.immutables to L0 SSTables, one at a time, until
// the queue runs dry, then parks until the next signal.
func (e *Engine) flushWorker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.flushSignal:
		}

		for {
			e.mu.RLock()
			empty := len(e.immutables) == 0
			var mt *MemTable
			if !empty {
				mt = e.immutables[0]
			}
			e.mu.RUnlock()
			if empty {
				break
			}

			if !e.flushWithRetry(mt) {
				break
			}

			e.mu.Lock()
			e.immutables = e.immutables[1:]
			e.cond.Broadcast()
			e.mu.Unlock()

			select {
			case e.compactSignal <- struct{}{}:
			default:
			}
		}
	}
}

// flushWithRetry drives flushOne with exponential backoff. Persistent
// failure marks the engine read-only; the
// next Put/Delete surfaces it.
func (e *Engine) flushWithRetry(mt *MemTable) bool {
	const attempts = 3
	backoff := 50 * time.Millisecond
	for i := 0; i < attempts; i++ {
		_, err := e.flushOne(mt)
		if err == nil {
			return true
		}
		e.log.Error("memtable flush failed", logging.Err(err), logging.Int("attempt", i+1))
		if i == attempts-1 {
			break
		}
		select {
		case <-e.stopCh:
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	e.mu.Lock()
	e.readOnly = true
	e.cond.Broadcast()
	e.mu.Unlock()
	e.log.Error("flush failed persistently, engine is now read-only")
	return false
}

// flushOne writes mt's contents to a new L0 SSTable, installs it, and
// truncates any WAL segments made fully redundant by the flush.
func (e *Engine) flushOne(mt *MemTable) (*SSTable, error) {
	start := time.Now()
	entries := mt.SortedEntries()
	if len(entries) == 0 {
		mt.Drop()
		return nil, nil
	}

	var maxSeq uint64
	for _, en := range entries {
		if en.Sequence > maxSeq {
			maxSeq = en.Sequence
		}
	}

	id := atomic.AddUint64(&e.nextFileID, 1) - 1
	ldir := filepath.Join(e.dir, levelDirName(0))
	if err := os.MkdirAll(ldir, 0755); err != nil {
		return nil, errs.IO("mkdir", err)
	}
	path := filepath.Join(ldir, sstableFileName(id))
	if _, err := WriteSSTable(path, memTableSource(entries), WriteSSTableOptions{
		Level:           0,
		ExpectedEntries: len(entries),
	}); err != nil {
		os.Remove(path)
		e.opts.Metrics.RecordFlush("error", 0)
		return nil, errs.IO("flush write", err)
	}
	tbl, err := OpenSSTable(path, e.opts.Cache)
	if err != nil {
		os.Remove(path)
		e.opts.Metrics.RecordFlush("error", 0)
		return nil, err
	}
	tbl.SetSeqID(id)

	e.mu.Lock()
	e.levels[0] = append(e.levels[0], tbl)
	l0Count := len(e.levels[0])
	e.mu.Unlock()
	mt.Drop()
	e.opts.Metrics.RecordFlush("ok", time.Since(start))
	e.opts.Metrics.SetLevelTableCount(0, l0Count)

	if err := e.w.TruncateUpTo(maxSeq + 1); err != nil {
		e.log.Warn("wal truncate failed", logging.Err(err))
	}
	return tbl, nil
}

// compactionWorker repeatedly applies chooseCompaction's plan until the
// tree is quiescent, then parks until the next signal (a flush, or a
// prior compaction, may have created more work).
func (e *Engine) compactionWorker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.compactSignal:
		}

		for {
			e.mu.RLock()
			plan := chooseCompaction(e.levels, e.opts.Compaction)
			e.mu.RUnlock()
			if plan == nil {
				break
			}
			if err := e.runCompaction(plan); err != nil {
				e.log.Error("compaction failed", logging.Err(err))
				break
			}
		}
	}
}

// runCompaction merges plan's inputs (source tables newest-first, then
// overlapping output-level tables) into zero or one new SSTable, swaps
// it into place, and releases the inputs' engine-held reference.
func (e *Engine) runCompaction(plan *CompactionPlan) (err error) {
	start := time.Now()
	kind := "leveled"
	if plan.SourceLevel == 0 {
		kind = "l0"
	}
	var bytesWritten int64
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.opts.Metrics.RecordCompaction(kind, status, time.Since(start), bytesWritten)
	}()

	var sources []*mergeSource
	priority := 0

	ordered := append([]*SSTable{}, plan.SourceTables...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].SeqID() > ordered[j].SeqID() })
	for _, t := range ordered {
		entries, err := t.IterRange(nil, nil)
		if err != nil {
			return errs.IO("compaction read", err)
		}
		sources = append(sources, &mergeSource{entries: entries, priority: priority})
		priority++
	}
	for _, t := range plan.OverlapTables {
		entries, err := t.IterRange(nil, nil)
		if err != nil {
			return errs.IO("compaction read", err)
		}
		sources = append(sources, &mergeSource{entries: entries, priority: priority})
		priority++
	}

	merged := mergeSorted(sources, plan.DropTombstones)

	var newTbl *SSTable
	if len(merged) > 0 {
		id := atomic.AddUint64(&e.nextFileID, 1) - 1
		ldir := filepath.Join(e.dir, levelDirName(plan.OutputLevel))
		if err := os.MkdirAll(ldir, 0755); err != nil {
			return errs.IO("mkdir", err)
		}
		path := filepath.Join(ldir, sstableFileName(id))
		if _, err := WriteSSTable(path, &sliceSource{entries: merged}, WriteSSTableOptions{
			Level:           plan.OutputLevel,
			ExpectedEntries: len(merged),
		}); err != nil {
			os.Remove(path)
			return errs.IO("compaction write", err)
		}
		tbl, err := OpenSSTable(path, e.opts.Cache)
		if err != nil {
			os.Remove(path)
			return err
		}
		tbl.SetSeqID(id)
		newTbl = tbl
		if info, serr := os.Stat(path); serr == nil {
			bytesWritten = info.Size()
		}
	}

	e.mu.Lock()
	e.levels[plan.SourceLevel] = removeTables(e.levels[plan.SourceLevel], plan.SourceTables)
	e.levels[plan.OutputLevel] = removeTables(e.levels[plan.OutputLevel], plan.OverlapTables)
	if newTbl != nil {
		e.levels[plan.OutputLevel] = append(e.levels[plan.OutputLevel], newTbl)
	}
	sortTablesByMinKey(e.levels[plan.OutputLevel])
	srcCount := len(e.levels[plan.SourceLevel])
	outCount := len(e.levels[plan.OutputLevel])
	e.mu.Unlock()
	e.opts.Metrics.SetLevelTableCount(plan.SourceLevel, srcCount)
	e.opts.Metrics.SetLevelTableCount(plan.OutputLevel, outCount)

	for _, t := range plan.Inputs {
		if t.Release() {
			path := t.Path()
			if err := t.Close(); err != nil {
				e.log.Warn("close compacted table", logging.Err(err))
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				e.log.Warn("remove compacted table", logging.Err(err))
			}
		}
	}
	return nil
}

func removeTables(tables, remove []*SSTable) []*SSTable {
	if len(remove) == 0 {
		return tables
	}
	drop := make(map[*SSTable]bool, len(remove))
	for _, t := range remove {
		drop[t] = true
	}
	out := tables[:0]
	for _, t := range tables {
		if !drop[t] {
			out = append(out, t)
		}
	}
	return append([]*SSTable{}, out...)
}
