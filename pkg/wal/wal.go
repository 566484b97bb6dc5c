package wal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/serengeti-db/serengeti/pkg/metrics"
)

// Future resolves once the Append it was returned from is durable under
// the configured SyncMode.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(err error) {
	f.err = err
	close(f.done)
}

// Wait blocks until the append is durable (or failed).
func (f *Future) Wait() error {
	<-f.done
	return f.err
}

// Options configures a WAL instance.
type Options struct {
	Dir              string
	SyncMode         SyncMode
	MaxSegmentBytes  int64         // rotate once the active segment exceeds this
	GroupWindow      time.Duration // GROUP: max coalescing delay
	GroupMaxBatch    int           // GROUP: flush immediately once this many appends are queued
	AsyncFlushPeriod time.Duration // ASYNC: background fsync period
	Metrics          *metrics.Registry
}

func (o *Options) setDefaults() {
	if o.MaxSegmentBytes <= 0 {
		o.MaxSegmentBytes = 64 << 20
	}
	if o.GroupWindow <= 0 {
		o.GroupWindow = 2 * time.Millisecond
	}
	if o.GroupMaxBatch <= 0 {
		o.GroupMaxBatch = 256
	}
	if o.AsyncFlushPeriod <= 0 {
		o.AsyncFlushPeriod = 10 * time.Millisecond
	}
}

// WAL is a single-writer, append-only durability journal split into
// rotating segments.
type WAL struct {
	mu      sync.Mutex
	opts    Options
	active  *segment
	sealed  []*segment // closed segments kept open read-only for replay/truncate bookkeeping
	nextSeq uint64

	pending []*Future // futures awaiting the next fsync (ASYNC and GROUP share this)

	stopCh chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// Open opens (or creates) a WAL rooted at opts.Dir, replaying nothing
// itself — callers drive recovery via Replay before issuing new Appends.
func Open(opts Options) (*WAL, error) {
	opts.setDefaults()
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}

	ids, err := listSegmentIDs(opts.Dir)
	if err != nil {
		return nil, err
	}

	w := &WAL{opts: opts, stopCh: make(chan struct{})}

	maxSeq, err := maxSequenceOnDisk(opts.Dir, ids)
	if err != nil {
		return nil, err
	}
	w.nextSeq = maxSeq

	var nextID uint64
	if len(ids) > 0 {
		nextID = ids[len(ids)-1] + 1
	}
	active, err := createSegment(opts.Dir, nextID)
	if err != nil {
		return nil, err
	}
	w.active = active

	if opts.SyncMode == SyncAsync {
		w.wg.Add(1)
		go w.asyncFlusher()
	}

	return w, nil
}

// Append frames and writes one record, assigning it the next sequence
// number. The returned Future resolves once the record is durable under
// the configured sync mode; under SyncSync it is already resolved.
func (w *WAL) Append(typ RecordType, key, value []byte) (uint64, *Future, error) {
	w.mu.Lock()

	if w.closed {
		w.mu.Unlock()
		return 0, nil, fmt.Errorf("wal: closed")
	}

	w.nextSeq++
	seq := w.nextSeq

	if err := encodeFrame(w.active.writer, seq, typ, key, value); err != nil {
		w.nextSeq--
		w.mu.Unlock()
		return 0, nil, fmt.Errorf("wal: append: %w", err)
	}
	w.active.maxSeq = seq
	w.opts.Metrics.RecordWALAppend(typ.String())

	future := newFuture()

	switch w.opts.SyncMode {
	case SyncSync:
		start := time.Now()
		err := w.active.sync()
		w.opts.Metrics.RecordWALFsync(time.Since(start))
		w.maybeRotateLocked()
		w.mu.Unlock()
		future.resolve(err)
		if err != nil {
			return seq, future, fmt.Errorf("wal: sync: %w", err)
		}
		return seq, future, nil

	case SyncGroup:
		w.pending = append(w.pending, future)
		shouldFlush := len(w.pending) >= w.opts.GroupMaxBatch
		w.mu.Unlock()
		if shouldFlush {
			w.flushGroup()
		} else {
			go w.scheduleGroupFlush()
		}
		return seq, future, nil

	default: // SyncAsync
		w.pending = append(w.pending, future)
		w.mu.Unlock()
		return seq, future, nil
	}
}

// scheduleGroupFlush waits the coalescing window then flushes whatever
// is still pending. Multiple in-flight timers racing to flush the same
// (now-empty) queue is harmless: flushGroup no-ops on an empty batch.
func (w *WAL) scheduleGroupFlush() {
	time.Sleep(w.opts.GroupWindow)
	w.flushGroup()
}

func (w *WAL) flushGroup() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = nil
	start := time.Now()
	err := w.active.sync()
	w.opts.Metrics.RecordWALFsync(time.Since(start))
	w.maybeRotateLocked()
	w.mu.Unlock()

	for _, f := range batch {
		f.resolve(err)
	}
}

func (w *WAL) asyncFlusher() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.AsyncFlushPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.flushGroup()
		case <-w.stopCh:
			w.flushGroup()
			return
		}
	}
}

// maybeRotateLocked rotates to a fresh segment if the active one has
// grown past MaxSegmentBytes. Must be called with w.mu held.
func (w *WAL) maybeRotateLocked() {
	if info, err := w.active.file.Stat(); err == nil {
		w.active.nBytes = info.Size()
	}
	if w.active.nBytes < w.opts.MaxSegmentBytes {
		return
	}
	w.rotateLocked()
}

// Rotate forces a new active segment regardless of size.
func (w *WAL) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotateLocked()
}

func (w *WAL) rotateLocked() error {
	if err := w.active.sync(); err != nil {
		return err
	}
	w.sealed = append(w.sealed, w.active)
	next, err := createSegment(w.opts.Dir, w.active.id+1)
	if err != nil {
		return err
	}
	w.active = next
	w.opts.Metrics.RecordWALRotation()
	return nil
}

// Replay scans every segment in id order, invoking visitor for each
// well-formed record. A truncated/corrupt tail on the CURRENT (last)
// segment ends replay of that segment without error (the writer may
// have crashed mid-record); a truncated/corrupt record in any earlier,
// already-sealed segment is a CorruptHeaderError — those segments must
// be wholly durable.
func Replay(dir string, visitor Visitor) error {
	ids, err := listSegmentIDs(dir)
	if err != nil {
		return err
	}
	for i, id := range ids {
		isLast := i == len(ids)-1
		if err := replaySegment(dir, id, isLast, visitor); err != nil {
			return err
		}
	}
	return nil
}

func replaySegment(dir string, id uint64, isLast bool, visitor Visitor) error {
	f, err := os.Open(segmentPath(dir, id))
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var offset int64
	for {
		rec, err := decodeFrame(r)
		if err != nil {
			if err == io.EOF {
				// The segment ends on a record boundary.
				return nil
			}
			if isLast {
				// A crash can leave a partial/corrupt record at the
				// very end of the segment being actively written;
				// that is expected and ends replay silently.
				return nil
			}
			return &CorruptHeaderError{Segment: id, Offset: offset, Cause: err}
		}
		if err := visitor(rec); err != nil {
			return err
		}
		offset += int64(frameWireSize(rec))
	}
}

// maxSequenceOnDisk finds the highest sequence number already durable
// across existing segments, so a reopened WAL continues numbering
// instead of restarting at 1 and colliding with replayed records.
func maxSequenceOnDisk(dir string, ids []uint64) (uint64, error) {
	var max uint64
	for i, id := range ids {
		isLast := i == len(ids)-1
		err := replaySegment(dir, id, isLast, func(rec Record) error {
			if rec.Sequence > max {
				max = rec.Sequence
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return max, nil
}

// frameWireSize is only used to report an approximate offset in
// CorruptHeaderError; it need not be exact.
func frameWireSize(rec Record) int {
	n := 4 + 4 + 8 + 1 + 4 + len(rec.Key)
	if rec.Type == RecordPut {
		n += 4 + len(rec.Value)
	}
	return n
}

// TruncateUpTo deletes whole sealed segments whose max sequence is below
// seq, i.e. every record in them has already been made durable in
// SSTables. The active segment is never removed by this call.
func (w *WAL) TruncateUpTo(seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.sealed[:0]
	removed := 0
	for _, s := range w.sealed {
		if s.maxSeq < seq {
			path := s.path
			if err := s.close(); err != nil {
				return err
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
			removed++
			continue
		}
		kept = append(kept, s)
	}
	w.sealed = kept
	if removed > 0 {
		w.opts.Metrics.RecordWALTruncation(removed)
	}
	return nil
}

// Close flushes and fsyncs the active segment, stops background
// workers, and closes all open file handles.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if w.opts.SyncMode != SyncSync {
		close(w.stopCh)
		w.wg.Wait()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for _, s := range w.sealed {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := w.active.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// CurrentSequence returns the most recently assigned sequence number.
func (w *WAL) CurrentSequence() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextSeq
}
