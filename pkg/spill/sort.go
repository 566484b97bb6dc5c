package spill

import (
	"container/heap"
	"encoding/gob"
	"fmt"
	"os"
	"sort"

	"github.com/serengeti-db/serengeti/pkg/errs"
	"github.com/serengeti-db/serengeti/pkg/metrics"
	"github.com/serengeti-db/serengeti/pkg/pools"
)

func init() {
	// Concrete value types the query layer puts in a Row; gob needs these
	// registered to decode a map[string]any.
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register("")
	gob.Register(false)
	gob.Register([]byte(nil))
}

// SortOptions configures an external merge sort.
type SortOptions struct {
	MaxRowsPerChunk int
	Dir             string // spill base; chunk_N.tmp files go in a spill_<query>_<op>_<uuid> dir under it
	QueryID, OpID   string
	Less            Comparator
	Metrics         *metrics.Registry
}

func (o *SortOptions) setDefaults() {
	if o.MaxRowsPerChunk <= 0 {
		o.MaxRowsPerChunk = 10_000
	}
	if o.Dir == "" {
		o.Dir = os.TempDir()
	}
}

// ExternalSort accumulates rows in bounded in-memory chunks, spilling each
// sorted chunk to a file once it reaches MaxRowsPerChunk, then produces a
// single ascending stream via k-way merge on Finish.
type ExternalSort struct {
	opts    SortOptions
	current []Row
	files   []string
	dir     string
}

// NewExternalSort constructs a sort operator; the spill directory is
// created lazily on first spill.
func NewExternalSort(opts SortOptions) *ExternalSort {
	opts.setDefaults()
	return &ExternalSort{opts: opts, dir: Dir(opts.Dir, opts.QueryID, opts.OpID)}
}

// Add appends one row to the current in-memory chunk, spilling it to disk
// once the chunk reaches MaxRowsPerChunk.
func (s *ExternalSort) Add(row Row) error {
	s.current = append(s.current, row)
	if len(s.current) >= s.opts.MaxRowsPerChunk {
		return s.spillCurrent()
	}
	return nil
}

// SpillResident sorts and writes the current in-memory chunk to a spill
// file, returning how many rows moved to disk. Callers driving the sort
// under a memory budget use this as the spill-manager hook; zero means
// nothing was resident.
func (s *ExternalSort) SpillResident() (int, error) {
	n := len(s.current)
	if n == 0 {
		return 0, nil
	}
	if err := s.spillCurrent(); err != nil {
		return 0, err
	}
	return n, nil
}

// SpillFileCount reports how many chunk files have been written so far.
func (s *ExternalSort) SpillFileCount() int { return len(s.files) }

func (s *ExternalSort) spillCurrent() error {
	if len(s.current) == 0 {
		return nil
	}
	sort.Slice(s.current, func(i, j int) bool { return s.opts.Less(s.current[i], s.current[j]) })

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errs.Spill("sort", err)
	}
	path := fmt.Sprintf("%s/chunk_%d.tmp", s.dir, len(s.files))
	f, err := os.Create(path)
	if err != nil {
		return errs.Spill("sort", err)
	}
	defer f.Close()

	enc := gob.NewEncoder(f)
	for _, row := range s.current {
		if err := enc.Encode(row); err != nil {
			return errs.Spill("sort", err)
		}
		// Once on disk the row map is never read again.
		pools.PutRow(row)
	}
	s.files = append(s.files, path)
	s.current = s.current[:0]
	if info, err := os.Stat(path); err == nil {
		s.opts.Metrics.RecordSpill("sort", info.Size())
	}
	return nil
}

// Finish sorts any remaining in-memory rows and returns an ascending
// iterator merging every spilled file with the final in-memory chunk. If
// nothing was ever spilled, the iterator streams purely from memory.
func (s *ExternalSort) Finish() (*SortIterator, error) {
	sort.Slice(s.current, func(i, j int) bool { return s.opts.Less(s.current[i], s.current[j]) })

	if len(s.files) == 0 {
		return &SortIterator{memRows: s.current, less: s.opts.Less}, nil
	}

	it := &SortIterator{less: s.opts.Less, files: append([]string(nil), s.files...)}
	if err := it.open(s.current); err != nil {
		return nil, err
	}
	return it, nil
}

// Cleanup removes every spill file created by this operator, on both
// the success and failure paths.
func (s *ExternalSort) Cleanup() {
	_ = os.RemoveAll(s.dir)
}

// sortSource is one open spill-file or the final in-memory chunk feeding
// the merge heap.
type sortSource struct {
	rows []Row
	pos  int
	dec  *gob.Decoder
	f    *os.File
	cur  Row
	ok   bool
}

func (s *sortSource) next() {
	if s.dec != nil {
		var r Row
		if err := s.dec.Decode(&r); err != nil {
			s.ok = false
			return
		}
		s.cur, s.ok = r, true
		return
	}
	if s.pos < len(s.rows) {
		s.cur, s.ok = s.rows[s.pos], true
		s.pos++
		return
	}
	s.ok = false
}

type sortHeap struct {
	sources []*sortSource
	less    Comparator
}

func (h sortHeap) Len() int            { return len(h.sources) }
func (h sortHeap) Less(i, j int) bool  { return h.less(h.sources[i].cur, h.sources[j].cur) }
func (h sortHeap) Swap(i, j int)       { h.sources[i], h.sources[j] = h.sources[j], h.sources[i] }
func (h *sortHeap) Push(x any)         { h.sources = append(h.sources, x.(*sortSource)) }
func (h *sortHeap) Pop() any {
	old := h.sources
	n := len(old)
	item := old[n-1]
	h.sources = old[:n-1]
	return item
}

// SortIterator streams the merged, non-decreasing output of an
// ExternalSort, k-way merging all spilled files with the in-memory tail.
type SortIterator struct {
	less    Comparator
	files   []string
	openFds []*os.File
	memRows []Row
	h       sortHeap
	started bool
}

func (it *SortIterator) open(memTail []Row) error {
	h := sortHeap{less: it.less}
	for _, path := range it.files {
		f, err := os.Open(path)
		if err != nil {
			return errs.Spill("sort", err)
		}
		it.openFds = append(it.openFds, f)
		src := &sortSource{dec: gob.NewDecoder(f), f: f}
		src.next()
		if src.ok {
			h.sources = append(h.sources, src)
		}
	}
	if len(memTail) > 0 {
		src := &sortSource{rows: memTail}
		src.next()
		if src.ok {
			h.sources = append(h.sources, src)
		}
	}
	heap.Init(&h)
	it.h = h
	it.started = true
	return nil
}

// Next returns the next row in ascending order, or ok=false when
// exhausted.
func (it *SortIterator) Next() (Row, bool) {
	if !it.started {
		// Pure in-memory path (Finish never spilled).
		if len(it.memRows) == 0 {
			return nil, false
		}
		row := it.memRows[0]
		it.memRows = it.memRows[1:]
		return row, true
	}
	if it.h.Len() == 0 {
		return nil, false
	}
	top := it.h.sources[0]
	row := top.cur
	top.next()
	if top.ok {
		heap.Fix(&it.h, 0)
	} else {
		heap.Pop(&it.h)
	}
	return row, true
}

// Close releases open spill-file descriptors. It does not delete files;
// call ExternalSort.Cleanup for that.
func (it *SortIterator) Close() {
	for _, f := range it.openFds {
		_ = f.Close()
	}
}
