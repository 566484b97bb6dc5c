package lsm

import (
	"bytes"
	"container/heap"
)

// mergeSource is one sorted, already-loaded input stream to the k-way
// merge below. Compaction inputs are whole tables read via IterRange,
// so unlike entrySource this carries a priority: lower index means a
// newer table, and wins on key collisions.
type mergeSource struct {
	entries  []blockEntry
	pos      int
	priority int
}

func (m *mergeSource) peek() (blockEntry, bool) {
	if m.pos >= len(m.entries) {
		return blockEntry{}, false
	}
	return m.entries[m.pos], true
}

// mergeHeap orders sources by (current key, priority) so that, for a
// given key, the newest source (lowest priority number) sorts first.
type mergeHeap []*mergeSource

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	ei, _ := h[i].peek()
	ej, _ := h[j].peek()
	c := bytes.Compare(ei.Key, ej.Key)
	if c != 0 {
		return c < 0
	}
	return h[i].priority < h[j].priority
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(*mergeSource)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeSorted performs a k-way merge of sources (ordered newest-first
// by the caller, which sets each source's priority accordingly),
// keeping only the newest version of each key. When dropTombstones is
// set — the merge reaches the bottom level or no table below it can
// still shadow the key — tombstones are dropped instead of emitted,
// so deleted data is eventually reclaimed.
func mergeSorted(sources []*mergeSource, dropTombstones bool) []blockEntry {
	h := make(mergeHeap, 0, len(sources))
	for _, s := range sources {
		if _, ok := s.peek(); ok {
			h = append(h, s)
		}
	}
	heap.Init(&h)

	var out []blockEntry
	for h.Len() > 0 {
		top := h[0]
		entry, _ := top.peek()

		// Advance and discard every source whose current key matches
		// the winner's — they are older duplicates of the same key.
		for h.Len() > 0 {
			s := h[0]
			e, _ := s.peek()
			if !bytes.Equal(e.Key, entry.Key) {
				break
			}
			s.pos++
			if _, ok := s.peek(); ok {
				heap.Fix(&h, 0)
			} else {
				heap.Pop(&h)
			}
		}

		if entry.Type == EntryTombstone && dropTombstones {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// CompactionPlan describes one compaction job: merge SourceTables (from
// SourceLevel, newest data) with OverlapTables (from OutputLevel, older
// data) and write the result to OutputLevel. Inputs is the flattened
// union, convenient for bookkeeping that doesn't care which side a
// table came from.
type CompactionPlan struct {
	SourceTables   []*SSTable
	OverlapTables  []*SSTable
	Inputs         []*SSTable
	SourceLevel    int
	OutputLevel    int
	DropTombstones bool
}

func newCompactionPlan(sourceLevel, outputLevel int, source, overlap []*SSTable, dropTombstones bool) *CompactionPlan {
	return &CompactionPlan{
		SourceTables:   source,
		OverlapTables:  overlap,
		Inputs:         append(append([]*SSTable{}, source...), overlap...),
		SourceLevel:    sourceLevel,
		OutputLevel:    outputLevel,
		DropTombstones: dropTombstones,
	}
}

// CompactionOptions configures trigger thresholds.
type CompactionOptions struct {
	L0CompactionTrigger int
	LevelSizeMultiplier int
	BaseLevelBytes       int64
}

func (o *CompactionOptions) setDefaults() {
	if o.L0CompactionTrigger <= 0 {
		o.L0CompactionTrigger = 4
	}
	if o.LevelSizeMultiplier <= 0 {
		o.LevelSizeMultiplier = 10
	}
	if o.BaseLevelBytes <= 0 {
		o.BaseLevelBytes = 64 << 20
	}
}

func levelTargetBytes(opts CompactionOptions, level int) int64 {
	target := opts.BaseLevelBytes
	for i := 1; i < level; i++ {
		target *= int64(opts.LevelSizeMultiplier)
	}
	return target
}

func levelBytes(tables []*SSTable) int64 {
	var total int64
	for _, t := range tables {
		total += t.size
	}
	return total
}

func maxLevel(levels map[int][]*SSTable) int {
	max := 0
	for l, tables := range levels {
		if len(tables) > 0 && l > max {
			max = l
		}
	}
	return max
}

func overlappingTables(tables []*SSTable, lo, hi []byte) []*SSTable {
	var out []*SSTable
	for _, t := range tables {
		if t.Overlaps(lo, hi) {
			out = append(out, t)
		}
	}
	return out
}

func rangeOf(tables []*SSTable) (lo, hi []byte) {
	for _, t := range tables {
		if lo == nil || bytes.Compare(t.MinKey(), lo) < 0 {
			lo = t.MinKey()
		}
		if hi == nil || bytes.Compare(t.MaxKey(), hi) > 0 {
			hi = t.MaxKey()
		}
	}
	return lo, hi
}

// chooseCompaction implements the two trigger rules:
// L0 compacts by file count (merging all of L0 plus whatever it
// overlaps in L1); every other level compacts by byte size against
// the next level, picking the oldest table in that level as the
// seed input.
func chooseCompaction(levels map[int][]*SSTable, opts CompactionOptions) *CompactionPlan {
	opts.setDefaults()
	top := maxLevel(levels)

	if len(levels[0]) >= opts.L0CompactionTrigger {
		lo, hi := rangeOf(levels[0])
		overlap := overlappingTables(levels[1], lo, hi)
		source := append([]*SSTable{}, levels[0]...)
		return newCompactionPlan(0, 1, source, overlap, top <= 1)
	}

	const maxScanLevels = 6
	for level := 1; level <= maxScanLevels; level++ {
		if levelBytes(levels[level]) <= levelTargetBytes(opts, level) {
			continue
		}
		seed := oldestTable(levels[level])
		if seed == nil {
			continue
		}
		overlap := overlappingTables(levels[level+1], seed.MinKey(), upperBound(seed.MaxKey()))
		return newCompactionPlan(level, level+1, []*SSTable{seed}, overlap, level+1 >= top)
	}
	return nil
}

// upperBound nudges a MaxKey into an exclusive upper bound for Overlaps,
// which treats hi as exclusive; appending a zero byte keeps every key
// with maxKey as a strict prefix "in range" without pulling in keys
// that sort strictly after it by more than that.
func upperBound(maxKey []byte) []byte {
	return append(append([]byte{}, maxKey...), 0x00)
}

func oldestTable(tables []*SSTable) *SSTable {
	if len(tables) == 0 {
		return nil
	}
	oldest := tables[0]
	for _, t := range tables[1:] {
		if t.seqID < oldest.seqID {
			oldest = t
		}
	}
	return oldest
}
