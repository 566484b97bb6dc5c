package spill

import (
	"encoding/gob"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/serengeti-db/serengeti/pkg/errs"
	"github.com/serengeti-db/serengeti/pkg/metrics"
	"github.com/serengeti-db/serengeti/pkg/pools"
)

// JoinOptions configures a partitioned hash join.
type JoinOptions struct {
	Partitions    int // P in the hash(key) mod P partitioning
	Dir           string
	QueryID, OpID string
	BuildKey      func(Row) any
	ProbeKey      func(Row) any
	// MaxResidentPartitionRows bounds how many build rows may be kept
	// in memory per partition before that partition is spilled.
	MaxResidentPartitionRows int
	Metrics                  *metrics.Registry
}

func (o *JoinOptions) setDefaults() {
	if o.Partitions <= 0 {
		o.Partitions = 16
	}
	if o.Dir == "" {
		o.Dir = os.TempDir()
	}
	if o.MaxResidentPartitionRows <= 0 {
		o.MaxResidentPartitionRows = 50_000
	}
}

func hashKey(v any, seed uint32) int {
	h := fnv.New32a()
	h.Write([]byte{byte(seed), byte(seed >> 8), byte(seed >> 16), byte(seed >> 24)})
	fmt.Fprintf(h, "%v", v)
	return int(h.Sum32())
}

// HashJoin performs a partitioned, memory-budget-aware equi-join between
// build-side and probe-side row streams, spilling partitions to disk
// under pressure instead of holding the whole build side in memory.
type HashJoin struct {
	opts JoinOptions
	dir  string
}

// NewHashJoin constructs a join operator.
func NewHashJoin(opts JoinOptions) *HashJoin {
	opts.setDefaults()
	return &HashJoin{opts: opts, dir: Dir(opts.Dir, opts.QueryID, opts.OpID)}
}

// partition holds a build-side partition, either resident in memory or
// spilled to a gob-encoded file once it exceeds MaxResidentPartitionRows.
type partition struct {
	rows    []Row // nil once spilled
	spillTo string
	f       *os.File
	enc     *gob.Encoder
	n       int
}

// Run executes the join: it partitions build by hash(BuildKey) mod P,
// spilling the largest resident partition whenever any partition exceeds
// MaxResidentPartitionRows, then streams probe rows partitioned the same
// way, matching each against its partition's hash table (resident or
// reloaded from disk). Output preserves probe-side order within each
// partition. Pairs are emitted via the yield callback.
func (j *HashJoin) Run(build, probe func(yield func(Row) bool), yield func(l, r Row) bool) error {
	defer os.RemoveAll(j.dir)

	parts, err := j.partitionBuild(build)
	if err != nil {
		return err
	}
	defer func() {
		for _, p := range parts {
			if p.f != nil {
				p.f.Close()
			}
		}
	}()

	// Bucket probe rows by the same partitioning so each partition's
	// build side is consulted exactly once.
	probeBuckets := make([][]Row, j.opts.Partitions)
	probe(func(r Row) bool {
		idx := hashKey(j.opts.ProbeKey(r), 0) % j.opts.Partitions
		if idx < 0 {
			idx += j.opts.Partitions
		}
		probeBuckets[idx] = append(probeBuckets[idx], r)
		return true
	})

	for idx, p := range parts {
		if p == nil || (len(p.rows) == 0 && p.spillTo == "") {
			continue
		}
		table, err := j.loadPartitionTable(p)
		if err != nil {
			return err
		}
		for _, r := range probeBuckets[idx] {
			key := j.opts.ProbeKey(r)
			for _, l := range table[key] {
				if !yield(l, r) {
					return nil
				}
			}
		}
	}
	return nil
}

func (j *HashJoin) partitionBuild(build func(yield func(Row) bool)) ([]*partition, error) {
	parts := make([]*partition, j.opts.Partitions)
	for i := range parts {
		parts[i] = &partition{}
	}

	var spillErr error
	build(func(r Row) bool {
		idx := hashKey(j.opts.BuildKey(r), 0) % j.opts.Partitions
		if idx < 0 {
			idx += j.opts.Partitions
		}
		p := parts[idx]
		if p.enc != nil {
			if err := p.enc.Encode(r); err != nil {
				spillErr = errs.Spill("hashjoin", err)
				return false
			}
			p.n++
			return true
		}
		p.rows = append(p.rows, r)
		p.n++
		if len(p.rows) > j.opts.MaxResidentPartitionRows {
			if err := j.spillLargest(parts); err != nil {
				spillErr = err
				return false
			}
		}
		return true
	})
	if spillErr != nil {
		return nil, spillErr
	}
	return parts, nil
}

// spillLargest finds the partition with the most resident rows and
// writes it to disk.
func (j *HashJoin) spillLargest(parts []*partition) error {
	var biggest *partition
	biggestIdx := -1
	for i, p := range parts {
		if p.enc != nil {
			continue
		}
		if biggest == nil || len(p.rows) > len(biggest.rows) {
			biggest = p
			biggestIdx = i
		}
	}
	if biggest == nil || len(biggest.rows) == 0 {
		return nil
	}

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return errs.Spill("hashjoin", err)
	}
	path := fmt.Sprintf("%s/part_%d.tmp", j.dir, biggestIdx)
	f, err := os.Create(path)
	if err != nil {
		return errs.Spill("hashjoin", err)
	}
	enc := gob.NewEncoder(f)
	for _, r := range biggest.rows {
		if err := enc.Encode(r); err != nil {
			return errs.Spill("hashjoin", err)
		}
		pools.PutRow(r)
	}
	biggest.spillTo = path
	biggest.f = f
	biggest.enc = enc
	biggest.rows = nil
	if info, err := os.Stat(path); err == nil {
		j.opts.Metrics.RecordSpill("hashjoin", info.Size())
	}
	return nil
}

// loadPartitionTable returns the in-memory hash table for a partition,
// reading it back from disk first if it was spilled.
func (j *HashJoin) loadPartitionTable(p *partition) (map[any][]Row, error) {
	table := make(map[any][]Row)
	addAll := func(rows []Row) {
		for _, r := range rows {
			k := j.opts.BuildKey(r)
			table[k] = append(table[k], r)
		}
	}
	if p.spillTo == "" {
		addAll(p.rows)
		return table, nil
	}

	if p.f != nil {
		_ = p.f.Close()
		p.f = nil
	}
	rf, err := os.Open(p.spillTo)
	if err != nil {
		return nil, errs.Spill("hashjoin", err)
	}
	defer rf.Close()
	dec := gob.NewDecoder(rf)
	for {
		var r Row
		if err := dec.Decode(&r); err != nil {
			break
		}
		k := j.opts.BuildKey(r)
		table[k] = append(table[k], r)
	}
	return table, nil
}
