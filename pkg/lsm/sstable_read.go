package lsm

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"github.com/golang/snappy"
	"golang.org/x/exp/mmap"

	"github.com/serengeti-db/serengeti/pkg/cache"
	"github.com/serengeti-db/serengeti/pkg/errs"
)

// SSTable is an immutable, mmap-backed sorted run: blocks are read and
// decompressed lazily through the shared block cache, while the footer,
// index, and bloom filter stay resident.
type SSTable struct {
	path    string
	reader  *mmap.ReaderAt
	size    int64
	footer  Footer
	index   []IndexEntry
	bloom   *BloomFilter
	minKey  []byte
	maxKey  []byte
	cache   *cache.BlockCache // shared L1/L2 block cache, may be nil
	seqID   uint64            // monotonic creation order, assigned by the engine

	refs int32 // snapshot refcount; file is unlinked once it reaches 0
}

// SetSeqID records this table's creation order. The engine assigns a
// monotonically increasing id to every flushed or compacted file so
// compaction can identify the oldest table in a level without relying
// on filesystem mtimes.
func (s *SSTable) SetSeqID(id uint64) { s.seqID = id }
func (s *SSTable) SeqID() uint64      { return s.seqID }

// OpenSSTable mmaps path and loads its footer, index, and bloom filter
// into memory; data blocks are read lazily and decompressed on demand.
func OpenSSTable(path string, blockCache *cache.BlockCache) (*SSTable, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		reader.Close()
		return nil, err
	}
	size := info.Size()
	if size < footerSize {
		reader.Close()
		return nil, fmt.Errorf("sstable: %s too small", path)
	}

	footerBuf := make([]byte, footerSize)
	if _, err := reader.ReadAt(footerBuf, size-footerSize); err != nil {
		reader.Close()
		return nil, err
	}
	footer, err := decodeFooter(footerBuf)
	if err != nil {
		reader.Close()
		return nil, err
	}

	minKey := make([]byte, footer.MinKeyLen)
	if footer.MinKeyLen > 0 {
		if _, err := reader.ReadAt(minKey, int64(footer.MinKeyOff)); err != nil {
			reader.Close()
			return nil, err
		}
	}
	maxKey := make([]byte, footer.MaxKeyLen)
	if footer.MaxKeyLen > 0 {
		if _, err := reader.ReadAt(maxKey, int64(footer.MaxKeyOff)); err != nil {
			reader.Close()
			return nil, err
		}
	}

	indexBuf := make([]byte, footer.IndexLen)
	if footer.IndexLen > 0 {
		if _, err := reader.ReadAt(indexBuf, int64(footer.IndexOff)); err != nil {
			reader.Close()
			return nil, err
		}
	}
	index, err := decodeIndex(indexBuf)
	if err != nil {
		reader.Close()
		return nil, err
	}

	bloomBuf := make([]byte, footer.BloomLen)
	if footer.BloomLen > 0 {
		if _, err := reader.ReadAt(bloomBuf, int64(footer.BloomOff)); err != nil {
			reader.Close()
			return nil, err
		}
	}
	bloom, err := decodeBloom(bloomBuf)
	if err != nil {
		reader.Close()
		return nil, err
	}

	return &SSTable{
		path:   path,
		reader: reader,
		size:   size,
		footer: footer,
		index:  index,
		bloom:  bloom,
		minKey: minKey,
		maxKey: maxKey,
		cache:  blockCache,
		refs:   1,
	}, nil
}

func (s *SSTable) Level() int      { return int(s.footer.Level) }
func (s *SSTable) EntryCount() int { return int(s.footer.EntryCount) }
func (s *SSTable) MinKey() []byte  { return s.minKey }
func (s *SSTable) MaxKey() []byte  { return s.maxKey }
func (s *SSTable) Path() string    { return s.path }

// Overlaps reports whether [lo,hi) intersects this table's key range.
func (s *SSTable) Overlaps(lo, hi []byte) bool {
	if hi != nil && bytes.Compare(s.minKey, hi) >= 0 {
		return false
	}
	if lo != nil && bytes.Compare(s.maxKey, lo) < 0 {
		return false
	}
	return true
}

// Retain/Release implement snapshot refcounting: a table becomes
// eligible for unlink only once its refcount hits 0.
func (s *SSTable) Retain() { atomic.AddInt32(&s.refs, 1) }

func (s *SSTable) Release() (shouldUnlink bool) {
	return atomic.AddInt32(&s.refs, -1) == 0
}

// Close closes the mmap handle. Callers must have already ensured the
// refcount reached zero (or that the table is simply being closed down
// with the engine, not deleted).
func (s *SSTable) Close() error {
	return s.reader.Close()
}

// Get consults the bloom filter, then binary-searches the block index
// and the decoded block. A block that cannot be read or decoded fails
// the read rather than reporting not-found.
func (s *SSTable) Get(key []byte) (value []byte, tombstone bool, seq uint64, found bool, err error) {
	if !s.bloom.MayContain(key) {
		return nil, false, 0, false, nil
	}
	blockIdx := s.findBlock(key)
	if blockIdx < 0 {
		return nil, false, 0, false, nil
	}
	entries, err := s.loadBlock(blockIdx)
	if err != nil {
		return nil, false, 0, false, err
	}
	i := sort.Search(len(entries), func(i int) bool {
		return bytes.Compare(entries[i].Key, key) >= 0
	})
	if i >= len(entries) || !bytes.Equal(entries[i].Key, key) {
		return nil, false, 0, false, nil
	}
	e := entries[i]
	return e.Value, e.Type == EntryTombstone, e.Seq, true, nil
}

// findBlock returns the index of the last block whose FirstKey <= key,
// or -1 if key is smaller than every block's first key.
func (s *SSTable) findBlock(key []byte) int {
	idx := sort.Search(len(s.index), func(i int) bool {
		return bytes.Compare(s.index[i].FirstKey, key) > 0
	})
	return idx - 1
}

func (s *SSTable) loadBlock(i int) ([]blockEntry, error) {
	ie := s.index[i]
	cacheKey := fmt.Sprintf("%s#%d", s.path, ie.Offset)
	if s.cache != nil {
		if raw, ok := s.cache.Get(cacheKey); ok {
			return decodeBlock(raw)
		}
	}

	compressed := make([]byte, ie.Length)
	if _, err := s.reader.ReadAt(compressed, int64(ie.Offset)); err != nil {
		return nil, errs.IO("sstable block read", err)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, errs.CorruptData(s.path, err)
	}
	if s.cache != nil {
		s.cache.Put(cacheKey, raw)
	}
	return decodeBlock(raw)
}

// IterRange streams entries (including tombstones) with lo <= key < hi
// in ascending order.
func (s *SSTable) IterRange(lo, hi []byte) ([]blockEntry, error) {
	startBlock := 0
	if lo != nil {
		b := s.findBlock(lo)
		if b > 0 {
			startBlock = b
		}
	}
	var out []blockEntry
	for i := startBlock; i < len(s.index); i++ {
		entries, err := s.loadBlock(i)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if lo != nil && bytes.Compare(e.Key, lo) < 0 {
				continue
			}
			if hi != nil && bytes.Compare(e.Key, hi) >= 0 {
				return out, nil
			}
			out = append(out, e)
		}
	}
	return out, nil
}
