package lsm

import (
	"os"

	"github.com/golang/snappy"

	"github.com/serengeti-db/serengeti/pkg/pools"
)

// entrySource yields entries in strictly increasing key order. MemTable
// flush and compaction merges both implement it.
type entrySource interface {
	Next() (blockEntry, bool)
}

// sliceSource adapts an in-memory slice (e.g. a frozen MemTable's sorted
// entries) into an entrySource.
type sliceSource struct {
	entries []blockEntry
	pos     int
}

func (s *sliceSource) Next() (blockEntry, bool) {
	if s.pos >= len(s.entries) {
		return blockEntry{}, false
	}
	e := s.entries[s.pos]
	s.pos++
	return e, true
}

// memTableSource converts frozen MemTable entries into an entrySource.
func memTableSource(entries []*MemEntry) entrySource {
	conv := make([]blockEntry, len(entries))
	for i, e := range entries {
		typ := EntryPut
		if e.Tombstone {
			typ = EntryTombstone
		}
		conv[i] = blockEntry{Key: e.Key, Type: typ, Seq: e.Sequence, Value: e.Value}
	}
	return &sliceSource{entries: conv}
}

const defaultTargetBlockBytes = 4096
const defaultBloomFPR = 0.01

// WriteSSTableOptions configures a flush/compaction output file.
type WriteSSTableOptions struct {
	Level            int
	TargetBlockBytes int
	BloomFPR         float64
	ExpectedEntries  int
}

func (o *WriteSSTableOptions) setDefaults() {
	if o.TargetBlockBytes <= 0 {
		o.TargetBlockBytes = defaultTargetBlockBytes
	}
	if o.BloomFPR <= 0 {
		o.BloomFPR = defaultBloomFPR
	}
	if o.ExpectedEntries <= 0 {
		o.ExpectedEntries = 1024
	}
}

// WriteSSTable consumes src in sorted order and writes one SSTable file
// to path.
func WriteSSTable(path string, src entrySource, opts WriteSSTableOptions) (*Footer, error) {
	opts.setDefaults()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bloom := NewBloomFilter(opts.ExpectedEntries, opts.BloomFPR)

	var index []IndexEntry
	var minKey, maxKey []byte
	var entryCount uint64
	var offset int64

	blockBuf := pools.GetBuf(opts.TargetBlockBytes)
	defer func() { pools.PutBuf(blockBuf) }()
	var blockFirstKey []byte

	flushBlock := func() error {
		if len(blockBuf) == 0 {
			return nil
		}
		scratch := pools.GetBuf(snappy.MaxEncodedLen(len(blockBuf)))
		compressed := snappy.Encode(scratch[:cap(scratch)], blockBuf)
		n, err := f.Write(compressed)
		pools.PutBuf(scratch)
		if err != nil {
			return err
		}
		index = append(index, IndexEntry{
			FirstKey: blockFirstKey,
			Offset:   uint64(offset),
			Length:   uint64(n),
		})
		offset += int64(n)
		blockBuf = blockBuf[:0]
		blockFirstKey = nil
		return nil
	}

	for {
		e, ok := src.Next()
		if !ok {
			break
		}
		bloom.Add(e.Key)
		entryCount++
		if minKey == nil {
			minKey = append([]byte(nil), e.Key...)
		}
		maxKey = append([]byte(nil), e.Key...)

		if blockFirstKey == nil {
			blockFirstKey = append([]byte(nil), e.Key...)
		}
		blockBuf = encodeBlockEntry(blockBuf, e)
		if len(blockBuf) >= opts.TargetBlockBytes {
			if err := flushBlock(); err != nil {
				return nil, err
			}
		}
	}
	if err := flushBlock(); err != nil {
		return nil, err
	}

	minKeyOff := uint64(offset)
	if _, err := f.Write(minKey); err != nil {
		return nil, err
	}
	offset += int64(len(minKey))

	maxKeyOff := uint64(offset)
	if _, err := f.Write(maxKey); err != nil {
		return nil, err
	}
	offset += int64(len(maxKey))

	indexBytes := encodeIndex(index)
	indexOff := uint64(offset)
	if _, err := f.Write(indexBytes); err != nil {
		return nil, err
	}
	offset += int64(len(indexBytes))

	bloomBytes := encodeBloom(bloom)
	bloomOff := uint64(offset)
	if _, err := f.Write(bloomBytes); err != nil {
		return nil, err
	}

	footer := Footer{
		Magic:      sstableMagic,
		Version:    sstableVers,
		Level:      uint32(opts.Level),
		EntryCount: entryCount,
		MinKeyOff:  minKeyOff,
		MinKeyLen:  uint32(len(minKey)),
		MaxKeyOff:  maxKeyOff,
		MaxKeyLen:  uint32(len(maxKey)),
		IndexOff:   indexOff,
		IndexLen:   uint64(len(indexBytes)),
		BloomOff:   bloomOff,
		BloomLen:   uint64(len(bloomBytes)),
	}
	if _, err := f.Write(encodeFooter(footer)); err != nil {
		return nil, err
	}
	if err := f.Sync(); err != nil {
		return nil, err
	}
	return &footer, nil
}
