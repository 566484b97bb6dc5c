package cache

import "sync/atomic"

// BlockCache is the two-tier cache fronting SSTable block reads.
type BlockCache struct {
	opts Options
	l1   *tier
	l2   *tier
	cnt  counters

	pf *prefetcher
}

// New constructs a BlockCache with the given options.
func New(opts Options) *BlockCache {
	opts.setDefaults()
	bc := &BlockCache{
		opts: opts,
		l1:   newTier(opts.L1Bytes, opts.Policy),
		l2:   newTier(opts.L2Bytes, opts.Policy),
	}
	bc.pf = newPrefetcher(bc, opts.Loader, opts.PrefetchWindow, opts.PrefetchTopK)
	return bc
}

// smallThreshold / oversizeThreshold classify an entry's size against the
// admission rules, both expressed as fractions of L1Bytes.
func (bc *BlockCache) smallThreshold() int64  { return bc.opts.L1Bytes / 10 }
func (bc *BlockCache) oversizeThreshold() int64 { return bc.opts.L1Bytes / 4 }

// Get looks up key, consulting L1 then L2. An L2 hit is promoted into L1
// when admission approves. Every hit feeds the prefetcher's successor
// tracker and schedules an async prefetch of predicted next keys.
func (bc *BlockCache) Get(key string) ([]byte, bool) {
	if v, _, ok := bc.l1.get(key); ok {
		bc.recordHit(key, "l1")
		return v, true
	}

	if v, accesses, ok := bc.l2.get(key); ok {
		bc.recordHit(key, "l2")
		// accesses already counts this lookup; admission wants prior ones.
		if bc.admitL1(int64(len(v)), accesses-1) {
			bc.l2.remove(key)
			bc.insertL1(key, v)
		}
		return v, true
	}

	bc.recordMiss()
	return nil, false
}

func (bc *BlockCache) recordHit(key, tier string) {
	atomic.AddInt64(&bc.cnt.hits, 1)
	bc.opts.Metrics.RecordCacheHit(tier)
	bc.pf.onHit(key)
}

func (bc *BlockCache) recordMiss() {
	atomic.AddInt64(&bc.cnt.misses, 1)
	bc.opts.Metrics.RecordCacheMiss()
}

// admitL1 implements the admission rule: reject oversize entries from
// L1 outright, admit small entries unconditionally, and require at
// least two prior accesses for medium-sized ones.
func (bc *BlockCache) admitL1(size, priorAccesses int64) bool {
	if size > bc.oversizeThreshold() {
		return false
	}
	if size < bc.smallThreshold() {
		return true
	}
	return priorAccesses >= 2
}

// Put inserts value under key, routing it to L1, L2, or bypassing the
// cache entirely by size class.
func (bc *BlockCache) Put(key string, value []byte) {
	size := int64(len(value))
	if size > bc.oversizeThreshold() {
		return // oversize values bypass the cache
	}
	if size < bc.smallThreshold() {
		bc.insertL1(key, value)
		return
	}
	bc.l2.put(key, value, func(k string, v []byte, _ int64) {
		atomic.AddInt64(&bc.cnt.evictions, 1)
		bc.opts.Metrics.RecordCacheEviction("l2")
	})
}

func (bc *BlockCache) insertL1(key string, value []byte) {
	bc.l1.put(key, value, func(vk string, vv []byte, accesses int64) {
		if accesses >= bc.opts.DemoteAfterAccesses {
			bc.l2.put(vk, vv, func(string, []byte, int64) {
				atomic.AddInt64(&bc.cnt.evictions, 1)
				bc.opts.Metrics.RecordCacheEviction("l2")
			})
			return
		}
		atomic.AddInt64(&bc.cnt.evictions, 1)
		bc.opts.Metrics.RecordCacheEviction("l1")
	})
}

// Delete invalidates key in both tiers (used on overwrite/tombstone).
func (bc *BlockCache) Delete(key string) {
	bc.l1.remove(key)
	bc.l2.remove(key)
}

// Contains reports whether key is resident in either tier, without
// affecting eviction/access-count bookkeeping.
func (bc *BlockCache) Contains(key string) bool {
	return bc.l1.contains(key) || bc.l2.contains(key)
}

// Clear empties both tiers and resets counters.
func (bc *BlockCache) Clear() {
	bc.l1.clear()
	bc.l2.clear()
	atomic.StoreInt64(&bc.cnt.hits, 0)
	atomic.StoreInt64(&bc.cnt.misses, 0)
	atomic.StoreInt64(&bc.cnt.evictions, 0)
}

// Stats returns a snapshot of hit/miss/eviction counters.
func (bc *BlockCache) Stats() Stats {
	s := bc.cnt.snapshot()
	return s
}

// Close stops the background prefetcher.
func (bc *BlockCache) Close() {
	bc.pf.stop()
}
