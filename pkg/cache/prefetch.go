package cache

import "sync"

// prefetcher tracks, per key, a bounded window of the keys that were
// accessed immediately after it, and on a later hit for that key
// schedules an asynchronous load of its most frequent successors that
// are absent from both tiers.
type prefetcher struct {
	mu       sync.Mutex
	lastKey  string
	hasLast  bool
	window   int
	topK     int
	loader   Loader
	cache    *BlockCache
	succ     map[string]map[string]int // key -> successor -> frequency
	order    map[string][]string       // key -> successors in first-seen order, capped at window

	wg      sync.WaitGroup
	closing bool
}

func newPrefetcher(cache *BlockCache, loader Loader, window, topK int) *prefetcher {
	return &prefetcher{
		window: window,
		topK:   topK,
		loader: loader,
		cache:  cache,
		succ:   make(map[string]map[string]int),
		order:  make(map[string][]string),
	}
}

// onHit is called synchronously from BlockCache.Get. It must stay cheap:
// bookkeeping is O(1) amortized, and the actual prefetch load runs on a
// separate goroutine outside the caller's critical section.
func (p *prefetcher) onHit(key string) {
	p.mu.Lock()
	prev := p.lastKey
	hadPrev := p.hasLast
	p.lastKey = key
	p.hasLast = true

	if hadPrev && prev != key {
		p.recordSuccessor(prev, key)
	}

	candidates := p.topSuccessors(key)
	closing := p.closing
	p.mu.Unlock()

	if closing || p.loader == nil || len(candidates) == 0 {
		return
	}

	p.wg.Add(1)
	go p.prefetch(candidates)
}

func (p *prefetcher) recordSuccessor(from, to string) {
	m, ok := p.succ[from]
	if !ok {
		m = make(map[string]int)
		p.succ[from] = m
	}
	if _, seen := m[to]; !seen {
		order := p.order[from]
		if len(order) >= p.window {
			oldest := order[0]
			order = order[1:]
			delete(m, oldest)
		}
		p.order[from] = append(order, to)
	}
	m[to]++
}

// topSuccessors returns up to topK successor keys for key, most frequent
// first, excluding any already resident in either tier.
func (p *prefetcher) topSuccessors(key string) []string {
	m := p.succ[key]
	if len(m) == 0 {
		return nil
	}
	type scored struct {
		key   string
		count int
	}
	candidates := make([]scored, 0, len(m))
	for k, c := range m {
		if p.cache.Contains(k) {
			continue
		}
		candidates = append(candidates, scored{k, c})
	}
	// simple selection sort over a small (<=window) slice
	for i := 0; i < len(candidates) && i < p.topK; i++ {
		best := i
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].count > candidates[best].count {
				best = j
			}
		}
		candidates[i], candidates[best] = candidates[best], candidates[i]
	}
	if len(candidates) > p.topK {
		candidates = candidates[:p.topK]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.key
	}
	return out
}

func (p *prefetcher) prefetch(keys []string) {
	defer p.wg.Done()
	for _, k := range keys {
		if p.cache.Contains(k) {
			continue
		}
		if v, ok := p.loader(k); ok {
			p.cache.Put(k, v)
			p.cache.opts.Metrics.RecordCachePrefetch()
		}
	}
}

func (p *prefetcher) stop() {
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()
	p.wg.Wait()
}
