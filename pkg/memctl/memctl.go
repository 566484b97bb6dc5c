// Package memctl implements the per-query memory manager: a
// process-wide buffer pool with atomically-counted aggregate usage,
// per-query budgets carved out as a fraction of the pool, and an
// allocate/spill/retry control flow for operators registered with a
// spill manager.
package memctl

import (
	"sync"
	"sync/atomic"

	"github.com/serengeti-db/serengeti/pkg/errs"
	"github.com/serengeti-db/serengeti/pkg/metrics"
)

// Outcome is the result of an allocation attempt.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeSpilled
	OutcomeOutOfMemory
)

// Pool is the process-wide buffer pool. It tracks aggregate allocated
// bytes with an atomic counter and rejects allocation once the aggregate
// would exceed capacity.
type Pool struct {
	capacity int64
	used     int64

	mu     sync.Mutex
	active int // number of live query contexts, for budget division

	// Metrics, when set, receives pool-usage gauges and OOM counts.
	// A nil registry is valid and records nothing.
	Metrics *metrics.Registry
}

// NewPool constructs a Pool with the given total byte capacity.
func NewPool(capacityBytes int64) *Pool {
	return &Pool{capacity: capacityBytes}
}

// Used returns the current aggregate allocated bytes.
func (p *Pool) Used() int64 { return atomic.LoadInt64(&p.used) }

// Capacity returns the pool's total byte capacity.
func (p *Pool) Capacity() int64 { return p.capacity }

// reserve attempts to add n bytes to the aggregate; returns false if doing
// so would exceed capacity.
func (p *Pool) reserve(n int64) bool {
	for {
		cur := atomic.LoadInt64(&p.used)
		next := cur + n
		if next > p.capacity {
			return false
		}
		if atomic.CompareAndSwapInt64(&p.used, cur, next) {
			p.Metrics.SetQueryPoolUsed(next)
			return true
		}
	}
}

func (p *Pool) release(n int64) {
	p.Metrics.SetQueryPoolUsed(atomic.AddInt64(&p.used, -n))
}

// NewQuery carves out a budget for a new query as
// pool_bytes / (active_queries + 1). Budgets are fixed at
// acquisition time; they are not renegotiated as later queries start.
func (p *Pool) NewQuery() *QueryContext {
	p.mu.Lock()
	p.active++
	active := p.active
	budget := p.capacity / int64(p.active+1)
	if budget <= 0 {
		budget = 1
	}
	p.mu.Unlock()
	p.Metrics.SetActiveQueries(active)

	return &QueryContext{
		pool:   p,
		budget: budget,
		allocs: make(map[string]int64),
		spills: make(map[string]SpillManager),
	}
}

// SpillManager lets an operator reduce its live allocation on memory
// pressure. Spill must block until enough bytes have been freed and
// report how many bytes it reclaimed.
type SpillManager interface {
	Spill(requested int64) (freed int64, err error)
}

// QueryContext is a per-query allocation ledger: budget, per-operator
// allocations, per-operator spill managers.
type QueryContext struct {
	mu       sync.Mutex
	pool     *Pool
	budget   int64
	live     int64
	spilled  int64
	released bool

	allocs map[string]int64
	spills map[string]SpillManager
}

// Budget returns the query's fixed byte budget.
func (q *QueryContext) Budget() int64 { return q.budget }

// LiveBytes returns the sum of currently live per-operator allocations.
func (q *QueryContext) LiveBytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.live
}

// SpilledBytes returns the cumulative bytes spilled across all operators.
func (q *QueryContext) SpilledBytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.spilled
}

// RegisterSpill attaches a spill manager to an operator; Allocate invokes
// it automatically on pressure.
func (q *QueryContext) RegisterSpill(op string, mgr SpillManager) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.spills[op] = mgr
}

// Allocate reserves bytes bytes for op against both the query budget and
// the process-wide pool. On pressure — either the query's own budget or
// the pool's aggregate capacity would be exceeded — it invokes op's
// registered spill manager (if any) and retries once; otherwise it
// returns OutcomeOutOfMemory and an *errs.ErrOutOfMemory-wrapped error.
func (q *QueryContext) Allocate(op string, bytes int64) (Outcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ok := q.tryReserveLocked(op, bytes); ok {
		return OutcomeOK, nil
	}

	mgr, hasSpill := q.spills[op]
	if !hasSpill {
		q.pool.Metrics.RecordOutOfMemory()
		return OutcomeOutOfMemory, errs.OutOfMemory(op, bytes, q.budget)
	}

	freed, err := mgr.Spill(bytes)
	if err != nil {
		return OutcomeOutOfMemory, errs.Spill(op, err)
	}
	if n := q.allocs[op]; freed > n {
		// A spill manager can only return bytes this operator was
		// actually charged for.
		freed = n
	}
	if freed > 0 {
		q.allocs[op] -= freed
		q.live -= freed
		q.spilled += freed
		q.pool.release(freed)
	}

	if ok := q.tryReserveLocked(op, bytes); ok {
		return OutcomeSpilled, nil
	}
	q.pool.Metrics.RecordOutOfMemory()
	return OutcomeOutOfMemory, errs.OutOfMemory(op, bytes, q.budget)
}

func (q *QueryContext) tryReserveLocked(op string, bytes int64) bool {
	if q.live+bytes > q.budget {
		return false
	}
	if !q.pool.reserve(bytes) {
		return false
	}
	q.live += bytes
	q.allocs[op] += bytes
	return true
}

// Free releases every byte currently attributed to op.
func (q *QueryContext) Free(op string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n, ok := q.allocs[op]
	if !ok {
		return
	}
	delete(q.allocs, op)
	q.live -= n
	q.pool.release(n)
}

// Release frees every remaining allocation for the query and returns its
// budget slot to the pool's active-query accounting. Safe to call once;
// subsequent calls are no-ops.
func (q *QueryContext) Release() {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return
	}
	q.released = true
	for op, n := range q.allocs {
		q.pool.release(n)
		delete(q.allocs, op)
	}
	q.live = 0
	q.mu.Unlock()

	q.pool.mu.Lock()
	if q.pool.active > 0 {
		q.pool.active--
	}
	active := q.pool.active
	q.pool.mu.Unlock()
	q.pool.Metrics.SetActiveQueries(active)
}
