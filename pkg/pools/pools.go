// Package pools recycles the short-lived buffers the hot write paths
// churn through: SSTable block buffers and snappy scratch space, WAL
// frame encodings, and the intermediate row maps spill operators build
// and immediately discard.
package pools

import "sync"

// Byte-buffer size classes, aligned to what the engine actually
// allocates: WAL frames for typical keys/values, SSTable data blocks,
// and snappy worst-case output for a block.
var classes = []int{256, 1024, 4096, 16384, 65536}

// maxPooled caps what Put will retain; anything larger is left to the GC.
const maxPooled = 65536

// BufPool hands out zero-length byte slices with at least the requested
// capacity, recycled through per-class sync.Pools.
type BufPool struct {
	pools []sync.Pool
}

// NewBufPool constructs an empty BufPool.
func NewBufPool() *BufPool {
	p := &BufPool{pools: make([]sync.Pool, len(classes))}
	for i, size := range classes {
		size := size
		p.pools[i].New = func() any {
			b := make([]byte, 0, size)
			return &b
		}
	}
	return p
}

func classFor(size int) int {
	for i, c := range classes {
		if size <= c {
			return i
		}
	}
	return -1
}

// Get returns a zero-length slice with capacity >= size.
func (p *BufPool) Get(size int) []byte {
	i := classFor(size)
	if i < 0 {
		return make([]byte, 0, size)
	}
	bp := p.pools[i].Get().(*[]byte)
	if cap(*bp) < size {
		return make([]byte, 0, size)
	}
	return (*bp)[:0]
}

// Put recycles b for a future Get. Oversized buffers are dropped.
func (p *BufPool) Put(b []byte) {
	c := cap(b)
	if c == 0 || c > maxPooled {
		return
	}
	// File under the largest class that fits, so a Get for that class
	// never receives a too-small buffer.
	for i := len(classes) - 1; i >= 0; i-- {
		if c >= classes[i] {
			b = b[:0]
			p.pools[i].Put(&b)
			return
		}
	}
}

var sharedBufs = NewBufPool()

// GetBuf returns a buffer from the shared process-wide pool.
func GetBuf(size int) []byte { return sharedBufs.Get(size) }

// PutBuf recycles a buffer into the shared pool.
func PutBuf(b []byte) { sharedBufs.Put(b) }
