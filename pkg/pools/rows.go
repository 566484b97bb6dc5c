package pools

import "sync"

// rowPool recycles the map[string]any row objects that spill operators
// encode to disk and never touch again. Maps are cleared on Put so a
// recycled row never leaks a previous query's columns.
var rowPool = sync.Pool{
	New: func() any { return make(map[string]any, 8) },
}

// GetRow returns an empty row map.
func GetRow() map[string]any {
	return rowPool.Get().(map[string]any)
}

// PutRow clears and recycles a row map. The caller must not retain any
// reference to it.
func PutRow(m map[string]any) {
	if m == nil || len(m) > 64 {
		return
	}
	clear(m)
	rowPool.Put(m)
}
