// Package spill implements the spill operators: an external merge sort
// and a partitioned hash join, both materializing intermediate rows to
// disk under a per-operator spill directory. The sort writes sorted runs
// and k-way-merges them via container/heap; the hash join writes
// overflowing build partitions and reloads each into an in-memory hash
// table when its probe rows are matched.
package spill

import (
	"fmt"

	"github.com/google/uuid"
)

// Row is one intermediate tuple flowing through a spill operator: a
// tagged column map, matching the query layer's row representation.
type Row map[string]any

// Comparator orders two rows for the external sort; Less(a,b) reports
// whether a sorts strictly before b.
type Comparator func(a, b Row) bool

// Dir returns the spill directory for one operator instance, using the
// spill_<query>_<op>_<uuid> naming convention and grouping files under
// a directory per (query,op) so cleanup is a single RemoveAll.
func Dir(base, queryID, opID string) string {
	return fmt.Sprintf("%s/spill_%s_%s_%s", base, queryID, opID, uuid.NewString())
}
