package engine

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/serengeti-db/serengeti/pkg/errs"
	"github.com/serengeti-db/serengeti/pkg/fulltext"
	"github.com/serengeti-db/serengeti/pkg/lsm"
	"github.com/serengeti-db/serengeti/pkg/value"
)

// Table maps stable row ids (UUIDs) to semi-structured objects, backed
// by one LSM namespace per (database,table); the row id is the LSM key,
// the serialized object is the value.
type Table struct {
	mu sync.RWMutex

	db, name string
	lsm      *lsm.Engine
	catalog  *Catalog

	indexedCols  map[string]bool // secondary sorted-slice column index, see RANGE_SCAN/INDEX_SCAN
	fulltextCols map[string]bool
	colIndex     map[string]*columnIndex // column -> sorted (value,rowID) index, for INDEX_SCAN/RANGE_SCAN
}

// columnIndex is a simple sorted-slice secondary index over one column,
// rebuilt incrementally on write. It is intentionally not a B-tree: the
// planner only needs point/range lookup by value, not a full
// storage engine, so a sorted slice with binary search suffices and
// keeps this package's scope on the query layer, not a second LSM tree.
type columnIndex struct {
	mu      sync.RWMutex
	entries []indexEntry
}

type indexEntry struct {
	val   value.Value
	rowID uuid.UUID
}

func (ci *columnIndex) insert(v value.Value, id uuid.UUID) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	idx := sort.Search(len(ci.entries), func(i int) bool { return value.Compare(ci.entries[i].val, v) >= 0 })
	ci.entries = append(ci.entries, indexEntry{})
	copy(ci.entries[idx+1:], ci.entries[idx:])
	ci.entries[idx] = indexEntry{val: v, rowID: id}
}

func (ci *columnIndex) remove(v value.Value, id uuid.UUID) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	for i, e := range ci.entries {
		if e.rowID == id && value.Compare(e.val, v) == 0 {
			ci.entries = append(ci.entries[:i], ci.entries[i+1:]...)
			return
		}
	}
}

// equalityLookup returns every row id whose indexed value equals v.
func (ci *columnIndex) equalityLookup(v value.Value) []uuid.UUID {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	lo := sort.Search(len(ci.entries), func(i int) bool { return value.Compare(ci.entries[i].val, v) >= 0 })
	var out []uuid.UUID
	for i := lo; i < len(ci.entries) && value.Compare(ci.entries[i].val, v) == 0; i++ {
		out = append(out, ci.entries[i].rowID)
	}
	return out
}

// rangeLookup returns every row id whose indexed value satisfies the
// bound(s): loInclusive/hiInclusive control whether lo/hi are >=/<=
// (true) or >/< (false). A nil bound is unbounded on that side.
func (ci *columnIndex) rangeLookup(lo, hi *value.Value, loInclusive, hiInclusive bool) []uuid.UUID {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	start := 0
	if lo != nil {
		start = sort.Search(len(ci.entries), func(i int) bool {
			c := value.Compare(ci.entries[i].val, *lo)
			if loInclusive {
				return c >= 0
			}
			return c > 0
		})
	}
	var out []uuid.UUID
	for i := start; i < len(ci.entries); i++ {
		if hi != nil {
			c := value.Compare(ci.entries[i].val, *hi)
			if hiInclusive && c > 0 {
				break
			}
			if !hiInclusive && c >= 0 {
				break
			}
		}
		out = append(out, ci.entries[i].rowID)
	}
	return out
}

// Name returns the table's name.
func (t *Table) Name() string { return t.name }

// Insert assigns a fresh UUID to obj, persists it, and maintains every
// secondary/fulltext index touching its columns. Returns the new row id.
func (t *Table) Insert(obj map[string]value.Value) (uuid.UUID, error) {
	id := uuid.New()
	if err := t.put(id, obj); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (t *Table) put(id uuid.UUID, obj map[string]value.Value) error {
	encoded := value.Encode(value.Object(obj))
	if err := t.lsm.Put(id[:], encoded); err != nil {
		return err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	for col := range t.indexedCols {
		if v, ok := obj[col]; ok {
			t.ensureColIndexLocked(col).insert(v, id)
		}
	}
	for col := range t.fulltextCols {
		if v, ok := obj[col]; ok {
			if s, isStr := v.AsStr(); isStr {
				if idx, ok := t.catalog.fulltext.Get(t.db, t.name, col); ok {
					idx.Insert(id, s)
				}
			}
		}
	}
	return nil
}

func (t *Table) ensureColIndexLocked(col string) *columnIndex {
	ci, ok := t.colIndex[col]
	if !ok {
		ci = &columnIndex{}
		if t.colIndex == nil {
			t.colIndex = make(map[string]*columnIndex)
		}
		t.colIndex[col] = ci
	}
	return ci
}

// Get returns the row for id, or ok=false if absent/deleted.
func (t *Table) Get(id uuid.UUID) (map[string]value.Value, bool, error) {
	raw, ok, err := t.lsm.Get(id[:])
	if err != nil || !ok {
		return nil, ok, err
	}
	v, _, err := value.Decode(raw)
	if err != nil {
		return nil, false, errs.CorruptData("row decode", err)
	}
	obj, _ := v.AsObject()
	return obj, true, nil
}

// Update replaces row id's object, removing its old index postings and
// inserting the new ones.
func (t *Table) Update(id uuid.UUID, obj map[string]value.Value) error {
	old, ok, err := t.Get(id)
	if err != nil {
		return err
	}
	if ok {
		t.removeFromIndexes(id, old)
	}
	return t.put(id, obj)
}

// Delete removes row id and its index postings.
func (t *Table) Delete(id uuid.UUID) error {
	old, ok, err := t.Get(id)
	if err != nil {
		return err
	}
	if ok {
		t.removeFromIndexes(id, old)
	}
	return t.lsm.Delete(id[:])
}

func (t *Table) removeFromIndexes(id uuid.UUID, obj map[string]value.Value) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for col := range t.indexedCols {
		if v, ok := obj[col]; ok {
			if ci, ok := t.colIndex[col]; ok {
				ci.remove(v, id)
			}
		}
	}
	for col := range t.fulltextCols {
		if idx, ok := t.catalog.fulltext.Get(t.db, t.name, col); ok {
			idx.Delete(id)
		}
	}
}

// Scan returns every live row in the table. The planner's FULL_TABLE_SCAN
// plan type drives callers through this path.
func (t *Table) Scan() ([]RowWithID, error) {
	rows, err := t.lsm.Scan(nil, nil)
	if err != nil {
		return nil, err
	}
	out := make([]RowWithID, 0, len(rows))
	for _, r := range rows {
		id, err := uuid.FromBytes(r.Key)
		if err != nil {
			continue
		}
		v, _, err := value.Decode(r.Value)
		if err != nil {
			return nil, errs.CorruptData("row decode", err)
		}
		obj, _ := v.AsObject()
		out = append(out, RowWithID{ID: id, Obj: obj})
	}
	return out, nil
}

// RowWithID pairs a row's UUID with its decoded object, the unit the
// executor's post-operator pipeline operates on.
type RowWithID struct {
	ID  uuid.UUID
	Obj map[string]value.Value
}

// CreateIndex registers col as a secondary index and backfills it from
// every existing row, per CREATE INDEX DDL.
func (t *Table) CreateIndex(col string) error {
	t.mu.Lock()
	if t.indexedCols[col] {
		t.mu.Unlock()
		return errs.AlreadyExists("index", col)
	}
	t.indexedCols[col] = true
	ci := t.ensureColIndexLocked(col)
	t.mu.Unlock()

	rows, err := t.Scan()
	if err != nil {
		return err
	}
	for _, r := range rows {
		if v, ok := r.Obj[col]; ok {
			ci.insert(v, r.ID)
		}
	}
	return nil
}

// DropIndex removes a secondary index.
func (t *Table) DropIndex(col string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.indexedCols[col] {
		return errs.NotFound("index", col)
	}
	delete(t.indexedCols, col)
	delete(t.colIndex, col)
	return nil
}

// IsIndexed reports whether col has a secondary index, for the planner's
// engine-metadata input.
func (t *Table) IsIndexed(col string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.indexedCols[col]
}

// IndexedColumnSet returns a copy of the table's indexed-column set, the
// shape Optimize's TableStats.IndexedColumns expects.
func (t *Table) IndexedColumnSet() map[string]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]bool, len(t.indexedCols))
	for c := range t.indexedCols {
		out[c] = true
	}
	return out
}

// IndexedColumnNames lists every secondary-indexed column, for SHOW
// INDEXES.
func (t *Table) IndexedColumnNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.indexedCols))
	for c := range t.indexedCols {
		out = append(out, c)
	}
	return out
}

// EqualityLookup/RangeLookup expose the secondary index to the executor
// for INDEX_SCAN/RANGE_SCAN plans.
func (t *Table) EqualityLookup(col string, v value.Value) []uuid.UUID {
	t.mu.RLock()
	ci, ok := t.colIndex[col]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	return ci.equalityLookup(v)
}

func (t *Table) RangeLookup(col string, lo, hi *value.Value, loInclusive, hiInclusive bool) []uuid.UUID {
	t.mu.RLock()
	ci, ok := t.colIndex[col]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	return ci.rangeLookup(lo, hi, loInclusive, hiInclusive)
}

// CreateFulltextIndex registers col for full-text search and backfills
// it from every existing row's string value, per CREATE INDEX ... / the
// fulltext maintenance hooks.
func (t *Table) CreateFulltextIndex(col string) error {
	t.mu.Lock()
	if t.fulltextCols[col] {
		t.mu.Unlock()
		return errs.AlreadyExists("fulltext index", col)
	}
	t.fulltextCols[col] = true
	t.mu.Unlock()

	idx, err := t.catalog.fulltext.Create(t.db, t.name, col)
	if err != nil {
		return err
	}
	return idx.Rebuild(func(yield func(id uuid.UUID, text string)) error {
		rows, err := t.Scan()
		if err != nil {
			return err
		}
		for _, r := range rows {
			if v, ok := r.Obj[col]; ok {
				if s, isStr := v.AsStr(); isStr {
					yield(r.ID, s)
				}
			}
		}
		return nil
	})
}

// FulltextIndex returns the search index for col, if one exists.
func (t *Table) FulltextIndex(col string) (*fulltext.Index, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.fulltextCols[col] {
		return nil, false
	}
	return t.catalog.fulltext.Get(t.db, t.name, col)
}

// RowCount returns the table's approximate cardinality, for the
// planner's cost estimation.
func (t *Table) RowCount() (int64, error) {
	rows, err := t.Scan()
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}
