package query

import (
	"github.com/serengeti-db/serengeti/pkg/engine"
	"github.com/serengeti-db/serengeti/pkg/value"
)

// execInsert builds a row object from the INSERT's column/value lists
// and persists it under a fresh row id.
func (ex *Executor) execInsert(stmt *Statement) (*Result, error) {
	t, err := ex.resolveTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	obj := make(map[string]value.Value, len(stmt.InsertColumns))
	for i, col := range stmt.InsertColumns {
		obj[col] = literalToValue(stmt.InsertValues[i])
	}
	id, err := t.Insert(obj)
	if err != nil {
		return nil, err
	}
	row := make(map[string]value.Value, len(obj)+1)
	for k, v := range obj {
		row[k] = v
	}
	row[rowIDField] = value.Str(id.String())
	return &Result{Executed: true, Rows: []map[string]value.Value{row}}, nil
}

// matchingRows scans t and returns every row satisfying pred, or every
// row when pred is nil.
func (ex *Executor) matchingRows(t *engine.Table, pred *Predicate) ([]engine.RowWithID, error) {
	rows, err := t.Scan()
	if err != nil {
		return nil, err
	}
	if pred == nil {
		return rows, nil
	}
	match, err := ex.predicateMatcher(t, pred)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, r := range rows {
		if match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// execUpdate applies SET assignments to every row matching WHERE (or
// every row, when WHERE is absent).
func (ex *Executor) execUpdate(stmt *Statement) (*Result, error) {
	t, err := ex.resolveTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	rows, err := ex.matchingRows(t, stmt.Where)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		updated := make(map[string]value.Value, len(r.Obj))
		for k, v := range r.Obj {
			updated[k] = v
		}
		for i, col := range stmt.SetColumns {
			updated[col] = literalToValue(stmt.SetValues[i])
		}
		if err := t.Update(r.ID, updated); err != nil {
			return nil, err
		}
	}
	return &Result{Executed: true, Rows: []map[string]value.Value{{"updated": value.Int(int64(len(rows)))}}}, nil
}

// execDelete removes every row matching WHERE, or every row when WHERE
// is absent. The predicate is a single `col op val` with any operator
// SELECT accepts; SELECT's AND-ed second predicate is not available.
func (ex *Executor) execDelete(stmt *Statement) (*Result, error) {
	t, err := ex.resolveTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	rows, err := ex.matchingRows(t, stmt.Where)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if err := t.Delete(r.ID); err != nil {
			return nil, err
		}
	}
	return &Result{Executed: true, Rows: []map[string]value.Value{{"deleted": value.Int(int64(len(rows)))}}}, nil
}

func (ex *Executor) execCreateDatabase(stmt *Statement) (*Result, error) {
	if err := ex.catalog.CreateDatabase(stmt.Name); err != nil {
		return nil, err
	}
	return &Result{Executed: true}, nil
}

func (ex *Executor) execDropDatabase(stmt *Statement) (*Result, error) {
	if err := ex.catalog.DropDatabase(stmt.Name); err != nil {
		return nil, err
	}
	return &Result{Executed: true}, nil
}

func (ex *Executor) execCreateTable(stmt *Statement) (*Result, error) {
	if _, err := ex.catalog.CreateTable(stmt.Table.Database, stmt.Table.Table); err != nil {
		return nil, err
	}
	return &Result{Executed: true}, nil
}

func (ex *Executor) execDropTable(stmt *Statement) (*Result, error) {
	if err := ex.catalog.DropTable(stmt.Table.Database, stmt.Table.Table); err != nil {
		return nil, err
	}
	return &Result{Executed: true}, nil
}

func (ex *Executor) execCreateIndex(stmt *Statement) (*Result, error) {
	t, err := ex.resolveTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	if err := t.CreateIndex(stmt.IndexColumn); err != nil {
		return nil, err
	}
	return &Result{Executed: true}, nil
}

func (ex *Executor) execDropIndex(stmt *Statement) (*Result, error) {
	t, err := ex.resolveTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	if err := t.DropIndex(stmt.IndexColumn); err != nil {
		return nil, err
	}
	return &Result{Executed: true}, nil
}
