package query

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/serengeti-db/serengeti/pkg/engine"
	"github.com/serengeti-db/serengeti/pkg/errs"
	"github.com/serengeti-db/serengeti/pkg/fulltext"
	"github.com/serengeti-db/serengeti/pkg/memctl"
	"github.com/serengeti-db/serengeti/pkg/metrics"
	"github.com/serengeti-db/serengeti/pkg/pools"
	"github.com/serengeti-db/serengeti/pkg/spill"
	"github.com/serengeti-db/serengeti/pkg/value"
)

// Result is the outcome of executing one statement, matching the query
// endpoint's {executed, error?, explain?, list?} response shape.
type Result struct {
	Executed bool
	Rows     []map[string]value.Value
	List     []string // SHOW DATABASES / TABLES / INDEXES
	Plan     *Plan    // populated whenever a Plan was computed, for EXPLAIN
}

const rowIDField = "_row_id"

// relevanceField carries each row's cumulative TF-IDF score on
// index-backed CONTAINS results.
const relevanceField = "__relevance"

// Executor ties the parser and optimizer to live storage: it resolves
// table metadata for Optimize, runs the chosen scan or join, and drives
// the post-operator pipeline, charging intermediates against a
// per-query pkg/memctl budget and spilling through pkg/spill once that
// budget is exceeded.
type Executor struct {
	catalog  *engine.Catalog
	spillDir string

	// Metrics, when set, receives per-statement counters and latency.
	// A nil registry records nothing.
	Metrics *metrics.Registry

	// QueryTimeout bounds each statement's wall time; zero means no
	// limit. On expiry the statement fails with errs.ErrTimeout.
	QueryTimeout time.Duration
}

// NewExecutor constructs an Executor over catalog, spilling ORDER BY and
// JOIN intermediates under spillDir.
func NewExecutor(catalog *engine.Catalog, spillDir string) *Executor {
	return &Executor{catalog: catalog, spillDir: spillDir}
}

// Execute parses and runs one statement end to end with no caller
// cancellation (the configured QueryTimeout still applies).
func (ex *Executor) Execute(src string) (*Result, error) {
	return ex.ExecuteContext(context.Background(), src)
}

// ExecuteContext parses and runs one statement, honoring ctx: the
// executor checks it at operator boundaries and the statement fails
// with errs.ErrCancelled (or errs.ErrTimeout on deadline expiry).
func (ex *Executor) ExecuteContext(ctx context.Context, src string) (*Result, error) {
	stmt, err := Parse(src)
	if err != nil {
		ex.Metrics.RecordParseError()
		return nil, err
	}

	start := time.Now()
	res, err := ex.ExecuteStatementContext(ctx, stmt)
	status := "ok"
	rows := 0
	if err != nil {
		status = "error"
	} else {
		rows = len(res.Rows)
	}
	ex.Metrics.RecordQuery(stmt.Type.String(), status, time.Since(start), rows)
	return res, err
}

// ExecuteStatement runs an already-parsed Statement, the entry point for
// callers (e.g. a join built programmatically) that bypass Parse.
func (ex *Executor) ExecuteStatement(stmt *Statement) (*Result, error) {
	return ex.ExecuteStatementContext(context.Background(), stmt)
}

// checkCtx maps a signaled context to the error taxonomy: deadline
// expiry is a Timeout, everything else a Cancelled.
func checkCtx(ctx context.Context, where string) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return errs.Timeout(where)
	default:
		return errs.Cancelled(where)
	}
}

func (ex *Executor) ExecuteStatementContext(ctx context.Context, stmt *Statement) (*Result, error) {
	if ex.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ex.QueryTimeout)
		defer cancel()
	}
	if err := checkCtx(ctx, "execute"); err != nil {
		return nil, err
	}

	qctx := ex.catalog.MemPool().NewQuery()
	defer qctx.Release()

	switch stmt.Type {
	case StmtSelect:
		return ex.execSelect(ctx, stmt, qctx)
	case StmtInsert:
		return ex.execInsert(stmt)
	case StmtUpdate:
		return ex.execUpdate(stmt)
	case StmtDelete:
		return ex.execDelete(stmt)
	case StmtCreateDatabase:
		return ex.execCreateDatabase(stmt)
	case StmtDropDatabase:
		return ex.execDropDatabase(stmt)
	case StmtCreateTable:
		return ex.execCreateTable(stmt)
	case StmtDropTable:
		return ex.execDropTable(stmt)
	case StmtCreateIndex:
		return ex.execCreateIndex(stmt)
	case StmtDropIndex:
		return ex.execDropIndex(stmt)
	case StmtShowDatabases:
		return &Result{Executed: true, List: ex.catalog.Databases()}, nil
	case StmtShowTables:
		db, ok := ex.catalog.Database(stmt.Table.Database)
		if !ok {
			return nil, errs.NotFound("database", stmt.Table.Database)
		}
		return &Result{Executed: true, List: db.Tables()}, nil
	case StmtShowIndexes:
		t, err := ex.resolveTable(stmt.Table)
		if err != nil {
			return nil, err
		}
		return &Result{Executed: true, List: t.IndexedColumnNames()}, nil
	default:
		return nil, &errs.PlanError{Message: "unsupported statement type"}
	}
}

func (ex *Executor) resolveTable(ref TableRef) (*engine.Table, error) {
	db, ok := ex.catalog.Database(ref.Database)
	if !ok {
		return nil, errs.NotFound("database", ref.Database)
	}
	t, ok := db.Table(ref.Table)
	if !ok {
		return nil, errs.NotFound("table", ref.Table)
	}
	return t, nil
}

func tableStatsFor(t *engine.Table) (TableStats, error) {
	n, err := t.RowCount()
	if err != nil {
		return TableStats{}, err
	}
	return TableStats{RowCount: n, IndexedColumns: t.IndexedColumnSet()}, nil
}

// execSelect resolves table metadata, asks Optimize for a Plan, runs the
// chosen scan/join, then drives the post-operator pipeline.
func (ex *Executor) execSelect(ctx context.Context, stmt *Statement, qctx *memctl.QueryContext) (*Result, error) {
	t, err := ex.resolveTable(stmt.Table)
	if err != nil {
		return nil, err
	}
	key := stmt.Table.Database + "." + stmt.Table.Table
	st, err := tableStatsFor(t)
	if err != nil {
		return nil, err
	}
	stats := map[string]TableStats{key: st}

	var joinTable *engine.Table
	if stmt.Join != nil {
		joinTable, err = ex.resolveTable(*stmt.Join)
		if err != nil {
			return nil, err
		}
		joinKey := stmt.Join.Database + "." + stmt.Join.Table
		jst, err := tableStatsFor(joinTable)
		if err != nil {
			return nil, err
		}
		stats[joinKey] = jst
	}

	plan, err := Optimize(stmt, stats)
	if err != nil {
		return nil, err
	}

	// The scan reservation is admission control for the materialized scan
	// output, capped at half the budget so a large table estimate cannot
	// starve the post-operators: sort intermediates are accounted exactly,
	// row by row, and spill under pressure.
	reserve := plan.EstimatedMemoryBytes
	if limit := qctx.Budget() / 2; reserve > limit {
		reserve = limit
	}
	if _, err := qctx.Allocate("scan", reserve); err != nil {
		return nil, err
	}
	defer qctx.Free("scan")

	rows, err := ex.runScan(ctx, t, joinTable, plan, qctx)
	if err != nil {
		return nil, err
	}

	rows, err = ex.runPostOps(ctx, rows, plan, qctx, t)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]value.Value, len(rows))
	for i, r := range rows {
		obj := make(map[string]value.Value, len(r.Obj)+1)
		for k, v := range r.Obj {
			obj[k] = v
		}
		obj[rowIDField] = value.Str(r.ID.String())
		out[i] = obj
	}
	return &Result{Executed: true, Rows: out, Plan: plan}, nil
}

func (ex *Executor) runScan(ctx context.Context, t, joinTable *engine.Table, plan *Plan, qctx *memctl.QueryContext) ([]engine.RowWithID, error) {
	if err := checkCtx(ctx, "scan"); err != nil {
		return nil, err
	}
	switch plan.Type {
	case PlanIndexScan:
		ids := t.EqualityLookup(plan.Where.Column, literalToValue(plan.Where.Value))
		return fetchRows(ctx, t, ids)
	case PlanRangeScan:
		lo, hi, loIncl, hiIncl := rangeBounds(plan.Where, plan.Where2)
		ids := t.RangeLookup(plan.Where.Column, lo, hi, loIncl, hiIncl)
		return fetchRows(ctx, t, ids)
	case PlanHashJoin:
		return ex.runHashJoin(ctx, t, joinTable, plan)
	case PlanNestedLoopJoin:
		return ex.runNestedLoopJoin(ctx, t, joinTable, plan)
	default:
		return t.Scan()
	}
}

// ctxCheckEvery bounds how many rows a tight executor loop processes
// between cancellation checks.
const ctxCheckEvery = 1024

func fetchRows(ctx context.Context, t *engine.Table, ids []uuid.UUID) ([]engine.RowWithID, error) {
	out := make([]engine.RowWithID, 0, len(ids))
	for i, id := range ids {
		if i%ctxCheckEvery == 0 {
			if err := checkCtx(ctx, "fetch"); err != nil {
				return nil, err
			}
		}
		obj, ok, err := t.Get(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, engine.RowWithID{ID: id, Obj: obj})
	}
	return out, nil
}

// rangeBounds folds one or two range predicates on the same column into
// a single (lo,hi,inclusive,inclusive) bound for Table.RangeLookup.
func rangeBounds(p1, p2 *Predicate) (lo, hi *value.Value, loIncl, hiIncl bool) {
	apply := func(p *Predicate) {
		if p == nil {
			return
		}
		v := literalToValue(p.Value)
		switch p.Op {
		case OpGreaterEquals:
			lo, loIncl = &v, true
		case OpGreaterThan:
			lo, loIncl = &v, false
		case OpLessEquals:
			hi, hiIncl = &v, true
		case OpLessThan:
			hi, hiIncl = &v, false
		case OpEquals:
			lo, hi = &v, &v
			loIncl, hiIncl = true, true
		}
	}
	apply(p1)
	apply(p2)
	return
}

// runNestedLoopJoin pairs every row of t against every row of joinTable
// whose JoinColumn values compare equal, the small-side
// fallback.
func (ex *Executor) runNestedLoopJoin(ctx context.Context, t, joinTable *engine.Table, plan *Plan) ([]engine.RowWithID, error) {
	left, err := t.Scan()
	if err != nil {
		return nil, err
	}
	right, err := joinTable.Scan()
	if err != nil {
		return nil, err
	}
	var out []engine.RowWithID
	for i, l := range left {
		if i%ctxCheckEvery == 0 {
			if err := checkCtx(ctx, "nested loop join"); err != nil {
				return nil, err
			}
		}
		lv, ok := l.Obj[plan.JoinColumn]
		if !ok {
			continue
		}
		for _, r := range right {
			rv, ok := r.Obj[plan.JoinColumn]
			if !ok {
				continue
			}
			if value.Compare(lv, rv) == 0 {
				out = append(out, engine.RowWithID{ID: l.ID, Obj: mergeObjects(l.Obj, r.Obj)})
			}
		}
	}
	return out, nil
}

// runHashJoin drives pkg/spill's partitioned hash join over both table
// scans; spilling under memory
// pressure is handled entirely inside HashJoin.Run.
func (ex *Executor) runHashJoin(ctx context.Context, t, joinTable *engine.Table, plan *Plan) ([]engine.RowWithID, error) {
	left, err := t.Scan()
	if err != nil {
		return nil, err
	}
	if err := checkCtx(ctx, "hash join build"); err != nil {
		return nil, err
	}
	right, err := joinTable.Scan()
	if err != nil {
		return nil, err
	}

	// The smaller input is the hash-build side; pairs are merged in
	// FROM-table, joined-table order either way.
	build, probe := left, right
	swapped := len(right) < len(left)
	if swapped {
		build, probe = right, left
	}

	qid := uuid.NewString()
	hj := spill.NewHashJoin(spill.JoinOptions{
		Dir:      ex.spillDir,
		QueryID:  qid,
		OpID:     "hashjoin",
		BuildKey: func(r spill.Row) any { return r[plan.JoinColumn] },
		ProbeKey: func(r spill.Row) any { return r[plan.JoinColumn] },
		Metrics:  ex.Metrics,
	})

	var out []engine.RowWithID
	cancelled := false
	err = hj.Run(
		rowSource(build),
		rowSource(probe),
		func(b, p spill.Row) bool {
			if len(out)%ctxCheckEvery == 0 && ctx.Err() != nil {
				cancelled = true
				return false
			}
			l, r := b, p
			if swapped {
				l, r = p, b
			}
			out = append(out, engine.RowWithID{ID: uuid.New(), Obj: mergeObjects(fromSpillRow(l), fromSpillRow(r))})
			return true
		},
	)
	if err != nil {
		return nil, err
	}
	if cancelled {
		return nil, checkCtx(ctx, "hash join probe")
	}
	return out, nil
}

func rowSource(rows []engine.RowWithID) func(yield func(spill.Row) bool) {
	return func(yield func(spill.Row) bool) {
		for _, r := range rows {
			if !yield(toSpillRow(r.Obj)) {
				return
			}
		}
	}
}

func mergeObjects(left, right map[string]value.Value) map[string]value.Value {
	out := make(map[string]value.Value, len(left)+len(right))
	for k, v := range left {
		out[k] = v
	}
	for k, v := range right {
		out[k] = v
	}
	return out
}

// toSpillRow/fromSpillRow convert between the row layer's tagged Value
// objects and pkg/spill's any-valued Row, the type gob needs to encode
// spilled partitions/chunks. Only the scalar Value kinds survive the
// round trip; array/object columns come back as Str values holding
// their String() form.
func toSpillRow(obj map[string]value.Value) spill.Row {
	out := spill.Row(pools.GetRow())
	for k, v := range obj {
		out[k] = valueToAny(v)
	}
	return out
}

func fromSpillRow(row spill.Row) map[string]value.Value {
	out := make(map[string]value.Value, len(row))
	for k, v := range row {
		out[k] = valueFromAny(v)
	}
	return out
}

func valueToAny(v value.Value) any {
	switch v.Kind() {
	case value.KindNull:
		return nil
	case value.KindBool:
		b, _ := v.AsBool()
		return b
	case value.KindInt:
		n, _ := v.AsInt()
		return n
	case value.KindFloat:
		f, _ := v.AsFloat()
		return f
	case value.KindStr:
		s, _ := v.AsStr()
		return s
	case value.KindBytes:
		b, _ := v.AsBytes()
		return b
	default:
		return v.String()
	}
}

func valueFromAny(a any) value.Value {
	switch x := a.(type) {
	case nil:
		return value.Null()
	case bool:
		return value.Bool(x)
	case int64:
		return value.Int(x)
	case float64:
		return value.Float(x)
	case string:
		return value.Str(x)
	case []byte:
		return value.Bytes(x)
	default:
		return value.Null()
	}
}

// literalToValue converts a parsed literal into the row layer's tagged
// Value, choosing Int over Float when the literal carries no fraction
// (the parser always produces numeric literals as float64; see ast.go).
func literalToValue(l Literal) value.Value {
	switch {
	case l.IsStr:
		return value.Str(l.Str)
	case l.IsBool:
		return value.Bool(l.Bool)
	case l.IsNum:
		if l.Num == float64(int64(l.Num)) {
			return value.Int(int64(l.Num))
		}
		return value.Float(l.Num)
	default:
		return value.Null()
	}
}

// runPostOps applies plan.PostOps in order against rows, charging each
// stage's working set against qctx and spilling ORDER BY through
// pkg/spill.ExternalSort once the budget is exceeded.
func (ex *Executor) runPostOps(ctx context.Context, rows []engine.RowWithID, plan *Plan, qctx *memctl.QueryContext, t *engine.Table) ([]engine.RowWithID, error) {
	var err error
	for _, op := range plan.PostOps {
		if err := checkCtx(ctx, "post-op"); err != nil {
			return nil, err
		}
		switch op.Kind {
		case PostFilter:
			rows, err = ex.applyFilter(rows, op.Where, t)
		case PostProject:
			rows = applyProject(rows, op.Columns)
		case PostSort:
			rows, err = ex.applySort(ctx, rows, op.OrderBy, qctx)
		case PostLimit:
			rows = applyLimit(rows, op.Limit)
		case PostDistinct:
			rows = applyDistinct(rows)
		}
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (ex *Executor) applyFilter(rows []engine.RowWithID, pred *Predicate, t *engine.Table) ([]engine.RowWithID, error) {
	// An index-backed CONTAINS is a ranked search, not a boolean filter:
	// rows come back ordered by descending cumulative TF-IDF with the
	// score attached as the __relevance column.
	if pred.Op == OpContains {
		if idx, ok := t.FulltextIndex(pred.Column); ok {
			return rankByRelevance(rows, idx.Search(pred.Value.Str)), nil
		}
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

// rankByRelevance keeps only the rows the search ranked, in the search's
// descending-relevance order, attaching each score as __relevance.
func rankByRelevance(rows []engine.RowWithID, ranked []fulltext.Result) []engine.RowWithID {
	byID := make(map[uuid.UUID]engine.RowWithID, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	out := make([]engine.RowWithID, 0, len(ranked))
	for _, res := range ranked {
		r, ok := byID[res.RowID]
		if !ok {
			continue
		}
		obj := make(map[string]value.Value, len(r.Obj)+1)
		for k, v := range r.Obj {
			obj[k] = v
		}
		obj[relevanceField] = value.Float(res.Relevance)
		out = append(out, engine.RowWithID{ID: r.ID, Obj: obj})
	}
	return out
}

// predicateMatcher returns a per-row test for pred. CONTAINS and FUZZY
// consult the column's fulltext index when one exists, falling back to
// a substring scan / raw Levenshtein distance otherwise. The CONTAINS
// branch here is the boolean membership form UPDATE/DELETE predicates
// need; SELECT's applyFilter takes the ranked path instead.
func (ex *Executor) predicateMatcher(t *engine.Table, pred *Predicate) (func(engine.RowWithID) bool, error) {
	switch pred.Op {
	case OpContains:
		if idx, ok := t.FulltextIndex(pred.Column); ok {
			set := idx.Contains(pred.Value.Str)
			return func(r engine.RowWithID) bool { return set[r.ID] }, nil
		}
		needle := strings.ToLower(pred.Value.Str)
		return func(r engine.RowWithID) bool {
			s, ok := r.Obj[pred.Column].AsStr()
			return ok && strings.Contains(strings.ToLower(s), needle)
		}, nil
	case OpFuzzy:
		if idx, ok := t.FulltextIndex(pred.Column); ok {
			set := idx.Fuzzy(pred.Value.Str, pred.FuzzyDistance)
			return func(r engine.RowWithID) bool { return set[r.ID] }, nil
		}
		return func(r engine.RowWithID) bool {
			s, ok := r.Obj[pred.Column].AsStr()
			return ok && fuzzyWithin(s, pred.Value.Str, pred.FuzzyDistance)
		}, nil
	case OpLike:
		re, err := likeToRegexp(pred.Value.Str)
		if err != nil {
			return nil, &errs.PlanError{Message: "invalid LIKE pattern: " + err.Error()}
		}
		return func(r engine.RowWithID) bool {
			s, ok := r.Obj[pred.Column].AsStr()
			return ok && re.MatchString(s)
		}, nil
	case OpRegex:
		re, err := regexp.Compile(pred.Value.Str)
		if err != nil {
			return nil, &errs.PlanError{Message: "invalid REGEX pattern: " + err.Error()}
		}
		return func(r engine.RowWithID) bool {
			s, ok := r.Obj[pred.Column].AsStr()
			return ok && re.MatchString(s)
		}, nil
	case OpIn:
		return func(r engine.RowWithID) bool {
			v, ok := r.Obj[pred.Column]
			if !ok {
				return false
			}
			for _, item := range pred.Value.List {
				if value.Compare(v, literalToValue(item)) == 0 {
					return true
				}
			}
			return false
		}, nil
	default:
		return func(r engine.RowWithID) bool {
			v, ok := r.Obj[pred.Column]
			if !ok {
				return false
			}
			return compareScalar(v, literalToValue(pred.Value), pred.Op)
		}, nil
	}
}

func compareScalar(v, lit value.Value, op Operator) bool {
	c := value.Compare(v, lit)
	switch op {
	case OpEquals:
		return c == 0
	case OpNotEquals:
		return c != 0
	case OpLessThan:
		return c < 0
	case OpGreaterThan:
		return c > 0
	case OpLessEquals:
		return c <= 0
	case OpGreaterEquals:
		return c >= 0
	default:
		return false
	}
}

func fuzzyWithin(s, needle string, distance int) bool {
	for _, tok := range strings.Fields(s) {
		if fulltext.Levenshtein(tok, needle) <= distance {
			return true
		}
	}
	return fulltext.Levenshtein(s, needle) <= distance
}

// likeToRegexp compiles a SQL LIKE pattern (`%` = any run, `_` = any one
// rune) into a case-sensitive anchored regexp matched against the raw
// column value.
func likeToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func applyProject(rows []engine.RowWithID, cols []string) []engine.RowWithID {
	out := make([]engine.RowWithID, len(rows))
	for i, r := range rows {
		obj := make(map[string]value.Value, len(cols))
		for _, c := range cols {
			if v, ok := r.Obj[c]; ok {
				obj[c] = v
			}
		}
		out[i] = engine.RowWithID{ID: r.ID, Obj: obj}
	}
	return out
}

func applyLimit(rows []engine.RowWithID, lim LimitClause) []engine.RowWithID {
	if rows == nil {
		return rows
	}
	start := lim.Offset
	if start > len(rows) {
		start = len(rows)
	}
	end := start + lim.Count
	if lim.Count <= 0 || end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}

func applyDistinct(rows []engine.RowWithID) []engine.RowWithID {
	seen := make(map[string]bool, len(rows))
	out := rows[:0]
	for _, r := range rows {
		key := string(value.Encode(value.Object(r.Obj)))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

const sortRowIDKey = "__row_id"

// sortSpiller adapts an ExternalSort to memctl's SpillManager: under
// memory pressure the resident chunk is written to disk and its bytes
// are returned to the budget.
type sortSpiller struct {
	sorter *spill.ExternalSort
}

func (s *sortSpiller) Spill(requested int64) (int64, error) {
	n, err := s.sorter.SpillResident()
	if err != nil {
		return 0, err
	}
	return int64(n) * estimatedRowBytes, nil
}

// applySort orders rows by plan's ORDER BY terms. Every buffered row is
// charged against the query's budget; the sorter is registered as the
// "sort" operator's spill manager, so an allocation under pressure
// forces the resident chunk to disk and retries (the allocate, spill,
// retry control flow of pkg/memctl).
func (ex *Executor) applySort(ctx context.Context, rows []engine.RowWithID, terms []OrderTerm, qctx *memctl.QueryContext) ([]engine.RowWithID, error) {
	less := func(a, b spill.Row) bool {
		for _, term := range terms {
			av := valueFromAny(a[term.Column])
			bv := valueFromAny(b[term.Column])
			c := value.Compare(av, bv)
			if c == 0 {
				continue
			}
			if term.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	}

	qid := uuid.NewString()
	sorter := spill.NewExternalSort(spill.SortOptions{
		Dir:     ex.spillDir,
		QueryID: qid,
		OpID:    "sort",
		Less:    less,
		Metrics: ex.Metrics,
	})
	defer sorter.Cleanup()

	qctx.RegisterSpill("sort", &sortSpiller{sorter: sorter})
	defer qctx.Free("sort")

	for i, r := range rows {
		if i%ctxCheckEvery == 0 {
			if err := checkCtx(ctx, "sort"); err != nil {
				return nil, err
			}
		}
		if _, err := qctx.Allocate("sort", estimatedRowBytes); err != nil {
			return nil, err
		}
		sr := toSpillRow(r.Obj)
		sr[sortRowIDKey] = r.ID.String()
		if err := sorter.Add(sr); err != nil {
			return nil, err
		}
	}

	it, err := sorter.Finish()
	if err != nil {
		return nil, err
	}
	defer it.Close()

	out := make([]engine.RowWithID, 0, len(rows))
	for {
		sr, ok := it.Next()
		if !ok {
			break
		}
		idStr, _ := sr[sortRowIDKey].(string)
		id, _ := uuid.Parse(idStr)
		delete(sr, sortRowIDKey)
		out = append(out, engine.RowWithID{ID: id, Obj: fromSpillRow(sr)})
	}
	return out, nil
}
