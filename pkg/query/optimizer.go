package query

// PlanType enumerates the plan shapes the optimizer selects between.
type PlanType int

const (
	PlanFullTableScan PlanType = iota
	PlanIndexScan
	PlanRangeScan
	PlanHashJoin
	PlanNestedLoopJoin
)

func (t PlanType) String() string {
	switch t {
	case PlanFullTableScan:
		return "FULL_TABLE_SCAN"
	case PlanIndexScan:
		return "INDEX_SCAN"
	case PlanRangeScan:
		return "RANGE_SCAN"
	case PlanHashJoin:
		return "HASH_JOIN"
	case PlanNestedLoopJoin:
		return "NESTED_LOOP_JOIN"
	default:
		return "UNKNOWN"
	}
}

// PostOpKind enumerates the post-scan operators a plan's pipeline may
// chain.
type PostOpKind int

const (
	PostFilter PostOpKind = iota
	PostProject
	PostSort
	PostLimit
	PostDistinct
)

// PostOp is one stage of a plan's post-processing pipeline.
type PostOp struct {
	Kind    PostOpKind
	Columns []string    // PROJECT
	Where   *Predicate  // FILTER (used when a predicate can't be pushed into the scan)
	OrderBy []OrderTerm // SORT
	Limit   LimitClause // LIMIT
}

// Plan is the optimizer's output: a scan/join type, the tables and
// columns it touches, and a deterministic ordered pipeline of
// post-operators (FILTER, SORT, LIMIT, PROJECT; see buildPostOps).
type Plan struct {
	Type     PlanType
	Database string
	Table    string
	JoinWith *TableRef

	SelectCols []string
	Where      *Predicate
	Where2     *Predicate
	JoinColumn string

	PostOps []PostOp

	// EstimatedMemoryBytes feeds the memory manager's per-query budget
	// accounting: a coarse row-count * row-size estimate.
	EstimatedMemoryBytes int64
}

// TableStats is the engine metadata the optimizer consults: cardinality
// and which columns carry an index.
type TableStats struct {
	RowCount       int64
	IndexedColumns map[string]bool
}

// smallThreshold is the row-count boundary below which a join side is
// "small" when choosing NESTED_LOOP_JOIN vs HASH_JOIN.
const smallThreshold = 1000

// estimatedRowBytes is a coarse per-row estimate used to translate row
// counts into the memory manager's byte budget.
const estimatedRowBytes = 256

// Optimize turns a parsed Statement plus table metadata into a Plan,
// applying deterministic selection rules: index equality,
// indexed range, full scan, or (for a two-table join) hash vs
// nested-loop, then predicate/projection pushdown and constant folding.
func Optimize(stmt *Statement, stats map[string]TableStats) (*Plan, error) {
	switch stmt.Type {
	case StmtSelect:
		return optimizeSelect(stmt, stats)
	default:
		// DDL/DML statements have no scan to plan; callers execute them
		// directly against the engine without going through Optimize.
		return &Plan{Database: stmt.Table.Database, Table: stmt.Table.Table}, nil
	}
}

func optimizeSelect(stmt *Statement, stats map[string]TableStats) (*Plan, error) {
	plan := &Plan{
		Database:   stmt.Table.Database,
		Table:      stmt.Table.Table,
		SelectCols: stmt.Columns,
		Where:      stmt.Where,
		Where2:     stmt.Where2,
	}

	if stmt.Join != nil {
		planJoin(stmt, stats, plan)
	} else {
		planSingleTable(stmt, stats, plan)
	}

	buildPostOps(stmt, plan)

	key := stmt.Table.Database + "." + stmt.Table.Table
	rows := stats[key].RowCount
	plan.EstimatedMemoryBytes = rows * estimatedRowBytes
	return plan, nil
}

// planSingleTable applies rules 1-3: equality on an indexed column wins
// INDEX_SCAN; a range (< <= > >=) on an indexed column wins RANGE_SCAN;
// anything else is a FULL_TABLE_SCAN.
func planSingleTable(stmt *Statement, stats map[string]TableStats, plan *Plan) {
	key := stmt.Table.Database + "." + stmt.Table.Table
	indexed := stats[key].IndexedColumns

	if stmt.Where != nil && indexed[stmt.Where.Column] {
		switch stmt.Where.Op {
		case OpEquals:
			plan.Type = PlanIndexScan
			return
		case OpLessThan, OpLessEquals, OpGreaterThan, OpGreaterEquals:
			plan.Type = PlanRangeScan
			return
		}
	}
	plan.Type = PlanFullTableScan
}

// planJoin applies rule 4: a two-table join on a column picks HASH_JOIN
// when both estimated inputs exceed smallThreshold, else
// NESTED_LOOP_JOIN; the executor builds the hash table on the smaller
// input.
func planJoin(stmt *Statement, stats map[string]TableStats, plan *Plan) {
	plan.JoinWith = stmt.Join
	plan.JoinColumn = stmt.JoinColumn

	leftKey := stmt.Table.Database + "." + stmt.Table.Table
	rightKey := stmt.Join.Database + "." + stmt.Join.Table
	leftRows := stats[leftKey].RowCount
	rightRows := stats[rightKey].RowCount

	if leftRows > smallThreshold && rightRows > smallThreshold {
		plan.Type = PlanHashJoin
	} else {
		plan.Type = PlanNestedLoopJoin
	}
}

// buildPostOps assembles the ordered FILTER/SORT/LIMIT/PROJECT pipeline,
// pushing the WHERE predicate down into the scan when the scan type
// already consumes it (predicate pushdown) and otherwise keeping a
// FILTER stage; PROJECT comes last so SORT still sees every column. No
// DISTINCT stage is added.
func buildPostOps(stmt *Statement, plan *Plan) {
	// Predicate pushdown: INDEX_SCAN/RANGE_SCAN already apply Where (and
	// Where2) as part of the scan; a FULL_TABLE_SCAN or a join (the
	// planner never pushes a predicate into a join's partitioning) still
	// needs a FILTER stage unless there is no predicate at all.
	needsFilterStage := plan.Type == PlanFullTableScan || plan.Type == PlanHashJoin || plan.Type == PlanNestedLoopJoin
	if stmt.Where != nil && needsFilterStage {
		plan.PostOps = append(plan.PostOps, PostOp{Kind: PostFilter, Where: stmt.Where})
		if stmt.Where2 != nil {
			plan.PostOps = append(plan.PostOps, PostOp{Kind: PostFilter, Where: stmt.Where2})
		}
	}

	if len(stmt.OrderBy) > 0 {
		plan.PostOps = append(plan.PostOps, PostOp{Kind: PostSort, OrderBy: stmt.OrderBy})
	}
	if stmt.Limit.Set {
		plan.PostOps = append(plan.PostOps, PostOp{Kind: PostLimit, Limit: stmt.Limit})
	}

	// Projection runs after SORT/LIMIT so ORDER BY can use columns outside
	// the select list; `SELECT *` skips the PROJECT stage entirely
	// (constant folding of the trivial "no projection needed" case).
	if len(stmt.Columns) > 0 && !(len(stmt.Columns) == 1 && stmt.Columns[0] == "*") {
		plan.PostOps = append(plan.PostOps, PostOp{Kind: PostProject, Columns: stmt.Columns})
	}
}
