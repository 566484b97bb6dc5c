package query

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func statsWith(rows int64, indexed ...string) map[string]TableStats {
	idx := make(map[string]bool, len(indexed))
	for _, c := range indexed {
		idx[c] = true
	}
	return map[string]TableStats{
		"db.users": {RowCount: rows, IndexedColumns: idx},
	}
}

func TestOptimizeEqualityOnIndexedColumnPicksIndexScan(t *testing.T) {
	stmt, err := Parse("SELECT * FROM db.users WHERE age=30")
	require.NoError(t, err)
	plan, err := Optimize(stmt, statsWith(1000, "age"))
	require.NoError(t, err)
	require.Equal(t, PlanIndexScan, plan.Type)
}

func TestOptimizeRangeOnIndexedColumnPicksRangeScan(t *testing.T) {
	stmt, err := Parse("SELECT * FROM db.users WHERE age>=50 AND age<60")
	require.NoError(t, err)
	plan, err := Optimize(stmt, statsWith(1000, "age"))
	require.NoError(t, err)
	require.Equal(t, PlanRangeScan, plan.Type)
	require.Equal(t, "age", plan.Where.Column)
	require.NotNil(t, plan.Where2)
}

func TestOptimizeUnindexedColumnPicksFullScan(t *testing.T) {
	stmt, err := Parse("SELECT * FROM db.users WHERE name='Alice'")
	require.NoError(t, err)
	plan, err := Optimize(stmt, statsWith(1000))
	require.NoError(t, err)
	require.Equal(t, PlanFullTableScan, plan.Type)
	require.Len(t, plan.PostOps, 1)
	require.Equal(t, PostFilter, plan.PostOps[0].Kind)
}

func TestOptimizeProjectsOnlyNamedColumns(t *testing.T) {
	stmt, err := Parse("SELECT name FROM db.users")
	require.NoError(t, err)
	plan, err := Optimize(stmt, statsWith(10))
	require.NoError(t, err)
	require.Len(t, plan.PostOps, 1)
	require.Equal(t, PostProject, plan.PostOps[0].Kind)
}

func TestOptimizeSelectStarSkipsProjection(t *testing.T) {
	stmt, err := Parse("SELECT * FROM db.users")
	require.NoError(t, err)
	plan, err := Optimize(stmt, statsWith(10))
	require.NoError(t, err)
	require.Empty(t, plan.PostOps)
}

func TestOptimizeOrderByAndLimitAppendStages(t *testing.T) {
	stmt, err := Parse("SELECT * FROM db.users ORDER BY age DESC LIMIT 5")
	require.NoError(t, err)
	plan, err := Optimize(stmt, statsWith(10))
	require.NoError(t, err)
	require.Len(t, plan.PostOps, 2)
	require.Equal(t, PostSort, plan.PostOps[0].Kind)
	require.Equal(t, PostLimit, plan.PostOps[1].Kind)
}

func TestOptimizeJoinPicksHashJoinWhenBothSidesLarge(t *testing.T) {
	stmt := &Statement{
		Type:       StmtSelect,
		Table:      TableRef{Database: "db", Table: "users"},
		Join:       &TableRef{Database: "db", Table: "orders"},
		JoinColumn: "id",
		Columns:    []string{"*"},
	}
	stats := map[string]TableStats{
		"db.users":  {RowCount: 5000},
		"db.orders": {RowCount: 8000},
	}
	plan, err := Optimize(stmt, stats)
	require.NoError(t, err)
	require.Equal(t, PlanHashJoin, plan.Type)
}

func TestOptimizeJoinPicksNestedLoopWhenOneSideSmall(t *testing.T) {
	stmt := &Statement{
		Type:       StmtSelect,
		Table:      TableRef{Database: "db", Table: "users"},
		Join:       &TableRef{Database: "db", Table: "orders"},
		JoinColumn: "id",
		Columns:    []string{"*"},
	}
	stats := map[string]TableStats{
		"db.users":  {RowCount: 10},
		"db.orders": {RowCount: 8000},
	}
	plan, err := Optimize(stmt, stats)
	require.NoError(t, err)
	require.Equal(t, PlanNestedLoopJoin, plan.Type)
}
