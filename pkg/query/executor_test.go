package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/serengeti-db/serengeti/pkg/engine"
	"github.com/serengeti-db/serengeti/pkg/value"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	cat, err := engine.Open(engine.Options{
		DataDir:          t.TempDir(),
		MemTableMaxBytes: 4096,
		MemoryPoolBytes:  1 << 20,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	require.NoError(t, cat.CreateDatabase("db"))
	_, err = cat.CreateTable("db", "users")
	require.NoError(t, err)

	return NewExecutor(cat, t.TempDir())
}

func insertUser(t *testing.T, ex *Executor, name string, age int64) {
	t.Helper()
	_, err := ex.Execute("INSERT INTO db.users (name, age) VALUES ('" + name + "', " + itoa(age) + ")")
	require.NoError(t, err)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestExecuteInsertAndSelectAll(t *testing.T) {
	ex := newTestExecutor(t)
	insertUser(t, ex, "Alice", 30)
	insertUser(t, ex, "Bob", 40)

	res, err := ex.Execute("SELECT * FROM db.users")
	require.NoError(t, err)
	require.True(t, res.Executed)
	require.Len(t, res.Rows, 2)
}

func TestExecuteSelectWithEqualityFilterFullScan(t *testing.T) {
	ex := newTestExecutor(t)
	insertUser(t, ex, "Alice", 30)
	insertUser(t, ex, "Bob", 40)

	res, err := ex.Execute("SELECT name FROM db.users WHERE age=30")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	name, _ := res.Rows[0]["name"].AsStr()
	require.Equal(t, "Alice", name)
	require.Equal(t, PlanFullTableScan, res.Plan.Type)
}

func TestExecuteSelectUsesIndexScanAfterCreateIndex(t *testing.T) {
	ex := newTestExecutor(t)
	insertUser(t, ex, "Alice", 30)
	insertUser(t, ex, "Bob", 40)

	_, err := ex.Execute("CREATE INDEX ON db.users(age)")
	require.NoError(t, err)

	res, err := ex.Execute("SELECT name FROM db.users WHERE age=30")
	require.NoError(t, err)
	require.Equal(t, PlanIndexScan, res.Plan.Type)
	require.Len(t, res.Rows, 1)
}

func TestExecuteSelectRangeScan(t *testing.T) {
	ex := newTestExecutor(t)
	for _, age := range []int64{10, 20, 30, 40, 50} {
		insertUser(t, ex, "u", age)
	}
	_, err := ex.Execute("CREATE INDEX ON db.users(age)")
	require.NoError(t, err)

	res, err := ex.Execute("SELECT * FROM db.users WHERE age>=20 AND age<40")
	require.NoError(t, err)
	require.Equal(t, PlanRangeScan, res.Plan.Type)
	require.Len(t, res.Rows, 2)
}

func TestExecuteOrderByAndLimit(t *testing.T) {
	ex := newTestExecutor(t)
	insertUser(t, ex, "Alice", 30)
	insertUser(t, ex, "Bob", 40)
	insertUser(t, ex, "Carl", 20)

	res, err := ex.Execute("SELECT name FROM db.users ORDER BY age DESC LIMIT 2")
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	first, _ := res.Rows[0]["name"].AsStr()
	require.Equal(t, "Bob", first)
}

func TestExecuteUpdateAndDelete(t *testing.T) {
	ex := newTestExecutor(t)
	insertUser(t, ex, "Alice", 30)

	res, err := ex.Execute("UPDATE db.users SET age=31 WHERE name='Alice'")
	require.NoError(t, err)
	updated, _ := res.Rows[0]["updated"].AsInt()
	require.Equal(t, int64(1), updated)

	sel, err := ex.Execute("SELECT age FROM db.users WHERE name='Alice'")
	require.NoError(t, err)
	age, _ := sel.Rows[0]["age"].AsInt()
	require.Equal(t, int64(31), age)

	res, err = ex.Execute("DELETE FROM db.users WHERE name='Alice'")
	require.NoError(t, err)
	deleted, _ := res.Rows[0]["deleted"].AsInt()
	require.Equal(t, int64(1), deleted)
}

func TestExecuteContainsFallsBackToSubstringWithoutIndex(t *testing.T) {
	ex := newTestExecutor(t)
	_, err := ex.Execute("INSERT INTO db.users (name, bio) VALUES ('Alice', 'loves distributed storage engines')")
	require.NoError(t, err)
	_, err = ex.Execute("INSERT INTO db.users (name, bio) VALUES ('Bob', 'enjoys gardening')")
	require.NoError(t, err)

	res, err := ex.Execute("SELECT name FROM db.users WHERE bio CONTAINS 'storage'")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	name, _ := res.Rows[0]["name"].AsStr()
	require.Equal(t, "Alice", name)
}

func TestExecuteFuzzyMatchesWithinDistance(t *testing.T) {
	ex := newTestExecutor(t)
	insertUser(t, ex, "Jon", 30)
	insertUser(t, ex, "Bob", 40)

	res, err := ex.Execute("SELECT name FROM db.users WHERE FUZZY(name, 'Jom', 1)")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	name, _ := res.Rows[0]["name"].AsStr()
	require.Equal(t, "Jon", name)
}

func TestExecuteJoinNestedLoop(t *testing.T) {
	cat, err := engine.Open(engine.Options{DataDir: t.TempDir(), MemTableMaxBytes: 4096, MemoryPoolBytes: 1 << 20})
	require.NoError(t, err)
	defer cat.Close()
	require.NoError(t, cat.CreateDatabase("db"))
	users, err := cat.CreateTable("db", "users")
	require.NoError(t, err)
	orders, err := cat.CreateTable("db", "orders")
	require.NoError(t, err)

	_, err = users.Insert(map[string]value.Value{"id": value.Int(1), "name": value.Str("Alice")})
	require.NoError(t, err)
	_, err = orders.Insert(map[string]value.Value{"id": value.Int(1), "item": value.Str("widget")})
	require.NoError(t, err)

	ex := NewExecutor(cat, t.TempDir())
	stmt := &Statement{
		Type:       StmtSelect,
		Table:      TableRef{Database: "db", Table: "users"},
		Join:       &TableRef{Database: "db", Table: "orders"},
		JoinColumn: "id",
		Columns:    []string{"*"},
	}
	res, err := ex.ExecuteStatement(stmt)
	require.NoError(t, err)
	require.Equal(t, PlanNestedLoopJoin, res.Plan.Type)
	require.Len(t, res.Rows, 1)
	item, _ := res.Rows[0]["item"].AsStr()
	require.Equal(t, "widget", item)
}

// TestRunHashJoinDirectly exercises the partitioned hash-join operator
// directly: the planner only ever selects PlanHashJoin once both sides
// exceed smallThreshold rows, which is impractical to
// stand up in a unit test, so this drives pkg/spill's join integration
// without going through Optimize.
func TestRunHashJoinDirectly(t *testing.T) {
	cat, err := engine.Open(engine.Options{DataDir: t.TempDir(), MemTableMaxBytes: 4096, MemoryPoolBytes: 1 << 20})
	require.NoError(t, err)
	defer cat.Close()
	require.NoError(t, cat.CreateDatabase("db"))
	users, err := cat.CreateTable("db", "users")
	require.NoError(t, err)
	orders, err := cat.CreateTable("db", "orders")
	require.NoError(t, err)

	_, err = users.Insert(map[string]value.Value{"id": value.Int(1), "name": value.Str("Alice")})
	require.NoError(t, err)
	_, err = users.Insert(map[string]value.Value{"id": value.Int(2), "name": value.Str("Bob")})
	require.NoError(t, err)
	_, err = orders.Insert(map[string]value.Value{"id": value.Int(1), "item": value.Str("widget")})
	require.NoError(t, err)
	_, err = orders.Insert(map[string]value.Value{"id": value.Int(1), "item": value.Str("gadget")})
	require.NoError(t, err)

	ex := NewExecutor(cat, t.TempDir())
	plan := &Plan{Type: PlanHashJoin, JoinColumn: "id"}
	rows, err := ex.runHashJoin(context.Background(), users, orders, plan)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestExecuteCreateAndDropDatabase(t *testing.T) {
	cat, err := engine.Open(engine.Options{DataDir: t.TempDir(), MemTableMaxBytes: 4096, MemoryPoolBytes: 1 << 20})
	require.NoError(t, err)
	defer cat.Close()
	ex := NewExecutor(cat, t.TempDir())

	_, err = ex.Execute("CREATE DATABASE shop")
	require.NoError(t, err)
	res, err := ex.Execute("SHOW DATABASES")
	require.NoError(t, err)
	require.Contains(t, res.List, "shop")

	_, err = ex.Execute("DROP DATABASE shop")
	require.NoError(t, err)
	res, err = ex.Execute("SHOW DATABASES")
	require.NoError(t, err)
	require.NotContains(t, res.List, "shop")
}
