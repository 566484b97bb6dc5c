package query

import (
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/serengeti-db/serengeti/pkg/engine"
	"github.com/serengeti-db/serengeti/pkg/metrics"
	"github.com/serengeti-db/serengeti/pkg/value"
)

func TestContainsWithIndexRanksByRelevance(t *testing.T) {
	cat, err := engine.Open(engine.Options{DataDir: t.TempDir(), MemTableMaxBytes: 4096, MemoryPoolBytes: 1 << 20})
	require.NoError(t, err)
	defer cat.Close()
	require.NoError(t, cat.CreateDatabase("db"))
	docs, err := cat.CreateTable("db", "docs")
	require.NoError(t, err)
	ex := NewExecutor(cat, t.TempDir())

	for _, text := range []string{"database storage engine", "storage only", "engine tuning"} {
		_, err := docs.Insert(map[string]value.Value{"content": value.Str(text)})
		require.NoError(t, err)
	}
	require.NoError(t, docs.CreateFulltextIndex("content"))

	res, err := ex.Execute("SELECT * FROM db.docs WHERE content CONTAINS 'storage engine'")
	require.NoError(t, err)
	// Every document touches at least one query token, so all three come
	// back, ranked: the both-token document first.
	require.Len(t, res.Rows, 3)

	first, _ := res.Rows[0]["content"].AsStr()
	require.Equal(t, "database storage engine", first)

	prev := -1.0
	for i, row := range res.Rows {
		rel, ok := row[relevanceField].AsFloat()
		require.True(t, ok, "row %d missing %s", i, relevanceField)
		require.Greater(t, rel, 0.0)
		if prev >= 0 {
			require.LessOrEqual(t, rel, prev)
		}
		prev = rel
	}
}

func TestContainsWithIndexRespectsProjection(t *testing.T) {
	cat, err := engine.Open(engine.Options{DataDir: t.TempDir(), MemTableMaxBytes: 4096, MemoryPoolBytes: 1 << 20})
	require.NoError(t, err)
	defer cat.Close()
	require.NoError(t, cat.CreateDatabase("db"))
	docs, err := cat.CreateTable("db", "docs")
	require.NoError(t, err)
	ex := NewExecutor(cat, t.TempDir())

	_, err = docs.Insert(map[string]value.Value{"content": value.Str("storage engine"), "title": value.Str("intro")})
	require.NoError(t, err)
	require.NoError(t, docs.CreateFulltextIndex("content"))

	res, err := ex.Execute("SELECT title FROM db.docs WHERE content CONTAINS 'storage'")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	title, _ := res.Rows[0]["title"].AsStr()
	require.Equal(t, "intro", title)
}

// TestOrderBySpillsUnderSmallBudget drives the external sort through the
// memory manager: a small pool forces the sorter's spill manager to run
// mid-sort, every spill file is gone afterwards, and the full row set
// comes back in order.
func TestOrderBySpillsUnderSmallBudget(t *testing.T) {
	cat, err := engine.Open(engine.Options{
		DataDir:          t.TempDir(),
		MemTableMaxBytes: 1 << 20,
		MemoryPoolBytes:  64 << 10, // per-query budget 32 KiB
	})
	require.NoError(t, err)
	defer cat.Close()
	require.NoError(t, cat.CreateDatabase("db"))
	users, err := cat.CreateTable("db", "users")
	require.NoError(t, err)

	const n = 500
	for i := 0; i < n; i++ {
		_, err := users.Insert(map[string]value.Value{"age": value.Int(int64(n - i))})
		require.NoError(t, err)
	}

	spillDir := t.TempDir()
	ex := NewExecutor(cat, spillDir)
	ex.Metrics = metrics.NewRegistry()

	res, err := ex.Execute("SELECT * FROM db.users ORDER BY age")
	require.NoError(t, err)
	require.Len(t, res.Rows, n)

	prev := int64(-1)
	for _, row := range res.Rows {
		age, ok := row["age"].AsInt()
		require.True(t, ok)
		require.GreaterOrEqual(t, age, prev)
		prev = age
	}

	spills := testutil.ToFloat64(ex.Metrics.SpillFilesTotal.WithLabelValues("sort"))
	require.Greater(t, spills, 0.0, "expected the sort to spill under a 32 KiB budget")

	entries, err := os.ReadDir(spillDir)
	require.NoError(t, err)
	require.Empty(t, entries, "spill files must not survive the query")
}

func TestShowTablesAndIndexes(t *testing.T) {
	ex := newTestExecutor(t)

	res, err := ex.Execute("SHOW TABLES FROM db")
	require.NoError(t, err)
	require.Contains(t, res.List, "users")

	_, err = ex.Execute("CREATE INDEX ON db.users (age)")
	require.NoError(t, err)

	res, err = ex.Execute("SHOW INDEXES FROM db.users")
	require.NoError(t, err)
	require.Contains(t, res.List, "age")
}
