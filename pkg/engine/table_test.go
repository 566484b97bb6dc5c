package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/serengeti-db/serengeti/pkg/value"
)

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func newTestTable(t *testing.T) *Table {
	t.Helper()
	c := newTestCatalog(t)
	require.NoError(t, c.CreateDatabase("shop"))
	tbl, err := c.CreateTable("shop", "users")
	require.NoError(t, err)
	return tbl
}

func TestInsertGet(t *testing.T) {
	tbl := newTestTable(t)
	id, err := tbl.Insert(map[string]value.Value{
		"name": value.Str("Alice"),
		"age":  value.Int(30),
	})
	require.NoError(t, err)

	obj, ok, err := tbl.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	name, _ := obj["name"].AsStr()
	require.Equal(t, "Alice", name)
}

func TestUpdateReplacesObject(t *testing.T) {
	tbl := newTestTable(t)
	id, err := tbl.Insert(map[string]value.Value{"age": value.Int(30)})
	require.NoError(t, err)

	require.NoError(t, tbl.Update(id, map[string]value.Value{"age": value.Int(31)}))

	obj, ok, err := tbl.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	age, _ := obj["age"].AsInt()
	require.Equal(t, int64(31), age)
}

func TestDeleteRemovesRow(t *testing.T) {
	tbl := newTestTable(t)
	id, err := tbl.Insert(map[string]value.Value{"age": value.Int(30)})
	require.NoError(t, err)

	require.NoError(t, tbl.Delete(id))

	_, ok, err := tbl.Get(id)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestScanReturnsEveryLiveRow(t *testing.T) {
	tbl := newTestTable(t)
	_, err := tbl.Insert(map[string]value.Value{"age": value.Int(1)})
	require.NoError(t, err)
	_, err = tbl.Insert(map[string]value.Value{"age": value.Int(2)})
	require.NoError(t, err)
	id3, err := tbl.Insert(map[string]value.Value{"age": value.Int(3)})
	require.NoError(t, err)
	require.NoError(t, tbl.Delete(id3))

	rows, err := tbl.Scan()
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestCreateIndexBackfillsAndMaintains(t *testing.T) {
	tbl := newTestTable(t)
	id1, err := tbl.Insert(map[string]value.Value{"age": value.Int(30)})
	require.NoError(t, err)
	_, err = tbl.Insert(map[string]value.Value{"age": value.Int(40)})
	require.NoError(t, err)

	require.NoError(t, tbl.CreateIndex("age"))
	require.True(t, tbl.IsIndexed("age"))

	ids := tbl.EqualityLookup("age", value.Int(30))
	require.Contains(t, idStrings(ids), id1.String())

	id3, err := tbl.Insert(map[string]value.Value{"age": value.Int(30)})
	require.NoError(t, err)
	ids = tbl.EqualityLookup("age", value.Int(30))
	require.Len(t, ids, 2)
	require.Contains(t, idStrings(ids), id3.String())
}

func TestRangeLookupRespectsBounds(t *testing.T) {
	tbl := newTestTable(t)
	for _, age := range []int64{10, 20, 30, 40, 50} {
		_, err := tbl.Insert(map[string]value.Value{"age": value.Int(age)})
		require.NoError(t, err)
	}
	require.NoError(t, tbl.CreateIndex("age"))

	lo := value.Int(20)
	hi := value.Int(40)
	ids := tbl.RangeLookup("age", &lo, &hi, true, false)
	require.Len(t, ids, 2) // 20, 30 (40 excluded: hi exclusive)
}

func TestCreateFulltextIndexBackfillsAndSearches(t *testing.T) {
	tbl := newTestTable(t)
	_, err := tbl.Insert(map[string]value.Value{"bio": value.Str("loves distributed storage engines")})
	require.NoError(t, err)
	_, err = tbl.Insert(map[string]value.Value{"bio": value.Str("enjoys gardening")})
	require.NoError(t, err)

	require.NoError(t, tbl.CreateFulltextIndex("bio"))

	idx, ok := tbl.FulltextIndex("bio")
	require.True(t, ok)
	results := idx.Search("storage")
	require.Len(t, results, 1)
}
