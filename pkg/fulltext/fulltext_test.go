package fulltext

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestTokenizeDropsStopWordsAndLowercases(t *testing.T) {
	toks := Tokenize("The Storage Engine is Fast")
	require.Equal(t, []string{"storage", "engine", "fast"}, toks)
}

func TestTokenizeIdempotent(t *testing.T) {
	text := "Database Storage Engine tuning, and the engine!"
	once := Tokenize(text)
	twice := Tokenize(joinTokens(once))
	require.ElementsMatch(t, once, twice)
}

func joinTokens(toks []string) string {
	out := ""
	for i, t := range toks {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}

func TestSearchOrdersByTFIDF(t *testing.T) {
	idx := New()
	d1, d2, d3 := uuid.New(), uuid.New(), uuid.New()
	idx.Insert(d1, "database storage engine")
	idx.Insert(d2, "storage only")
	idx.Insert(d3, "engine tuning")

	results := idx.Search("storage engine")
	require.Len(t, results, 3)
	require.Equal(t, d1, results[0].RowID)
	require.Greater(t, results[0].Relevance, 0.0)
}

func TestUpdateReplacesPostings(t *testing.T) {
	idx := New()
	id := uuid.New()
	idx.Insert(id, "alpha beta")
	require.Equal(t, 1, idx.DocCount())

	idx.Update(id, "gamma delta")
	res := idx.Search("alpha")
	require.Empty(t, res)
	res = idx.Search("gamma")
	require.Len(t, res, 1)
}

func TestDeleteDropsEmptyTokenEntries(t *testing.T) {
	idx := New()
	id := uuid.New()
	idx.Insert(id, "unique term")
	idx.Delete(id)

	require.Equal(t, 0, idx.DocCount())
	require.Empty(t, idx.postings)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	idx := New()
	id := uuid.New()
	idx.Insert(id, "persisted content here")

	dir := t.TempDir()
	path := filepath.Join(dir, "col.ftidx")
	require.NoError(t, idx.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	res := loaded.Search("persisted")
	require.Len(t, res, 1)
	require.Equal(t, id, res[0].RowID)
}

func TestRegistryCreateFlushReload(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir)
	idx, err := reg.Create("db1", "users", "bio")
	require.NoError(t, err)
	id := uuid.New()
	idx.Insert(id, "storage engine tuning")
	require.NoError(t, reg.Flush())

	reloaded, err := LoadRegistry(dir)
	require.NoError(t, err)
	got, ok := reloaded.Get("db1", "users", "bio")
	require.True(t, ok)
	res := got.Search("tuning")
	require.Len(t, res, 1)
}

func TestFuzzyMatchesWithinDistance(t *testing.T) {
	idx := New()
	id := uuid.New()
	idx.Insert(id, "serengeti")

	matches := idx.Fuzzy("serengti", 2)
	require.True(t, matches[id])
}
