package spill

import (
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func lessByN(a, b Row) bool {
	return a["n"].(int64) < b["n"].(int64)
}

func TestSpillResidentForcesChunkToDisk(t *testing.T) {
	s := NewExternalSort(SortOptions{MaxRowsPerChunk: 1000, Dir: t.TempDir(), Less: lessByN})
	defer s.Cleanup()
	for i := int64(0); i < 10; i++ {
		require.NoError(t, s.Add(Row{"n": 10 - i}))
	}

	n, err := s.SpillResident()
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, 1, s.SpillFileCount())

	// Spilling with nothing resident is a no-op.
	n, err = s.SpillResident()
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, 1, s.SpillFileCount())

	it, err := s.Finish()
	require.NoError(t, err)
	defer it.Close()
	var got []int64
	for {
		row, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, row["n"].(int64))
	}
	require.Len(t, got, 10)
	for i := 1; i < len(got); i++ {
		require.LessOrEqual(t, got[i-1], got[i])
	}
}

func TestExternalSortSmallInputNoSpill(t *testing.T) {
	s := NewExternalSort(SortOptions{MaxRowsPerChunk: 1000, Dir: t.TempDir(), Less: lessByN})
	for _, n := range []int64{5, 3, 1, 4, 2} {
		require.NoError(t, s.Add(Row{"n": n}))
	}
	it, err := s.Finish()
	require.NoError(t, err)

	var got []int64
	for {
		row, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, row["n"].(int64))
	}
	require.Equal(t, []int64{1, 2, 3, 4, 5}, got)
}

func TestExternalSortSpillsAndMergesInOrder(t *testing.T) {
	dir := t.TempDir()
	s := NewExternalSort(SortOptions{MaxRowsPerChunk: 50, Dir: dir, Less: lessByN})

	r := rand.New(rand.NewSource(1))
	const total = 5000
	perm := r.Perm(total)
	for _, n := range perm {
		require.NoError(t, s.Add(Row{"n": int64(n)}))
	}

	it, err := s.Finish()
	require.NoError(t, err)
	defer it.Close()

	count := 0
	var prev int64 = -1
	for {
		row, ok := it.Next()
		if !ok {
			break
		}
		n := row["n"].(int64)
		require.GreaterOrEqual(t, n, prev)
		prev = n
		count++
	}
	require.Equal(t, total, count)
	s.Cleanup()
}

func TestExternalSortCleanupRemovesSpillFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewExternalSort(SortOptions{MaxRowsPerChunk: 10, Dir: dir, Less: lessByN})
	for i := 0; i < 100; i++ {
		require.NoError(t, s.Add(Row{"n": int64(100 - i)}))
	}
	it, err := s.Finish()
	require.NoError(t, err)
	it.Close()
	require.NotEmpty(t, s.files)
	s.Cleanup()

	for _, f := range s.files {
		_, statErr := os.Stat(f)
		require.Error(t, statErr)
	}
}
