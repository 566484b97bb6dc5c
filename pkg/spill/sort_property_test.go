package spill

import (
	"os"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestExternalSortProperty: for any input and
// comparator, the merged output is a permutation of the input and
// non-decreasing. A chunk size of 8 forces multiple spill files for
// most generated inputs.
func TestExternalSortProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	dir := t.TempDir()

	properties.Property("output is a sorted permutation of input", prop.ForAll(
		func(values []int64) bool {
			s := NewExternalSort(SortOptions{
				MaxRowsPerChunk: 8,
				Dir:             dir,
				QueryID:         "prop",
				OpID:            "sort",
				Less:            lessByN,
			})
			defer s.Cleanup()

			for _, v := range values {
				if err := s.Add(Row{"n": v}); err != nil {
					return false
				}
			}
			it, err := s.Finish()
			if err != nil {
				return false
			}
			defer it.Close()

			var got []int64
			for {
				row, ok := it.Next()
				if !ok {
					break
				}
				got = append(got, row["n"].(int64))
			}

			if len(got) != len(values) {
				return false
			}
			for i := 1; i < len(got); i++ {
				if got[i-1] > got[i] {
					return false
				}
			}

			want := append([]int64(nil), values...)
			sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
			for i := range want {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64()),
	))

	properties.TestingRun(t)
}

// TestExternalSortCleanupProperty: no spill files survive Cleanup, on
// inputs large enough to spill.
func TestExternalSortCleanupProperty(t *testing.T) {
	base := t.TempDir()
	s := NewExternalSort(SortOptions{
		MaxRowsPerChunk: 4,
		Dir:             base,
		QueryID:         "q",
		OpID:            "sort",
		Less:            lessByN,
	})
	for i := int64(0); i < 100; i++ {
		if err := s.Add(Row{"n": 100 - i}); err != nil {
			t.Fatal(err)
		}
	}
	it, err := s.Finish()
	if err != nil {
		t.Fatal(err)
	}
	for {
		if _, ok := it.Next(); !ok {
			break
		}
	}
	it.Close()
	s.Cleanup()

	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no spill files after cleanup, found %d", len(entries))
	}
}
