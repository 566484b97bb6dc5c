package spill

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashJoinInMemoryMatchesPairs(t *testing.T) {
	buildRows := []Row{
		{"id": int64(1), "name": "alice"},
		{"id": int64(2), "name": "bob"},
		{"id": int64(3), "name": "carol"},
	}
	probeRows := []Row{
		{"order_id": int64(1), "user_id": int64(1)},
		{"order_id": int64(2), "user_id": int64(2)},
		{"order_id": int64(3), "user_id": int64(1)},
		{"order_id": int64(4), "user_id": int64(9)}, // no match
	}

	j := NewHashJoin(JoinOptions{
		Partitions: 4,
		Dir:        t.TempDir(),
		BuildKey:   func(r Row) any { return r["id"] },
		ProbeKey:   func(r Row) any { return r["user_id"] },
	})

	type pair struct {
		name    string
		orderID int64
	}
	var got []pair
	err := j.Run(
		func(yield func(Row) bool) {
			for _, r := range buildRows {
				if !yield(r) {
					return
				}
			}
		},
		func(yield func(Row) bool) {
			for _, r := range probeRows {
				if !yield(r) {
					return
				}
			}
		},
		func(l, r Row) bool {
			got = append(got, pair{name: l["name"].(string), orderID: r["order_id"].(int64)})
			return true
		},
	)
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestHashJoinSpillsLargestPartitionUnderPressure(t *testing.T) {
	dir := t.TempDir()
	var buildRows []Row
	for i := 0; i < 500; i++ {
		buildRows = append(buildRows, Row{"id": int64(i), "v": int64(i * 2)})
	}
	probeRows := []Row{
		{"k": int64(10)},
		{"k": int64(499)},
		{"k": int64(0)},
	}

	j := NewHashJoin(JoinOptions{
		Partitions:               4,
		Dir:                      dir,
		MaxResidentPartitionRows: 20,
		BuildKey:                 func(r Row) any { return r["id"] },
		ProbeKey:                 func(r Row) any { return r["k"] },
	})

	matched := 0
	err := j.Run(
		func(yield func(Row) bool) {
			for _, r := range buildRows {
				if !yield(r) {
					return
				}
			}
		},
		func(yield func(Row) bool) {
			for _, r := range probeRows {
				if !yield(r) {
					return
				}
			}
		},
		func(l, r Row) bool {
			matched++
			return true
		},
	)
	require.NoError(t, err)
	require.Equal(t, 3, matched)
}
