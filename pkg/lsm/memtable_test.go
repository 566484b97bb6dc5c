package lsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemTablePutGetDelete(t *testing.T) {
	mt := NewMemTable(1 << 20)
	mt.Put([]byte("a"), []byte("1"), 1)
	mt.Put([]byte("b"), []byte("2"), 2)
	mt.Delete([]byte("a"), 3)

	e, ok := mt.Get([]byte("a"))
	require.True(t, ok)
	require.True(t, e.Tombstone)
	require.Equal(t, uint64(3), e.Sequence)

	e, ok = mt.Get([]byte("b"))
	require.True(t, ok)
	require.False(t, e.Tombstone)
	require.Equal(t, "2", string(e.Value))

	_, ok = mt.Get([]byte("missing"))
	require.False(t, ok)
}

func TestMemTableIterRangeAscending(t *testing.T) {
	mt := NewMemTable(1 << 20)
	for _, k := range []string{"c", "a", "e", "b", "d"} {
		mt.Put([]byte(k), []byte("v"), 1)
	}
	entries := mt.IterRange([]byte("b"), []byte("e"))
	require.Len(t, entries, 3)
	require.Equal(t, "b", string(entries[0].Key))
	require.Equal(t, "c", string(entries[1].Key))
	require.Equal(t, "d", string(entries[2].Key))
}

func TestMemTableLifecycle(t *testing.T) {
	mt := NewMemTable(10)
	require.Equal(t, MemMutable, mt.State())
	mt.Freeze()
	require.Equal(t, MemImmutable, mt.State())
	mt.Drop()
	require.Equal(t, MemDropped, mt.State())
}

func TestMemTableIsFull(t *testing.T) {
	mt := NewMemTable(4)
	require.False(t, mt.IsFull())
	mt.Put([]byte("k"), []byte("value"), 1)
	require.True(t, mt.IsFull())
}
