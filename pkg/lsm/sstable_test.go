package lsm

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestTable(t *testing.T, dir string, n int) (*SSTable, string) {
	t.Helper()
	mt := NewMemTable(1 << 20)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%04d", i)
		mt.Put([]byte(key), []byte("value-"+key), uint64(i+1))
	}
	mt.Delete([]byte("key-0005"), uint64(n+1))

	path := filepath.Join(dir, "000001.sst")
	_, err := WriteSSTable(path, memTableSource(mt.SortedEntries()), WriteSSTableOptions{
		Level:            0,
		TargetBlockBytes: 256, // force several blocks
		ExpectedEntries:  n,
	})
	require.NoError(t, err)

	tbl, err := OpenSSTable(path, nil)
	require.NoError(t, err)
	return tbl, path
}

func TestSSTableWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tbl, _ := buildTestTable(t, dir, 100)
	defer tbl.Close()

	value, tombstone, seq, found, err := tbl.Get([]byte("key-0042"))
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, tombstone)
	require.Equal(t, uint64(43), seq)
	require.Equal(t, "value-key-0042", string(value))

	_, tombstone, _, found, err = tbl.Get([]byte("key-0005"))
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, tombstone)

	_, _, _, found, err = tbl.Get([]byte("key-9999"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestSSTableBloomRejectsAbsentKeys(t *testing.T) {
	dir := t.TempDir()
	tbl, _ := buildTestTable(t, dir, 50)
	defer tbl.Close()

	require.False(t, tbl.bloom.MayContain([]byte("definitely-not-present-xyz")))
}

func TestSSTableIterRange(t *testing.T) {
	dir := t.TempDir()
	tbl, _ := buildTestTable(t, dir, 20)
	defer tbl.Close()

	entries, err := tbl.IterRange([]byte("key-0005"), []byte("key-0010"))
	require.NoError(t, err)
	require.Len(t, entries, 5)
	require.Equal(t, "key-0005", string(entries[0].Key))
	require.Equal(t, "key-0009", string(entries[len(entries)-1].Key))
}

func TestSSTableOverlapsAndRange(t *testing.T) {
	dir := t.TempDir()
	tbl, _ := buildTestTable(t, dir, 10)
	defer tbl.Close()

	require.Equal(t, "key-0000", string(tbl.MinKey()))
	require.Equal(t, "key-0009", string(tbl.MaxKey()))
	require.True(t, tbl.Overlaps([]byte("key-0003"), []byte("key-0007")))
	require.False(t, tbl.Overlaps([]byte("zzz"), nil))
}

func TestSSTableRefcounting(t *testing.T) {
	dir := t.TempDir()
	tbl, _ := buildTestTable(t, dir, 5)
	defer tbl.Close()

	tbl.Retain()
	require.False(t, tbl.Release())
	require.True(t, tbl.Release())
}
