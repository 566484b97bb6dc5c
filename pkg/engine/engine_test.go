package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/serengeti-db/serengeti/pkg/value"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(Options{
		DataDir:          t.TempDir(),
		MemTableMaxBytes: 4096,
		MemoryPoolBytes:  1 << 20,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCreateDatabaseAndTable(t *testing.T) {
	c := newTestCatalog(t)

	require.NoError(t, c.CreateDatabase("shop"))
	_, err := c.CreateTable("shop", "orders")
	require.NoError(t, err)

	db, ok := c.Database("shop")
	require.True(t, ok)
	require.Contains(t, db.Tables(), "orders")
}

func TestCreateDatabaseTwiceFails(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, c.CreateDatabase("shop"))
	err := c.CreateDatabase("shop")
	require.Error(t, err)
}

func TestCreateTableInMissingDatabaseFails(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.CreateTable("nope", "orders")
	require.Error(t, err)
}

func TestDropTableRemovesFromMetadata(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, c.CreateDatabase("shop"))
	_, err := c.CreateTable("shop", "orders")
	require.NoError(t, err)

	require.NoError(t, c.DropTable("shop", "orders"))
	db, _ := c.Database("shop")
	require.NotContains(t, db.Tables(), "orders")
}

func TestDropDatabaseRemovesEverything(t *testing.T) {
	c := newTestCatalog(t)
	require.NoError(t, c.CreateDatabase("shop"))
	_, err := c.CreateTable("shop", "orders")
	require.NoError(t, err)

	require.NoError(t, c.DropDatabase("shop"))
	_, ok := c.Database("shop")
	require.False(t, ok)
}

func TestReopenCatalogReloadsDatabasesAndTables(t *testing.T) {
	dir := t.TempDir()
	c1, err := Open(Options{DataDir: dir, MemTableMaxBytes: 4096, MemoryPoolBytes: 1 << 20})
	require.NoError(t, err)
	require.NoError(t, c1.CreateDatabase("shop"))
	tbl, err := c1.CreateTable("shop", "orders")
	require.NoError(t, err)
	_, err = tbl.Insert(map[string]value.Value{})
	require.NoError(t, err)
	require.NoError(t, c1.Close())

	c2, err := Open(Options{DataDir: dir, MemTableMaxBytes: 4096, MemoryPoolBytes: 1 << 20})
	require.NoError(t, err)
	defer c2.Close()

	db, ok := c2.Database("shop")
	require.True(t, ok)
	require.Contains(t, db.Tables(), "orders")
}
