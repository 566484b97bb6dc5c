// Package engine implements the database/table layer on top of the LSM
// engine (pkg/lsm): one LSM namespace per (database,table), the UUID
// row id as the LSM key, and the serialized value.Object as the LSM
// value. The hosting process (HTTP handlers, node discovery, config
// loading) constructs one Catalog at startup and passes it down; there
// is no package-level singleton.
package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/serengeti-db/serengeti/pkg/cache"
	"github.com/serengeti-db/serengeti/pkg/errs"
	"github.com/serengeti-db/serengeti/pkg/fulltext"
	"github.com/serengeti-db/serengeti/pkg/logging"
	"github.com/serengeti-db/serengeti/pkg/lsm"
	"github.com/serengeti-db/serengeti/pkg/memctl"
	"github.com/serengeti-db/serengeti/pkg/metrics"
	"github.com/serengeti-db/serengeti/pkg/wal"
)

// Options configures a Catalog at construction: the engine's tuning
// knobs plus the data-root path under which all state is persisted.
type Options struct {
	DataDir          string
	MemTableMaxBytes int
	MaxImmutables    int
	CompactionOpts   lsm.CompactionOptions
	WALSyncMode      wal.SyncMode
	Cache            *cache.Options
	MemoryPoolBytes  int64
	Logger           logging.Logger
	Metrics          *metrics.Registry
}

func (o *Options) setDefaults() {
	if o.DataDir == "" {
		o.DataDir = "."
	}
	if o.MemoryPoolBytes <= 0 {
		o.MemoryPoolBytes = 256 << 20
	}
	if o.Logger == nil {
		o.Logger = logging.NewNopLogger()
	}
}

// Catalog owns every Database in one node's data root: the single
// explicitly constructed value a hosting process creates once at
// startup and passes down through the query executor (DESIGN NOTES,
// "process-wide mutable state").
type Catalog struct {
	mu   sync.RWMutex
	opts Options

	databases map[string]*Database
	fulltext  *fulltext.Registry
	mem       *memctl.Pool
}

// Open loads (or initializes) a Catalog rooted at opts.DataDir, reading
// every "<db>.meta" file it finds and reloading each table's LSM engine
// and fulltext indexes.
func Open(opts Options) (*Catalog, error) {
	opts.setDefaults()
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, errs.IO("mkdir data root", err)
	}

	ftReg, err := fulltext.LoadRegistry(opts.DataDir)
	if err != nil {
		return nil, errs.IO("load fulltext registry", err)
	}

	c := &Catalog{
		opts:      opts,
		databases: make(map[string]*Database),
		fulltext:  ftReg,
		mem:       memctl.NewPool(opts.MemoryPoolBytes),
	}
	c.mem.Metrics = opts.Metrics

	entries, err := os.ReadDir(opts.DataDir)
	if err != nil {
		return nil, errs.IO("read data root", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".meta" {
			continue
		}
		name := e.Name()[:len(e.Name())-len(".meta")]
		if _, err := c.openDatabase(name); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MemPool exposes the process-wide buffer pool so the query executor can
// carve out per-query budgets.
func (c *Catalog) MemPool() *memctl.Pool { return c.mem }

// Fulltext exposes the index registry for the executor's CONTAINS/FUZZY
// search path and CREATE/DROP INDEX DDL.
func (c *Catalog) Fulltext() *fulltext.Registry { return c.fulltext }

type dbMeta struct {
	Name   string   `json:"name"`
	Tables []string `json:"tables"`
}

func (c *Catalog) metaPath(name string) string {
	return filepath.Join(c.opts.DataDir, name+".meta")
}

// CreateDatabase creates a new, empty database, persisting its metadata
// file.
func (c *Catalog) CreateDatabase(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.databases[name]; ok {
		return errs.AlreadyExists("database", name)
	}
	db := &Database{name: name, tables: make(map[string]*Table)}
	c.databases[name] = db
	return c.saveMetaLocked(db)
}

// DropDatabase closes and removes every table in the database, then
// deletes its metadata and directory.
func (c *Catalog) DropDatabase(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, ok := c.databases[name]
	if !ok {
		return errs.NotFound("database", name)
	}
	for _, t := range db.tables {
		_ = t.lsm.Close()
	}
	delete(c.databases, name)
	_ = os.Remove(c.metaPath(name))
	return os.RemoveAll(filepath.Join(c.opts.DataDir, name))
}

// Database returns the named database.
func (c *Catalog) Database(name string) (*Database, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	db, ok := c.databases[name]
	return db, ok
}

// Databases lists every database name, for SHOW DATABASES.
func (c *Catalog) Databases() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.databases))
	for name := range c.databases {
		out = append(out, name)
	}
	return out
}

func (c *Catalog) openDatabase(name string) (*Database, error) {
	data, err := os.ReadFile(c.metaPath(name))
	if err != nil {
		return nil, errs.IO("read db meta", err)
	}
	var meta dbMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errs.CorruptData(c.metaPath(name), err)
	}
	db := &Database{name: name, tables: make(map[string]*Table)}
	for _, tableName := range meta.Tables {
		t, err := c.openTable(name, tableName)
		if err != nil {
			return nil, err
		}
		db.tables[tableName] = t
	}
	c.databases[name] = db
	return db, nil
}

func (c *Catalog) saveMetaLocked(db *Database) error {
	names := make([]string, 0, len(db.tables))
	for n := range db.tables {
		names = append(names, n)
	}
	data, err := json.Marshal(dbMeta{Name: db.name, Tables: names})
	if err != nil {
		return err
	}
	return os.WriteFile(c.metaPath(db.name), data, 0o644)
}

// CreateTable opens (creating on first use) the LSM namespace for
// (dbName,tableName) and registers it in the database's metadata.
func (c *Catalog) CreateTable(dbName, tableName string) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, ok := c.databases[dbName]
	if !ok {
		return nil, errs.NotFound("database", dbName)
	}
	if _, exists := db.tables[tableName]; exists {
		return nil, errs.AlreadyExists("table", tableName)
	}
	t, err := c.openTable(dbName, tableName)
	if err != nil {
		return nil, err
	}
	db.tables[tableName] = t
	return t, c.saveMetaLocked(db)
}

// DropTable closes the table's LSM engine, drops its fulltext indexes,
// and removes it from the database's metadata.
func (c *Catalog) DropTable(dbName, tableName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, ok := c.databases[dbName]
	if !ok {
		return errs.NotFound("database", dbName)
	}
	t, ok := db.tables[tableName]
	if !ok {
		return errs.NotFound("table", tableName)
	}
	_ = t.lsm.Close()
	for col := range t.fulltextCols {
		_ = c.fulltext.Drop(dbName, tableName, col)
	}
	delete(db.tables, tableName)
	_ = os.RemoveAll(filepath.Join(c.opts.DataDir, dbName, tableName))
	return c.saveMetaLocked(db)
}

func (c *Catalog) openTable(dbName, tableName string) (*Table, error) {
	dir := filepath.Join(c.opts.DataDir, dbName, tableName)
	var cacheOpts cache.Options
	if c.opts.Cache != nil {
		cacheOpts = *c.opts.Cache
	}
	cacheOpts.Metrics = c.opts.Metrics
	eng, err := lsm.Open(lsm.EngineOptions{
		Dir:              dir,
		MemTableMaxBytes: c.opts.MemTableMaxBytes,
		MaxImmutables:    c.opts.MaxImmutables,
		Cache:            cache.New(cacheOpts),
		WAL:              wal.Options{Dir: filepath.Join(dir, "wal"), SyncMode: c.opts.WALSyncMode},
		Compaction:       c.opts.CompactionOpts,
		Logger:           c.opts.Logger,
		Metrics:          c.opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: open table %s.%s: %w", dbName, tableName, err)
	}
	return &Table{
		db:           dbName,
		name:         tableName,
		lsm:          eng,
		catalog:      c,
		indexedCols:  make(map[string]bool),
		fulltextCols: make(map[string]bool),
	}, nil
}

// Close closes every open table's LSM engine and flushes the fulltext
// registry, for clean process shutdown.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, db := range c.databases {
		for _, t := range db.tables {
			if err := t.lsm.Close(); err != nil {
				return err
			}
		}
	}
	return c.fulltext.Flush()
}

// Database is a named collection of tables.
type Database struct {
	name   string
	tables map[string]*Table
}

func (d *Database) Name() string { return d.name }

// Table returns the named table.
func (d *Database) Table(name string) (*Table, bool) {
	t, ok := d.tables[name]
	return t, ok
}

// Tables lists every table name, for SHOW TABLES.
func (d *Database) Tables() []string {
	out := make([]string, 0, len(d.tables))
	for name := range d.tables {
		out = append(out, name)
	}
	return out
}
