package fulltext

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// key identifies one indexed column.
type key struct {
	DB, Table, Column string
}

// Registry owns every Index for a node's data root, backed by a global
// fulltext_metadata.json registry file plus one
// <db>/<table>/fulltext/<col>.ftidx file per indexed column.
type Registry struct {
	mu      sync.RWMutex
	dataDir string
	indexes map[key]*Index
}

// NewRegistry opens (or prepares to create) the registry rooted at dataDir.
func NewRegistry(dataDir string) *Registry {
	return &Registry{dataDir: dataDir, indexes: make(map[key]*Index)}
}

func (r *Registry) path(db, table, col string) string {
	return filepath.Join(r.dataDir, db, table, "fulltext", col+".ftidx")
}

func (r *Registry) metaPath() string {
	return filepath.Join(r.dataDir, "fulltext_metadata.json")
}

// Create registers a new, empty index for (db,table,column) and persists
// the registry metadata. Returns the index so callers can populate it.
func (r *Registry) Create(db, table, col string) (*Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{db, table, col}
	if idx, ok := r.indexes[k]; ok {
		return idx, nil
	}
	idx := New()
	r.indexes[k] = idx
	return idx, r.saveMetaLocked()
}

// Get returns the in-memory index for (db,table,column). It does not
// read from disk; LoadRegistry loads every persisted index at startup.
func (r *Registry) Get(db, table, col string) (*Index, bool) {
	r.mu.RLock()
	idx, ok := r.indexes[key{db, table, col}]
	r.mu.RUnlock()
	return idx, ok
}

// Drop removes an index's in-memory and on-disk state.
func (r *Registry) Drop(db, table, col string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{db, table, col}
	delete(r.indexes, k)
	_ = os.Remove(r.path(db, table, col))
	return r.saveMetaLocked()
}

// Flush persists every registered index plus the registry metadata file.
func (r *Registry) Flush() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k, idx := range r.indexes {
		p := r.path(k.DB, k.Table, k.Column)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := idx.Save(p); err != nil {
			return err
		}
	}
	return r.saveMetaLocked()
}

type metaEntry struct {
	DB, Table, Column string
}

func (r *Registry) saveMetaLocked() error {
	entries := make([]metaEntry, 0, len(r.indexes))
	for k := range r.indexes {
		entries = append(entries, metaEntry{k.DB, k.Table, k.Column})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.dataDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(r.metaPath(), data, 0o644)
}

// LoadRegistry reads fulltext_metadata.json (if present) and eagerly loads
// every listed index's .ftidx file at startup.
func LoadRegistry(dataDir string) (*Registry, error) {
	r := NewRegistry(dataDir)
	data, err := os.ReadFile(r.metaPath())
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []metaEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	for _, e := range entries {
		idx, err := Load(r.path(e.DB, e.Table, e.Column))
		if err != nil {
			idx = New()
		}
		r.indexes[key{e.DB, e.Table, e.Column}] = idx
	}
	return r, nil
}
