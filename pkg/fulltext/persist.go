package fulltext

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
)

// snapshot is the on-disk shape of one Index, serialized as JSON like
// the rest of the engine's metadata files.
type snapshot struct {
	Postings map[string]map[string]int `json:"postings"`
	DocLen   map[string]int            `json:"doc_len"`
}

// Save serializes the index to path (a table's fulltext/<col>.ftidx file
// layout).
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	snap := snapshot{
		Postings: make(map[string]map[string]int, len(idx.postings)),
		DocLen:   make(map[string]int, len(idx.docLen)),
	}
	for tok, m := range idx.postings {
		inner := make(map[string]int, len(m))
		for rowID, count := range m {
			inner[rowID.String()] = count
		}
		snap.Postings[tok] = inner
	}
	for rowID, n := range idx.docLen {
		snap.DocLen[rowID.String()] = n
	}
	idx.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reloads an Index previously written by Save, for startup recovery.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	idx := New()
	for tok, m := range snap.Postings {
		inner := make(map[uuid.UUID]int, len(m))
		for rowIDStr, count := range m {
			rowID, err := uuid.Parse(rowIDStr)
			if err != nil {
				continue
			}
			inner[rowID] = count
		}
		idx.postings[tok] = inner
	}
	for rowIDStr, n := range snap.DocLen {
		rowID, err := uuid.Parse(rowIDStr)
		if err != nil {
			continue
		}
		idx.docLen[rowID] = n
	}
	return idx, nil
}

// Rebuild discards all postings and replays docs via the supplied scan
// function, which must call the yield callback once per (rowID, text).
// Rebuild works by replaying the table scan.
func (idx *Index) Rebuild(scan func(yield func(rowID uuid.UUID, text string)) error) error {
	idx.mu.Lock()
	idx.postings = make(map[string]map[uuid.UUID]int)
	idx.docLen = make(map[uuid.UUID]int)
	idx.mu.Unlock()

	return scan(func(rowID uuid.UUID, text string) {
		idx.Insert(rowID, text)
	})
}
