package fulltext

import "github.com/google/uuid"

// Insert tokenizes text and adds postings for rowID.
func (idx *Index) Insert(rowID uuid.UUID, text string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.insertLocked(rowID, text)
}

func (idx *Index) insertLocked(rowID uuid.UUID, text string) {
	tokens := Tokenize(text)
	idx.docLen[rowID] = len(tokens)
	for _, tok := range tokens {
		m, ok := idx.postings[tok]
		if !ok {
			m = make(map[uuid.UUID]int)
			idx.postings[tok] = m
		}
		m[rowID]++
	}
}

// Update removes rowID's old postings and indexes the new text.
func (idx *Index) Update(rowID uuid.UUID, text string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.deleteLocked(rowID)
	idx.insertLocked(rowID, text)
}

// Delete removes rowID's postings, dropping any token whose posting map
// becomes empty.
func (idx *Index) Delete(rowID uuid.UUID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.deleteLocked(rowID)
}

func (idx *Index) deleteLocked(rowID uuid.UUID) {
	if _, ok := idx.docLen[rowID]; !ok {
		return
	}
	for tok, m := range idx.postings {
		if _, ok := m[rowID]; ok {
			delete(m, rowID)
			if len(m) == 0 {
				delete(idx.postings, tok)
			}
		}
	}
	delete(idx.docLen, rowID)
}

// DocCount returns the number of documents currently indexed.
func (idx *Index) DocCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docLen)
}
