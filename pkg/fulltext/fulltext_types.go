// Package fulltext implements the inverted index: a per
// (database,table,column) token -> {row_id: tf} posting map with
// incremental maintenance hooks and TF-IDF ranked search. TF is term
// frequency over document token count; IDF is derived from the
// posting-set union rather than the full corpus.
package fulltext

import (
	"sync"

	"github.com/google/uuid"
)

// stopWords is the fixed small set excluded from indexing.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "he": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"that": true, "the": true, "to": true, "was": true, "were": true,
	"will": true, "with": true,
}

// posting records how many times a token occurs in one document; the
// document's total token count lives in Index.docLen.
type posting struct {
	count int
}

// Index is the inverted index for one (database, table, column).
type Index struct {
	mu sync.RWMutex

	// token -> rowID -> occurrence count within that document.
	postings map[string]map[uuid.UUID]int
	// rowID -> total indexed-field token count, for TF normalization.
	docLen map[uuid.UUID]int
}

// New constructs an empty Index.
func New() *Index {
	return &Index{
		postings: make(map[string]map[uuid.UUID]int),
		docLen:   make(map[uuid.UUID]int),
	}
}

// Result is one scored hit from Search.
type Result struct {
	RowID     uuid.UUID
	Relevance float64
}
