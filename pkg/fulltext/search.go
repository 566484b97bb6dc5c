package fulltext

import (
	"math"
	"sort"

	"github.com/google/uuid"
)

// Search tokenizes query and returns row ids ordered by descending
// cumulative TF-IDF across the query tokens. TF is term frequency
// divided by the document's total token count; IDF is computed from the
// union of posting sets touched by the query's tokens, not a full-table
// document count.
func (idx *Index) Search(query string) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	union := make(map[uuid.UUID]bool)
	for _, tok := range tokens {
		for rowID := range idx.postings[tok] {
			union[rowID] = true
		}
	}
	totalDocs := len(union)
	if totalDocs == 0 {
		return nil
	}

	scores := make(map[uuid.UUID]float64, len(union))
	for _, tok := range tokens {
		postings, ok := idx.postings[tok]
		if !ok {
			continue
		}
		df := len(postings)
		idf := math.Log(float64(totalDocs+1) / float64(df+1))
		for rowID, count := range postings {
			docLen := idx.docLen[rowID]
			if docLen == 0 {
				continue
			}
			tf := float64(count) / float64(docLen)
			scores[rowID] += tf * idf
		}
	}

	results := make([]Result, 0, len(scores))
	for rowID, score := range scores {
		results = append(results, Result{RowID: rowID, Relevance: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Relevance != results[j].Relevance {
			return results[i].Relevance > results[j].Relevance
		}
		// Deterministic tie-break on row id bytes.
		return results[i].RowID.String() < results[j].RowID.String()
	})
	return results
}

// Contains reports whether any document contains every token in query,
// ignoring relevance — used for the CONTAINS operator's boolean form
// when callers only need membership, not ranking.
func (idx *Index) Contains(query string) map[uuid.UUID]bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}
	var candidate map[uuid.UUID]bool
	for i, tok := range tokens {
		termSet := make(map[uuid.UUID]bool, len(idx.postings[tok]))
		for rowID := range idx.postings[tok] {
			termSet[rowID] = true
		}
		if i == 0 {
			candidate = termSet
			continue
		}
		next := make(map[uuid.UUID]bool)
		for rowID := range candidate {
			if termSet[rowID] {
				next[rowID] = true
			}
		}
		candidate = next
	}
	return candidate
}

// Fuzzy returns row ids containing any token within Levenshtein
// distance of query; a non-positive distance falls back to the default
// of 2.
func (idx *Index) Fuzzy(query string, distance int) map[uuid.UUID]bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if distance <= 0 {
		distance = 2
	}

	needle := Tokenize(query)
	term := query
	if len(needle) > 0 {
		term = needle[0]
	}
	matches := make(map[uuid.UUID]bool)
	for tok, postings := range idx.postings {
		if levenshtein(term, tok) <= distance {
			for rowID := range postings {
				matches[rowID] = true
			}
		}
	}
	return matches
}

// Levenshtein returns the edit distance between a and b, exported for
// callers matching FUZZY against a column that carries no text index.
func Levenshtein(a, b string) int { return levenshtein(a, b) }

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			cur[j] = m
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
