// Package search implements the BM25 search index (C13) over entity titles
// and descriptions, per spec.md §4.13.
package search

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"grits/internal/logging"
	"grits/internal/merge"
)

const (
	k1 = 1.2
	b  = 0.75
)

// document is the indexed projection of one entity: its token counts and
// total length.
type document struct {
	id     string
	terms  map[string]int
	length int
}

// Index is a BM25 index over entity corpus text ("<title> <description>").
// It is safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	docs     map[string]*document
	df       map[string]int // document frequency per term
	totalLen int
	docOrder []string // insertion order, for stable tie-breaking
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		docs: make(map[string]*document),
		df:   make(map[string]int),
	}
}

// Tokenize lowercases s and splits on any non-alphanumeric code point,
// dropping empty tokens, per spec.md §4.13.
func Tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

func corpusText(e *merge.Entity) string {
	return e.Title + " " + e.Description
}

// Add indexes or re-indexes a single entity.
func (idx *Index) Add(e *merge.Entity) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.addLocked(e)
}

func (idx *Index) addLocked(e *merge.Entity) {
	if existing, ok := idx.docs[e.ID]; ok {
		idx.removeLocked(existing.id)
	}

	terms := make(map[string]int)
	tokens := Tokenize(corpusText(e))
	for _, tok := range tokens {
		terms[tok]++
	}
	doc := &document{id: e.ID, terms: terms, length: len(tokens)}
	idx.docs[e.ID] = doc
	idx.docOrder = append(idx.docOrder, e.ID)
	idx.totalLen += doc.length
	for term := range terms {
		idx.df[term]++
	}
}

// Remove deletes an entity from the index, per the [FULL] incremental
// maintenance extension this component exposes over a churning entity
// stream.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
}

func (idx *Index) removeLocked(id string) {
	doc, ok := idx.docs[id]
	if !ok {
		return
	}
	for term := range doc.terms {
		idx.df[term]--
		if idx.df[term] <= 0 {
			delete(idx.df, term)
		}
	}
	idx.totalLen -= doc.length
	delete(idx.docs, id)
	for i, existing := range idx.docOrder {
		if existing == id {
			idx.docOrder = append(idx.docOrder[:i], idx.docOrder[i+1:]...)
			break
		}
	}
}

// Rebuild replaces the index contents wholesale, for bulk reload after a
// merge resolver run.
func (idx *Index) Rebuild(entities []*merge.Entity) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.docs = make(map[string]*document)
	idx.df = make(map[string]int)
	idx.docOrder = nil
	idx.totalLen = 0
	for _, e := range entities {
		idx.addLocked(e)
	}
	logging.Get(logging.CategorySearch).Info("rebuilt index with %d entities", len(entities))
}

// Result is one scored hit.
type Result struct {
	ID    string
	Score float64
}

// Search ranks indexed entities against query using BM25 (k1=1.2, b=0.75),
// per spec.md §4.13. Results are sorted by score descending, with ties
// broken by insertion order for stability.
func (idx *Index) Search(query string) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docs)
	if n == 0 {
		return nil
	}
	avgLen := float64(idx.totalLen) / float64(n)

	queryTerms := Tokenize(query)
	scores := make(map[string]float64, n)
	for _, term := range queryTerms {
		df := idx.df[term]
		if df == 0 {
			continue
		}
		idfVal := math.Log((float64(n-df)+0.5)/(float64(df)+0.5) + 1)
		for docID, doc := range idx.docs {
			tf, ok := doc.terms[term]
			if !ok {
				continue
			}
			denom := float64(tf) + k1*(1-b+b*float64(doc.length)/avgLen)
			scores[docID] += idfVal * (float64(tf) * (k1 + 1)) / denom
		}
	}

	rank := make(map[string]int, len(idx.docOrder))
	for i, id := range idx.docOrder {
		rank[id] = i
	}

	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		if score > 0 {
			results = append(results, Result{ID: id, Score: score})
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return rank[results[i].ID] < rank[results[j].ID]
	})
	return results
}

// Len reports the number of indexed entities.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}
