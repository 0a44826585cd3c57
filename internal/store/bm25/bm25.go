// Package bm25 provides an in-memory inverted index scored with Okapi
// BM25. It backs the sparse path of hybrid search; the corpus sizes
// searchd targets fit comfortably in memory, and keeping the index local
// avoids a network hop on the latency-critical sparse leg.
package bm25

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/fyrsmithlabs/searchd/internal/store"
)

const (
	// Okapi BM25 constants (Robertson et al.).
	defaultK1 = 1.2
	defaultB  = 0.75
)

type entry struct {
	chunk store.Chunk
	// termFreqs maps token -> occurrences within the chunk.
	termFreqs map[string]int
	length    int
}

// Store is a thread-safe in-memory BM25 index.
type Store struct {
	mu sync.RWMutex

	k1 float64
	b  float64

	// entries maps chunk ID -> indexed entry.
	entries map[string]*entry
	// postings maps token -> set of chunk IDs containing it.
	postings map[string]map[string]struct{}
	// totalLength is the sum of all chunk lengths, for avgdl.
	totalLength int
}

// Option configures a Store.
type Option func(*Store)

// WithParameters overrides the k1 and b constants.
func WithParameters(k1, b float64) Option {
	return func(s *Store) {
		s.k1 = k1
		s.b = b
	}
}

// New creates an empty BM25 store.
func New(opts ...Option) *Store {
	s := &Store{
		k1:       defaultK1,
		b:        defaultB,
		entries:  make(map[string]*entry),
		postings: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert indexes chunks, replacing existing entries with the same IDs.
func (s *Store) Upsert(ctx context.Context, chunks []store.Chunk) error {
	if len(chunks) == 0 {
		return store.ErrEmptyBatch
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chunk := range chunks {
		s.removeLocked(chunk.ID)

		tokens := Tokenize(chunk.Text)
		freqs := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			freqs[tok]++
		}

		s.entries[chunk.ID] = &entry{
			chunk:     chunk,
			termFreqs: freqs,
			length:    len(tokens),
		}
		s.totalLength += len(tokens)

		for tok := range freqs {
			ids, ok := s.postings[tok]
			if !ok {
				ids = make(map[string]struct{})
				s.postings[tok] = ids
			}
			ids[chunk.ID] = struct{}{}
		}
	}

	return nil
}

// DeleteByFilter removes all chunks whose metadata matches the filters.
// An empty filter set removes nothing.
func (s *Store) DeleteByFilter(ctx context.Context, filters map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(filters) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		if store.MatchesFilters(e.chunk.Metadata, filters) {
			s.removeLocked(id)
		}
	}
	return nil
}

// Search scores the query against the index and returns the top k
// candidates, ordered by descending score with ties broken by ascending
// chunk ID.
func (s *Store) Search(ctx context.Context, query string, k int, filters map[string]string) ([]store.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.entries)
	if n == 0 {
		return nil, nil
	}
	avgdl := float64(s.totalLength) / float64(n)
	if avgdl == 0 {
		avgdl = 1
	}

	// Deduplicate query terms; repeated terms do not compound.
	seen := make(map[string]struct{}, len(tokens))
	scores := make(map[string]float64)
	for _, tok := range tokens {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}

		ids, ok := s.postings[tok]
		if !ok {
			continue
		}
		df := float64(len(ids))
		idf := math.Log(1 + (float64(n)-df+0.5)/(df+0.5))

		for id := range ids {
			e := s.entries[id]
			tf := float64(e.termFreqs[tok])
			norm := 1 - s.b + s.b*float64(e.length)/avgdl
			scores[id] += idf * (tf * (s.k1 + 1)) / (tf + s.k1*norm)
		}
	}

	candidates := make([]store.Candidate, 0, len(scores))
	for id, score := range scores {
		e := s.entries[id]
		if len(filters) > 0 && !store.MatchesFilters(e.chunk.Metadata, filters) {
			continue
		}
		candidates = append(candidates, store.Candidate{
			ID:       id,
			Score:    score,
			Text:     e.chunk.Text,
			Metadata: e.chunk.Metadata,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ID < candidates[j].ID
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// Len returns the number of indexed chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// removeLocked drops a chunk from the index. Caller holds the write lock.
func (s *Store) removeLocked(id string) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	for tok := range e.termFreqs {
		ids := s.postings[tok]
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.postings, tok)
		}
	}
	s.totalLength -= e.length
	delete(s.entries, id)
}

// Tokenize lowercases text and splits on any non-alphanumeric rune.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
