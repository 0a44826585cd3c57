// Package store defines the retrieval backends searchd fans out to: a
// sparse lexical index and a dense vector index, behind one candidate
// contract so the search service can treat both paths uniformly.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the requested chunk or document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDimensionMismatch indicates a vector's dimensionality does not match
	// the store's configured size.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrEmptyBatch indicates an upsert was called with no chunks.
	ErrEmptyBatch = errors.New("empty batch")

	// ErrStoreUnavailable indicates the backend could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Chunk is the unit of indexing and retrieval. A document is split into
// chunks at ingest time; both stores index the same chunk set under the
// same IDs so fusion can join candidates across paths.
type Chunk struct {
	// ID uniquely identifies the chunk across both stores.
	ID string

	// DocumentID is the parent document, used for cascade deletes.
	DocumentID string

	// Text is the chunk content.
	Text string

	// Vector is the embedding, populated before dense upsert.
	Vector []float32

	// Metadata carries filterable attributes. Values are strings or
	// []string; list values match if any element equals the filter value.
	Metadata map[string]any
}

// Candidate is a scored retrieval result from a single path. Scores are
// path-native (BM25 mass for sparse, cosine similarity for dense) and are
// only comparable within one list.
type Candidate struct {
	ID       string
	Score    float64
	Text     string
	Metadata map[string]any
}

// SparseStore is a lexical index queried by raw text.
type SparseStore interface {
	// Search returns up to k candidates ordered by descending score,
	// ties broken by ascending ID. Filters are applied before ranking.
	Search(ctx context.Context, query string, k int, filters map[string]string) ([]Candidate, error)

	// Upsert indexes the chunks, replacing any existing entries with the
	// same IDs.
	Upsert(ctx context.Context, chunks []Chunk) error

	// DeleteByFilter removes all chunks whose metadata matches the
	// filters. Scalar metadata matches by equality on every backend;
	// whether list-valued metadata participates is backend-specific, so
	// callers should key deletes on scalar fields such as document_id.
	DeleteByFilter(ctx context.Context, filters map[string]string) error
}

// DenseStore is a vector index queried by embedding.
type DenseStore interface {
	// Search returns up to k candidates ordered by descending similarity,
	// ties broken by ascending ID. Filters are applied before ranking.
	Search(ctx context.Context, vector []float32, k int, filters map[string]string) ([]Candidate, error)

	// Upsert indexes the chunks. Every chunk must carry a vector of the
	// store's configured dimension.
	Upsert(ctx context.Context, chunks []Chunk) error

	// DeleteByFilter removes all chunks whose metadata matches the
	// filters. Scalar metadata matches by equality on every backend;
	// whether list-valued metadata participates is backend-specific, so
	// callers should key deletes on scalar fields such as document_id.
	DeleteByFilter(ctx context.Context, filters map[string]string) error
}

// MatchesFilters reports whether metadata satisfies every filter clause.
// All clauses must match (AND semantics). A string value matches on
// equality; a []string or []any value matches if any element equals the
// filter value. Missing keys never match.
func MatchesFilters(metadata map[string]any, filters map[string]string) bool {
	for key, want := range filters {
		raw, ok := metadata[key]
		if !ok {
			return false
		}
		if !valueMatches(raw, want) {
			return false
		}
	}
	return true
}

func valueMatches(raw any, want string) bool {
	switch v := raw.(type) {
	case string:
		return v == want
	case []string:
		for _, item := range v {
			if item == want {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}
