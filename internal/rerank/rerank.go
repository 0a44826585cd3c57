// Package rerank provides second-stage reordering of fused candidates.
// Rerankers permute the pool they are given; they never add or drop
// documents, so a failed rerank can always fall back to fusion order.
package rerank

import (
	"context"
	"errors"
)

var (
	// ErrRerankFailed indicates the reranking backend failed.
	ErrRerankFailed = errors.New("rerank failed")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Document is a candidate handed to a reranker. Score is the fusion
// score, which rerankers may use as a prior.
type Document struct {
	ID    string
	Text  string
	Score float64
}

// Reranker reorders documents by query relevance.
type Reranker interface {
	// Rerank returns the same document set reordered by descending
	// relevance. The result is always a permutation of the input.
	Rerank(ctx context.Context, query string, docs []Document) ([]Document, error)

	// Close releases any resources held by the reranker.
	Close() error
}
