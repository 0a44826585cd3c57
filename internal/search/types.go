// Package search implements hybrid retrieval: concurrent sparse and
// dense search, score fusion, optional reranking, and response caching.
package search

import "errors"

var (
	// ErrInvalidRequest indicates a malformed search request. Never
	// retried.
	ErrInvalidRequest = errors.New("invalid search request")

	// ErrUpstreamUnavailable indicates every retrieval path failed and no
	// results could be produced.
	ErrUpstreamUnavailable = errors.New("all retrieval paths unavailable")
)

// Fusion method names accepted in requests and configuration.
const (
	FusionRRF      = "rrf"
	FusionLinear   = "linear"
	FusionAdaptive = "adaptive"
)

// Request is a hybrid search request.
type Request struct {
	// Query is the search text. Required, non-empty.
	Query string `json:"query"`

	// K is the desired result count. Required, positive, capped by the
	// configured maximum.
	K int `json:"k"`

	// Filters restricts candidates by metadata equality. All clauses must
	// match.
	Filters map[string]string `json:"filters,omitempty"`

	// FusionMethod overrides the configured fusion algorithm: rrf,
	// linear, or adaptive.
	FusionMethod string `json:"fusion_method,omitempty"`

	// Alpha overrides the dense weight for linear fusion, in [0,1]. Also
	// overrides the heuristic when the method is adaptive.
	Alpha *float64 `json:"alpha,omitempty"`

	// Rerank overrides the configured rerank default.
	Rerank *bool `json:"rerank,omitempty"`
}

// Result is one fused (and possibly reranked) search result. The
// constituent path scores are retained for explainability; a nil score
// means the candidate was absent from that path.
type Result struct {
	ID          string         `json:"id"`
	Score       float64        `json:"score"`
	SparseScore *float64       `json:"sparse_score,omitempty"`
	DenseScore  *float64       `json:"dense_score,omitempty"`
	Text        string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Latency is the per-stage timing breakdown in milliseconds.
type Latency struct {
	EmbeddingMs    float64 `json:"embedding"`
	SparseSearchMs float64 `json:"sparse_search"`
	DenseSearchMs  float64 `json:"dense_search"`
	FusionMs       float64 `json:"fusion"`
	RerankMs       float64 `json:"rerank"`
	TotalMs        float64 `json:"total"`
}

// Response is a hybrid search response.
type Response struct {
	Results  []Result `json:"results"`
	CacheHit bool     `json:"cache_hit"`
	Degraded bool     `json:"degraded"`
	Latency  Latency  `json:"latency_ms"`
}
