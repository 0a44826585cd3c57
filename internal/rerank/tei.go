package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
)

// TEIConfig configures the TEI cross-encoder reranker.
type TEIConfig struct {
	// BaseURL is the base URL of a text-embeddings-inference server
	// running a reranker model.
	BaseURL string
}

// TEIReranker reorders documents using a cross-encoder served by
// text-embeddings-inference.
type TEIReranker struct {
	config TEIConfig
	client *http.Client
}

// NewTEIReranker creates a TEI reranker.
func NewTEIReranker(config TEIConfig) (*TEIReranker, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	return &TEIReranker{
		config: config,
		client: &http.Client{},
	}, nil
}

// teiRerankRequest is the request body for the TEI rerank endpoint.
type teiRerankRequest struct {
	Query    string   `json:"query"`
	Texts    []string `json:"texts"`
	Truncate bool     `json:"truncate"`
}

// teiRerankResult is one entry of the TEI rerank response.
type teiRerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank reorders documents by cross-encoder score.
func (r *TEIReranker) Rerank(ctx context.Context, query string, docs []Document) ([]Document, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}

	body, err := json.Marshal(teiRerankRequest{
		Query:    query,
		Texts:    texts,
		Truncate: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.BaseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRerankFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrRerankFailed, resp.StatusCode, string(respBody))
	}

	var results []teiRerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(results) != len(docs) {
		return nil, fmt.Errorf("%w: got %d scores for %d documents", ErrRerankFailed, len(results), len(docs))
	}

	// TEI returns results sorted by score, but re-sort defensively and
	// validate indices so a bad response cannot drop or duplicate docs.
	seen := make(map[int]bool, len(results))
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(docs) || seen[res.Index] {
			return nil, fmt.Errorf("%w: invalid index %d in response", ErrRerankFailed, res.Index)
		}
		seen[res.Index] = true
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	out := make([]Document, len(docs))
	for i, res := range results {
		doc := docs[res.Index]
		doc.Score = res.Score
		out[i] = doc
	}
	return out, nil
}

// Close is a no-op; the HTTP client needs no teardown.
func (r *TEIReranker) Close() error {
	return nil
}

var _ Reranker = (*TEIReranker)(nil)
