package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/searchd/internal/cache"
	"github.com/fyrsmithlabs/searchd/internal/config"
	"github.com/fyrsmithlabs/searchd/internal/rerank"
	"github.com/fyrsmithlabs/searchd/internal/store"
)

// fakeSparse returns canned candidates or an error, optionally blocking
// until the context expires.
type fakeSparse struct {
	results []store.Candidate
	err     error
	block   bool
	calls   int
}

func (f *fakeSparse) Search(ctx context.Context, query string, k int, filters map[string]string) ([]store.Candidate, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.results, f.err
}

func (f *fakeSparse) Upsert(ctx context.Context, chunks []store.Chunk) error { return nil }
func (f *fakeSparse) DeleteByFilter(ctx context.Context, filters map[string]string) error {
	return nil
}

type fakeDense struct {
	results []store.Candidate
	err     error
	block   bool
	calls   int
}

func (f *fakeDense) Search(ctx context.Context, vector []float32, k int, filters map[string]string) ([]store.Candidate, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.results, f.err
}

func (f *fakeDense) Upsert(ctx context.Context, chunks []store.Chunk) error { return nil }
func (f *fakeDense) DeleteByFilter(ctx context.Context, filters map[string]string) error {
	return nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }

type fakeReranker struct {
	reverse bool
	err     error
	calls   int
}

func (f *fakeReranker) Rerank(ctx context.Context, query string, docs []rerank.Document) ([]rerank.Document, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]rerank.Document, len(docs))
	if f.reverse {
		for i, d := range docs {
			out[len(docs)-1-i] = d
		}
	} else {
		copy(out, docs)
	}
	return out, nil
}

func (f *fakeReranker) Close() error { return nil }

func testConfig() config.SearchConfig {
	return config.SearchConfig{
		MaxK:             100,
		FusionMethod:     FusionRRF,
		RRFK:             60,
		Alpha:            0.5,
		OverfetchFactor:  10,
		OverfetchMin:     100,
		RerankPoolSize:   100,
		RequestTimeout:   config.Duration(5 * time.Second),
		EmbedTimeout:     config.Duration(time.Second),
		RetrievalTimeout: config.Duration(time.Second),
		RerankTimeout:    config.Duration(time.Second),
	}
}

func newTestService(t *testing.T, cfg config.SearchConfig, deps Deps) *Service {
	t.Helper()
	if deps.Sparse == nil {
		deps.Sparse = &fakeSparse{}
	}
	if deps.Dense == nil {
		deps.Dense = &fakeDense{}
	}
	if deps.Embedder == nil {
		deps.Embedder = &fakeEmbedder{}
	}
	svc, err := NewService(cfg, deps)
	require.NoError(t, err)
	return svc
}

func TestSearch_FusesBothPaths(t *testing.T) {
	sparse := &fakeSparse{results: []store.Candidate{
		{ID: "A", Score: 10, Text: "a text"},
		{ID: "B", Score: 8, Text: "b text"},
	}}
	dense := &fakeDense{results: []store.Candidate{
		{ID: "B", Score: 0.9, Text: "b text"},
		{ID: "C", Score: 0.8, Text: "c text"},
	}}

	svc := newTestService(t, testConfig(), Deps{Sparse: sparse, Dense: dense})

	resp, err := svc.Search(context.Background(), Request{Query: "hybrid retrieval", K: 10})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	assert.Equal(t, "B", resp.Results[0].ID)
	assert.Equal(t, "A", resp.Results[1].ID)
	assert.Equal(t, "C", resp.Results[2].ID)
	assert.False(t, resp.Degraded)
	assert.False(t, resp.CacheHit)
	assert.Equal(t, 1, sparse.calls)
	assert.Equal(t, 1, dense.calls)
}

func TestSearch_ValidationErrors(t *testing.T) {
	svc := newTestService(t, testConfig(), Deps{})

	tests := []struct {
		name string
		req  Request
	}{
		{"empty query", Request{Query: "   ", K: 5}},
		{"zero k", Request{Query: "q", K: 0}},
		{"negative k", Request{Query: "q", K: -2}},
		{"k above max", Request{Query: "q", K: 500}},
		{"bad alpha", Request{Query: "q", K: 5, Alpha: ptr(1.5)}},
		{"bad fusion method", Request{Query: "q", K: 5, FusionMethod: "bogus"}},
		{"empty filter key", Request{Query: "q", K: 5, Filters: map[string]string{"": "v"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Search(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestSearch_EmbedFailureDegradesToSparseOnly(t *testing.T) {
	sparse := &fakeSparse{results: []store.Candidate{{ID: "A", Score: 5, Text: "a"}}}
	dense := &fakeDense{results: []store.Candidate{{ID: "Z", Score: 0.9, Text: "z"}}}
	embedder := &fakeEmbedder{err: errors.New("embedding service down")}

	svc := newTestService(t, testConfig(), Deps{Sparse: sparse, Dense: dense, Embedder: embedder})

	resp, err := svc.Search(context.Background(), Request{Query: "q text", K: 5})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "A", resp.Results[0].ID)
	assert.Equal(t, 0, dense.calls, "dense path must be skipped without an embedding")
}

func TestSearch_DenseTimeoutDegradesToSparseOnly(t *testing.T) {
	sparse := &fakeSparse{results: []store.Candidate{
		{ID: "A", Score: 5, Text: "a"},
		{ID: "B", Score: 3, Text: "b"},
	}}
	dense := &fakeDense{block: true}

	cfg := testConfig()
	cfg.RetrievalTimeout = config.Duration(30 * time.Millisecond)

	svc := newTestService(t, cfg, Deps{Sparse: sparse, Dense: dense})

	resp, err := svc.Search(context.Background(), Request{Query: "q text", K: 5})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, []string{"A", "B"}, resultIDs(resp.Results))
}

func TestSearch_SparseFailureDegradesToDenseOnly(t *testing.T) {
	sparse := &fakeSparse{err: errors.New("index corrupted")}
	dense := &fakeDense{results: []store.Candidate{{ID: "C", Score: 0.9, Text: "c"}}}

	svc := newTestService(t, testConfig(), Deps{Sparse: sparse, Dense: dense})

	resp, err := svc.Search(context.Background(), Request{Query: "q text", K: 5})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, []string{"C"}, resultIDs(resp.Results))
}

func TestSearch_TotalFailure(t *testing.T) {
	sparse := &fakeSparse{err: errors.New("sparse down")}
	dense := &fakeDense{err: errors.New("dense down")}

	svc := newTestService(t, testConfig(), Deps{Sparse: sparse, Dense: dense})

	_, err := svc.Search(context.Background(), Request{Query: "q text", K: 5})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestSearch_EmbedAndSparseFailureIsTotal(t *testing.T) {
	sparse := &fakeSparse{err: errors.New("sparse down")}
	embedder := &fakeEmbedder{err: errors.New("embedder down")}

	svc := newTestService(t, testConfig(), Deps{Sparse: sparse, Embedder: embedder})

	_, err := svc.Search(context.Background(), Request{Query: "q text", K: 5})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestSearch_EmptyResultsIsNotAnError(t *testing.T) {
	svc := newTestService(t, testConfig(), Deps{})

	resp, err := svc.Search(context.Background(), Request{Query: "no matches", K: 5})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.False(t, resp.Degraded)
}

func TestSearch_TruncatesToK(t *testing.T) {
	results := make([]store.Candidate, 20)
	for i := range results {
		results[i] = store.Candidate{ID: string(rune('a' + i)), Score: float64(20 - i)}
	}
	sparse := &fakeSparse{results: results}

	svc := newTestService(t, testConfig(), Deps{Sparse: sparse})

	resp, err := svc.Search(context.Background(), Request{Query: "q text", K: 3})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)
}

func TestSearch_CacheHitAndDegradedNotCached(t *testing.T) {
	sparse := &fakeSparse{results: []store.Candidate{{ID: "A", Score: 5, Text: "a"}}}
	c := cache.New[Response](16, time.Minute, nil)

	svc := newTestService(t, testConfig(), Deps{Sparse: sparse, Cache: c})

	req := Request{Query: "Cache Me", K: 5}

	first, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := svc.Search(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, resultIDs(first.Results), resultIDs(second.Results))
	assert.Equal(t, 1, sparse.calls)

	// Degraded responses must not populate the cache.
	embedder := &fakeEmbedder{err: errors.New("down")}
	dc := cache.New[Response](16, time.Minute, nil)
	dsvc := newTestService(t, testConfig(), Deps{
		Sparse:   &fakeSparse{results: []store.Candidate{{ID: "A", Score: 5}}},
		Embedder: embedder,
		Cache:    dc,
	})

	resp, err := dsvc.Search(context.Background(), Request{Query: "degraded query", K: 5})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, 0, dc.Len())
}

func TestSearch_RerankReordersPool(t *testing.T) {
	sparse := &fakeSparse{results: []store.Candidate{
		{ID: "A", Score: 10, Text: "a"},
		{ID: "B", Score: 8, Text: "b"},
		{ID: "C", Score: 6, Text: "c"},
	}}
	reranker := &fakeReranker{reverse: true}

	cfg := testConfig()
	cfg.RerankEnabled = true

	svc := newTestService(t, cfg, Deps{Sparse: sparse, Reranker: reranker})

	resp, err := svc.Search(context.Background(), Request{Query: "q text", K: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "B", "A"}, resultIDs(resp.Results))
	assert.Equal(t, 1, reranker.calls)
}

func TestSearch_RerankFailureFallsBackToFusionOrder(t *testing.T) {
	sparse := &fakeSparse{results: []store.Candidate{
		{ID: "A", Score: 10, Text: "a"},
		{ID: "B", Score: 8, Text: "b"},
	}}
	reranker := &fakeReranker{err: errors.New("reranker down")}

	cfg := testConfig()
	cfg.RerankEnabled = true

	svc := newTestService(t, cfg, Deps{Sparse: sparse, Reranker: reranker})

	resp, err := svc.Search(context.Background(), Request{Query: "q text", K: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, resultIDs(resp.Results))
}

func TestSearch_RerankOptOutPerRequest(t *testing.T) {
	sparse := &fakeSparse{results: []store.Candidate{{ID: "A", Score: 10, Text: "a"}}}
	reranker := &fakeReranker{}

	cfg := testConfig()
	cfg.RerankEnabled = true

	svc := newTestService(t, cfg, Deps{Sparse: sparse, Reranker: reranker})

	off := false
	_, err := svc.Search(context.Background(), Request{Query: "q text", K: 5, Rerank: &off})
	require.NoError(t, err)
	assert.Equal(t, 0, reranker.calls)
}

func TestSearch_LatencyBreakdownPopulated(t *testing.T) {
	sparse := &fakeSparse{results: []store.Candidate{{ID: "A", Score: 5, Text: "a"}}}

	svc := newTestService(t, testConfig(), Deps{Sparse: sparse})

	resp, err := svc.Search(context.Background(), Request{Query: "q text", K: 5})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resp.Latency.TotalMs, resp.Latency.FusionMs)
	assert.GreaterOrEqual(t, resp.Latency.TotalMs, 0.0)
}

func resultIDs(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func ptr[T any](v T) *T { return &v }
