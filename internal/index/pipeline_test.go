package index

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/searchd/internal/config"
	"github.com/fyrsmithlabs/searchd/internal/store"
)

// memStore records upserts and deletions for both store interfaces.
type memStore struct {
	chunks     map[string]store.Chunk
	upsertErr  error
	deleteErr  error
	deleteCall int
}

func newMemStore() *memStore {
	return &memStore{chunks: make(map[string]store.Chunk)}
}

func (m *memStore) Upsert(ctx context.Context, chunks []store.Chunk) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, c := range chunks {
		m.chunks[c.ID] = c
	}
	return nil
}

func (m *memStore) DeleteByFilter(ctx context.Context, filters map[string]string) error {
	m.deleteCall++
	if m.deleteErr != nil {
		return m.deleteErr
	}
	for id, c := range m.chunks {
		if store.MatchesFilters(c.Metadata, filters) {
			delete(m.chunks, id)
		}
	}
	return nil
}

func (m *memStore) Search(ctx context.Context, query string, k int, filters map[string]string) ([]store.Candidate, error) {
	return nil, nil
}

// denseMemStore adapts memStore to the DenseStore search signature.
type denseMemStore struct{ *memStore }

func (m denseMemStore) Search(ctx context.Context, vector []float32, k int, filters map[string]string) ([]store.Candidate, error) {
	return nil, nil
}

// batchEmbedder fails every attempt for texts containing failOn.
type batchEmbedder struct {
	failOn string
	calls  [][]string
}

func (e *batchEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (e *batchEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls = append(e.calls, texts)
	for _, text := range texts {
		if e.failOn != "" && strings.Contains(text, e.failOn) {
			return nil, errors.New("embedding backend unavailable")
		}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (e *batchEmbedder) Dimension() int { return 3 }

func testPipeline(t *testing.T, cfg config.IndexConfig, embedder *batchEmbedder) (*Pipeline, *memStore, *memStore) {
	t.Helper()
	sparse := newMemStore()
	dense := newMemStore()
	p, err := NewPipeline(cfg, PipelineDeps{
		Embedder: embedder,
		Sparse:   sparse,
		Dense:    denseMemStore{dense},
	})
	require.NoError(t, err)
	return p, sparse, dense
}

func TestIndexDocument_HappyPath(t *testing.T) {
	cfg := config.IndexConfig{ChunkSize: 3, ChunkOverlap: 0, EmbedBatchSize: 2}
	p, sparse, dense := testPipeline(t, cfg, &batchEmbedder{})

	stats, err := p.IndexDocument(context.Background(), Document{
		ID:       "d1",
		Text:     words(7),
		Metadata: map[string]any{"source": "wiki"},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Chunked)
	assert.Equal(t, 3, stats.Embedded)
	assert.Equal(t, 3, stats.Indexed)
	assert.Empty(t, stats.Errors)

	assert.Len(t, sparse.chunks, 3)
	assert.Len(t, dense.chunks, 3)
	for _, c := range dense.chunks {
		assert.Len(t, c.Vector, 3)
		assert.Equal(t, "d1", c.Metadata["document_id"])
	}
}

func TestIndexDocument_FailedBatchCostsOnlyItsChunks(t *testing.T) {
	// Batch size 1 so each chunk is its own batch; the middle chunk's
	// embedding fails both attempts while its neighbors land in both
	// stores.
	cfg := config.IndexConfig{ChunkSize: 2, ChunkOverlap: 0, EmbedBatchSize: 1}
	embedder := &batchEmbedder{failOn: "w2"}
	p, sparse, dense := testPipeline(t, cfg, embedder)

	stats, err := p.IndexDocument(context.Background(), Document{ID: "d1", Text: words(6)})
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Chunked)
	assert.Equal(t, 2, stats.Embedded)
	assert.Equal(t, 2, stats.Indexed)

	require.Len(t, stats.Errors, 1)
	assert.Equal(t, "embed", stats.Errors[0].Stage)
	assert.Equal(t, "d1", stats.Errors[0].DocumentID)
	assert.Equal(t, []string{"d1-0001"}, stats.Errors[0].ChunkIDs)

	for _, s := range []*memStore{sparse, dense} {
		assert.Contains(t, s.chunks, "d1-0000")
		assert.NotContains(t, s.chunks, "d1-0001")
		assert.Contains(t, s.chunks, "d1-0002")
	}
}

func TestIndexDocument_RetriesFailedBatchOnce(t *testing.T) {
	cfg := config.IndexConfig{ChunkSize: 10, ChunkOverlap: 0, EmbedBatchSize: 8}
	embedder := &batchEmbedder{failOn: "w0"}
	p, _, _ := testPipeline(t, cfg, embedder)

	stats, err := p.IndexDocument(context.Background(), Document{ID: "d1", Text: words(4)})
	require.NoError(t, err)

	assert.Len(t, embedder.calls, 2, "failed batch is retried exactly once")
	assert.Equal(t, 0, stats.Indexed)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, "embed", stats.Errors[0].Stage)
}

func TestIndexDocument_ReindexRemovesStaleChunks(t *testing.T) {
	cfg := config.IndexConfig{ChunkSize: 2, ChunkOverlap: 0, EmbedBatchSize: 8}
	p, sparse, dense := testPipeline(t, cfg, &batchEmbedder{})

	_, err := p.IndexDocument(context.Background(), Document{ID: "d1", Text: words(6)})
	require.NoError(t, err)
	assert.Len(t, sparse.chunks, 3)

	// Shrunk document: chunk d1-0002 must disappear from both stores.
	_, err = p.IndexDocument(context.Background(), Document{ID: "d1", Text: words(3)})
	require.NoError(t, err)

	for _, s := range []*memStore{sparse, dense} {
		assert.Len(t, s.chunks, 2)
		assert.NotContains(t, s.chunks, "d1-0002")
	}
}

func TestIndexDocument_UpsertFailureIsLocalized(t *testing.T) {
	cfg := config.IndexConfig{ChunkSize: 10, ChunkOverlap: 0, EmbedBatchSize: 8}
	sparse := newMemStore()
	dense := newMemStore()
	dense.upsertErr = errors.New("dense store down")
	p, err := NewPipeline(cfg, PipelineDeps{
		Embedder: &batchEmbedder{},
		Sparse:   sparse,
		Dense:    denseMemStore{dense},
	})
	require.NoError(t, err)

	stats, err := p.IndexDocument(context.Background(), Document{ID: "d1", Text: words(4)})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Embedded)
	assert.Equal(t, 0, stats.Indexed)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, "index", stats.Errors[0].Stage)

	// The sparse upsert is still attempted.
	assert.Len(t, sparse.chunks, 1)
}

func TestIndexDocument_Validation(t *testing.T) {
	cfg := config.IndexConfig{ChunkSize: 10, ChunkOverlap: 0, EmbedBatchSize: 8}
	p, _, _ := testPipeline(t, cfg, &batchEmbedder{})

	_, err := p.IndexDocument(context.Background(), Document{ID: "", Text: "text"})
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, err = p.IndexDocument(context.Background(), Document{ID: "d1", Text: "  "})
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestIndexDocuments_BatchAggregatesStats(t *testing.T) {
	cfg := config.IndexConfig{ChunkSize: 2, ChunkOverlap: 0, EmbedBatchSize: 8}
	p, sparse, dense := testPipeline(t, cfg, &batchEmbedder{})

	stats, err := p.IndexDocuments(context.Background(), []Document{
		{ID: "d1", Text: words(4)},
		{ID: "d2", Text: words(2)},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Chunked)
	assert.Equal(t, 3, stats.Embedded)
	assert.Equal(t, 3, stats.Indexed)
	assert.Empty(t, stats.Errors)

	for _, s := range []*memStore{sparse, dense} {
		assert.Contains(t, s.chunks, "d1-0000")
		assert.Contains(t, s.chunks, "d2-0000")
	}
}

func TestIndexDocuments_InvalidDocumentDoesNotAbortBatch(t *testing.T) {
	cfg := config.IndexConfig{ChunkSize: 2, ChunkOverlap: 0, EmbedBatchSize: 8}
	p, sparse, dense := testPipeline(t, cfg, &batchEmbedder{})

	stats, err := p.IndexDocuments(context.Background(), []Document{
		{ID: "d1", Text: words(2)},
		{ID: "d2", Text: "   "},
		{ID: "d3", Text: words(2)},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Chunked)
	assert.Equal(t, 2, stats.Indexed)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, "d2", stats.Errors[0].DocumentID)
	assert.Equal(t, "validate", stats.Errors[0].Stage)
	assert.ErrorIs(t, stats.Errors[0].Err, ErrInvalidDocument)

	for _, s := range []*memStore{sparse, dense} {
		assert.Contains(t, s.chunks, "d1-0000")
		assert.Contains(t, s.chunks, "d3-0000")
	}
}

func TestIndexDocuments_EmbedFailureDoesNotAbortBatch(t *testing.T) {
	cfg := config.IndexConfig{ChunkSize: 4, ChunkOverlap: 0, EmbedBatchSize: 8}
	p, sparse, _ := testPipeline(t, cfg, &batchEmbedder{failOn: "w1"})

	stats, err := p.IndexDocuments(context.Background(), []Document{
		{ID: "d1", Text: "w1 only doc"},
		{ID: "d2", Text: "clean second doc"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Chunked)
	assert.Equal(t, 1, stats.Indexed)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, "d1", stats.Errors[0].DocumentID)
	assert.Equal(t, "embed", stats.Errors[0].Stage)
	assert.Contains(t, sparse.chunks, "d2-0000")
	assert.NotContains(t, sparse.chunks, "d1-0000")
}

func TestIndexDocuments_EmptyBatch(t *testing.T) {
	cfg := config.IndexConfig{ChunkSize: 2, ChunkOverlap: 0, EmbedBatchSize: 8}
	p, _, _ := testPipeline(t, cfg, &batchEmbedder{})

	_, err := p.IndexDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestDeleteDocument_CascadesBothStores(t *testing.T) {
	cfg := config.IndexConfig{ChunkSize: 2, ChunkOverlap: 0, EmbedBatchSize: 8}
	p, sparse, dense := testPipeline(t, cfg, &batchEmbedder{})

	_, err := p.IndexDocument(context.Background(), Document{ID: "d1", Text: words(4)})
	require.NoError(t, err)
	_, err = p.IndexDocument(context.Background(), Document{ID: "d2", Text: words(4)})
	require.NoError(t, err)

	require.NoError(t, p.DeleteDocument(context.Background(), "d1"))

	for _, s := range []*memStore{sparse, dense} {
		assert.Len(t, s.chunks, 2)
		assert.Contains(t, s.chunks, "d2-0000")
		assert.NotContains(t, s.chunks, "d1-0000")
	}
}

func TestDeleteDocument_JoinsPartialFailures(t *testing.T) {
	cfg := config.IndexConfig{ChunkSize: 2, ChunkOverlap: 0, EmbedBatchSize: 8}
	sparse := newMemStore()
	dense := newMemStore()
	dense.deleteErr = errors.New("dense store down")
	p, err := NewPipeline(cfg, PipelineDeps{
		Embedder: &batchEmbedder{},
		Sparse:   sparse,
		Dense:    denseMemStore{dense},
	})
	require.NoError(t, err)

	err = p.DeleteDocument(context.Background(), "d1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dense delete")
	assert.Equal(t, 1, sparse.deleteCall, "sparse delete still runs")
}

func TestDeleteDocument_Validation(t *testing.T) {
	cfg := config.IndexConfig{ChunkSize: 2, ChunkOverlap: 0, EmbedBatchSize: 8}
	p, _, _ := testPipeline(t, cfg, &batchEmbedder{})

	assert.ErrorIs(t, p.DeleteDocument(context.Background(), " "), ErrInvalidDocument)
}
