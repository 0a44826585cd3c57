package rerank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleRerank_BoostsTermOverlap(t *testing.T) {
	r := NewSimpleReranker()

	docs := []Document{
		{ID: "a", Text: "completely unrelated content about cooking pasta", Score: 0.9},
		{ID: "b", Text: "kubernetes pod scheduling and resource limits", Score: 0.8},
		{ID: "c", Text: "weather forecast sunny skies", Score: 0.7},
	}

	out, err := r.Rerank(context.Background(), "kubernetes pod scheduling", docs)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].ID)
}

func TestSimpleRerank_PreservesDocumentSet(t *testing.T) {
	r := NewSimpleReranker()

	docs := []Document{
		{ID: "a", Text: "alpha", Score: 3},
		{ID: "b", Text: "beta", Score: 2},
		{ID: "c", Text: "gamma", Score: 1},
	}

	out, err := r.Rerank(context.Background(), "beta gamma query", docs)
	require.NoError(t, err)
	require.Len(t, out, len(docs))

	ids := make(map[string]bool)
	for _, d := range out {
		ids[d.ID] = true
	}
	for _, d := range docs {
		assert.True(t, ids[d.ID], "document %s missing from reranked output", d.ID)
	}
}

func TestSimpleRerank_EmptyInput(t *testing.T) {
	r := NewSimpleReranker()
	out, err := r.Rerank(context.Background(), "query", nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSimpleRerank_StopwordOnlyQueryKeepsOrder(t *testing.T) {
	r := NewSimpleReranker()

	docs := []Document{
		{ID: "first", Text: "alpha", Score: 3},
		{ID: "second", Text: "beta", Score: 2},
	}

	out, err := r.Rerank(context.Background(), "the and this", docs)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].ID)
	assert.Equal(t, "second", out[1].ID)
}

func TestSimpleRerank_CancelledContext(t *testing.T) {
	r := NewSimpleReranker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Rerank(ctx, "query", []Document{{ID: "a", Text: "alpha"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTermOverlap(t *testing.T) {
	assert.InDelta(t, 1.0, termOverlap([]string{"alpha", "beta"}, []string{"alpha", "beta", "gamma"}), 1e-9)
	assert.InDelta(t, 0.5, termOverlap([]string{"alpha", "beta"}, []string{"alpha"}), 1e-9)
	assert.InDelta(t, 0.0, termOverlap([]string{"alpha"}, []string{"gamma"}), 1e-9)

	// Repeated query terms count once.
	assert.InDelta(t, 1.0, termOverlap([]string{"alpha", "alpha"}, []string{"alpha"}), 1e-9)
}
