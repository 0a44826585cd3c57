package index

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/config"
	"github.com/fyrsmithlabs/searchd/internal/embeddings"
	"github.com/fyrsmithlabs/searchd/internal/logging"
	"github.com/fyrsmithlabs/searchd/internal/store"
)

// ErrInvalidDocument indicates a document that cannot be indexed.
var ErrInvalidDocument = errors.New("invalid document")

// Document is the unit of ingestion.
type Document struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IndexError records a failure localized to part of a document. Err holds
// the underlying error; Message is its serialized form.
type IndexError struct {
	DocumentID string   `json:"document_id"`
	ChunkIDs   []string `json:"chunk_ids,omitempty"`
	Stage      string   `json:"stage"`
	Message    string   `json:"message"`
	Err        error    `json:"-"`
}

// Stats summarizes one indexing run.
type Stats struct {
	Chunked  int          `json:"chunked"`
	Embedded int          `json:"embedded"`
	Indexed  int          `json:"indexed"`
	Errors   []IndexError `json:"errors,omitempty"`
}

// Pipeline chunks documents, embeds the chunks in batches, and upserts
// them into both retrieval stores. Failures are localized: a failed
// embedding batch costs only its own chunks, and the rest of the document
// still lands.
type Pipeline struct {
	chunker   *Chunker
	embedder  embeddings.Embedder
	sparse    store.SparseStore
	dense     store.DenseStore
	batchSize int
	logger    *logging.Logger
	metrics   *Metrics
}

// PipelineDeps bundles the collaborators of the pipeline.
type PipelineDeps struct {
	Embedder embeddings.Embedder
	Sparse   store.SparseStore
	Dense    store.DenseStore
	Logger   *logging.Logger
	Metrics  *Metrics
}

// NewPipeline creates an indexing pipeline.
func NewPipeline(cfg config.IndexConfig, deps PipelineDeps) (*Pipeline, error) {
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.Sparse == nil {
		return nil, fmt.Errorf("sparse store is required")
	}
	if deps.Dense == nil {
		return nil, fmt.Errorf("dense store is required")
	}
	if cfg.EmbedBatchSize <= 0 {
		return nil, fmt.Errorf("embed batch size must be positive, got %d", cfg.EmbedBatchSize)
	}
	chunker, err := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	return &Pipeline{
		chunker:   chunker,
		embedder:  deps.Embedder,
		sparse:    deps.Sparse,
		dense:     deps.Dense,
		batchSize: cfg.EmbedBatchSize,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}, nil
}

// IndexDocument ingests one document. Existing chunks of the same
// document are removed first, so re-indexing a shrunken document leaves
// no stale tail chunks behind. The returned stats report per-batch
// failures; only an invalid document is an error.
func (p *Pipeline) IndexDocument(ctx context.Context, doc Document) (*Stats, error) {
	if strings.TrimSpace(doc.ID) == "" {
		return nil, fmt.Errorf("%w: document id must not be empty", ErrInvalidDocument)
	}
	if strings.TrimSpace(doc.Text) == "" {
		return nil, fmt.Errorf("%w: document text must not be empty", ErrInvalidDocument)
	}

	stats := &Stats{}

	if err := p.deleteChunks(ctx, doc.ID); err != nil {
		stats.Errors = append(stats.Errors, IndexError{
			DocumentID: doc.ID,
			Stage:      "delete",
			Message:    err.Error(),
			Err:        err,
		})
	}

	chunks := p.chunker.Chunk(doc)
	stats.Chunked = len(chunks)

	for start := 0; start < len(chunks); start += p.batchSize {
		end := start + p.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		vectors, err := p.embedBatch(ctx, batch)
		if err != nil {
			p.metrics.RecordError(ctx, "embed")
			p.logger.Warn(ctx, "embedding batch failed, skipping its chunks",
				zap.String("document_id", doc.ID),
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
			stats.Errors = append(stats.Errors, IndexError{
				DocumentID: doc.ID,
				ChunkIDs:   chunkIDs(batch),
				Stage:      "embed",
				Message:    err.Error(),
				Err:        err,
			})
			continue
		}
		for i := range batch {
			batch[i].Vector = vectors[i]
		}
		stats.Embedded += len(batch)

		if err := p.upsertBatch(ctx, batch); err != nil {
			p.metrics.RecordError(ctx, "index")
			stats.Errors = append(stats.Errors, IndexError{
				DocumentID: doc.ID,
				ChunkIDs:   chunkIDs(batch),
				Stage:      "index",
				Message:    err.Error(),
				Err:        err,
			})
			continue
		}
		stats.Indexed += len(batch)
	}

	p.metrics.RecordDocument(ctx, stats.Indexed)
	p.logger.Info(ctx, "document indexed",
		zap.String("document_id", doc.ID),
		zap.Int("chunked", stats.Chunked),
		zap.Int("indexed", stats.Indexed),
		zap.Int("errors", len(stats.Errors)),
	)
	return stats, nil
}

// IndexDocuments ingests a batch of documents, aggregating per-document
// stats. A document that fails validation, embedding, or upsert costs
// only itself; the rest of the batch still lands. Invalid documents are
// recorded in the stats errors rather than aborting the batch.
func (p *Pipeline) IndexDocuments(ctx context.Context, docs []Document) (*Stats, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: batch must not be empty", ErrInvalidDocument)
	}

	total := &Stats{}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		stats, err := p.IndexDocument(ctx, doc)
		if err != nil {
			total.Errors = append(total.Errors, IndexError{
				DocumentID: doc.ID,
				Stage:      "validate",
				Message:    err.Error(),
				Err:        err,
			})
			continue
		}
		total.Chunked += stats.Chunked
		total.Embedded += stats.Embedded
		total.Indexed += stats.Indexed
		total.Errors = append(total.Errors, stats.Errors...)
	}
	return total, nil
}

// DeleteDocument removes every chunk of a document from both stores.
// Partial failures are joined so the caller sees each store's error.
func (p *Pipeline) DeleteDocument(ctx context.Context, docID string) error {
	if strings.TrimSpace(docID) == "" {
		return fmt.Errorf("%w: document id must not be empty", ErrInvalidDocument)
	}
	return p.deleteChunks(ctx, docID)
}

func (p *Pipeline) deleteChunks(ctx context.Context, docID string) error {
	filters := map[string]string{"document_id": docID}

	var sparseErr, denseErr error
	if err := p.sparse.DeleteByFilter(ctx, filters); err != nil {
		sparseErr = fmt.Errorf("sparse delete: %w", err)
	}
	if err := p.dense.DeleteByFilter(ctx, filters); err != nil {
		denseErr = fmt.Errorf("dense delete: %w", err)
	}
	return errors.Join(sparseErr, denseErr)
}

// embedBatch embeds the batch texts, retrying once. The embedder carries
// its own backoff for transient upstream errors; this retry covers a
// whole failed attempt before the batch is abandoned.
func (p *Pipeline) embedBatch(ctx context.Context, batch []store.Chunk) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil && ctx.Err() == nil {
		vectors, err = p.embedder.EmbedDocuments(ctx, texts)
	}
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
	}
	return vectors, nil
}

// upsertBatch writes the batch into both stores. Both are attempted even
// if the first fails, so one unhealthy store cannot starve the other.
func (p *Pipeline) upsertBatch(ctx context.Context, batch []store.Chunk) error {
	var sparseErr, denseErr error
	if err := p.sparse.Upsert(ctx, batch); err != nil {
		sparseErr = fmt.Errorf("sparse upsert: %w", err)
	}
	if err := p.dense.Upsert(ctx, batch); err != nil {
		denseErr = fmt.Errorf("dense upsert: %w", err)
	}
	return errors.Join(sparseErr, denseErr)
}

func chunkIDs(batch []store.Chunk) []string {
	out := make([]string, len(batch))
	for i, c := range batch {
		out[i] = c.ID
	}
	return out
}
