// Package chromemstore implements the dense store on chromem-go, an
// embeddable pure-Go vector database with optional gob persistence. It is
// the default dense backend: no external service, exact cosine search.
package chromemstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fyrsmithlabs/searchd/internal/logging"
	"github.com/fyrsmithlabs/searchd/internal/store"
)

var tracer = otel.Tracer("searchd.store.chromem")

// metadata key reserved for the parent document ID.
const docIDKey = "document_id"

// Config holds chromem-go store configuration.
type Config struct {
	// Path is the directory for persistent storage. Empty means in-memory.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection name.
	Collection string

	// VectorSize is the expected embedding dimension.
	VectorSize int
}

// Store implements the dense store on chromem-go.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     Config
	logger     *logging.Logger
}

// New creates a chromem-backed dense store. With an empty path the store
// is in-memory; otherwise it persists to gob files under the path.
func New(cfg Config, logger *logging.Logger) (*Store, error) {
	if cfg.Collection == "" {
		cfg.Collection = "searchd"
	}
	if cfg.VectorSize <= 0 {
		return nil, fmt.Errorf("vector size must be positive, got %d", cfg.VectorSize)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	var db *chromem.DB
	var err error
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", cfg.Path, err)
		}
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	// All embeddings are precomputed upstream; chromem must never fall back
	// to its default OpenAI embedder.
	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, rejectEmbedding)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", cfg.Collection, err)
	}

	s := &Store{
		db:         db,
		collection: collection,
		config:     cfg,
		logger:     logger,
	}

	logger.Info(context.Background(), "chromem store initialized")
	return s, nil
}

func rejectEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding requested from store; embeddings must be precomputed")
}

// Upsert adds or replaces chunks. Every chunk must carry a vector of the
// configured dimension.
func (s *Store) Upsert(ctx context.Context, chunks []store.Chunk) error {
	ctx, span := tracer.Start(ctx, "chromemstore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))

	if len(chunks) == 0 {
		return store.ErrEmptyBatch
	}

	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		if len(chunk.Vector) != s.config.VectorSize {
			err := fmt.Errorf("%w: chunk %s has dimension %d, want %d",
				store.ErrDimensionMismatch, chunk.ID, len(chunk.Vector), s.config.VectorSize)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		docs[i] = chromem.Document{
			ID:        chunk.ID,
			Content:   chunk.Text,
			Metadata:  encodeMetadata(chunk.DocumentID, chunk.Metadata),
			Embedding: chunk.Vector,
		}
	}

	// Concurrency 1: embeddings are already present, nothing to parallelize.
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	s.logger.Debug(ctx, "upserted chunks into chromem")
	return nil
}

// Search returns up to k candidates by descending cosine similarity.
func (s *Store) Search(ctx context.Context, vector []float32, k int, filters map[string]string) ([]store.Candidate, error) {
	ctx, span := tracer.Start(ctx, "chromemstore.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if k <= 0 {
		return nil, nil
	}
	if len(vector) != s.config.VectorSize {
		err := fmt.Errorf("%w: query has dimension %d, want %d",
			store.ErrDimensionMismatch, len(vector), s.config.VectorSize)
		span.RecordError(err)
		return nil, err
	}

	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}

	// Filters may target list-valued metadata, which chromem's equality
	// where-clause cannot express. chromem scores every document anyway
	// (exact search), so fetch all and post-filter.
	n := k
	if len(filters) > 0 || n > count {
		n = count
	}

	results, err := s.collection.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	candidates := make([]store.Candidate, 0, len(results))
	for _, r := range results {
		metadata := decodeMetadata(r.Metadata)
		if len(filters) > 0 && !store.MatchesFilters(metadata, filters) {
			continue
		}
		candidates = append(candidates, store.Candidate{
			ID:       r.ID,
			Score:    float64(r.Similarity),
			Text:     r.Content,
			Metadata: metadata,
		})
	}

	// chromem orders by similarity only; enforce the ID tie-break.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ID < candidates[j].ID
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	span.SetAttributes(attribute.Int("results_count", len(candidates)))
	return candidates, nil
}

// DeleteByFilter removes all chunks whose metadata matches the filters
// by scalar equality. chromem's where clause compares the stored string
// values directly, so list-valued metadata (stored JSON-encoded) never
// matches a delete filter; deletes key on scalar fields such as
// document_id.
func (s *Store) DeleteByFilter(ctx context.Context, filters map[string]string) error {
	ctx, span := tracer.Start(ctx, "chromemstore.DeleteByFilter")
	defer span.End()

	if len(filters) == 0 {
		return nil
	}

	// Scalar filters map directly onto chromem's where clause.
	where := make(map[string]string, len(filters))
	for k, v := range filters {
		where[k] = v
	}

	if err := s.collection.Delete(ctx, where, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting documents: %w", err)
	}

	s.logger.Debug(ctx, "deleted chunks from chromem")
	return nil
}

// Count returns the number of stored chunks.
func (s *Store) Count() int {
	return s.collection.Count()
}

// listPrefix marks JSON-encoded list values in chromem's string-only
// metadata.
const listPrefix = "\x00json:"

// encodeMetadata flattens chunk metadata into chromem's string map.
// List values are JSON-encoded with a sentinel prefix so decode can
// restore them.
func encodeMetadata(documentID string, metadata map[string]any) map[string]string {
	out := make(map[string]string, len(metadata)+1)
	if documentID != "" {
		out[docIDKey] = documentID
	}
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			out[k] = val
		case []string:
			encoded, err := json.Marshal(val)
			if err == nil {
				out[k] = listPrefix + string(encoded)
			}
		case []any:
			encoded, err := json.Marshal(val)
			if err == nil {
				out[k] = listPrefix + string(encoded)
			}
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

// decodeMetadata restores chunk metadata from chromem's string map.
func decodeMetadata(metadata map[string]string) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if strings.HasPrefix(v, listPrefix) {
			var list []string
			if err := json.Unmarshal([]byte(v[len(listPrefix):]), &list); err == nil {
				out[k] = list
				continue
			}
		}
		out[k] = v
	}
	return out
}

var _ store.DenseStore = (*Store)(nil)
