// Package qdrantstore implements the dense store on a remote Qdrant
// instance over gRPC. Use it instead of the embedded chromem backend when
// the corpus outgrows a single process or needs HNSW search.
package qdrantstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/searchd/internal/logging"
	"github.com/fyrsmithlabs/searchd/internal/store"
)

// payload keys reserved by the store.
const (
	chunkIDKey = "chunk_id"
	docIDKey   = "document_id"
	textKey    = "text"
)

// pointNamespace seeds deterministic UUIDv5 point IDs so upserts with the
// same chunk ID always hit the same point.
var pointNamespace = uuid.MustParse("8d6a2c1e-5f30-4b87-9be2-aa1f3d1c9f04")

// Config configures the Qdrant store.
type Config struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334, not the 6333 REST port).
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// APIKey is the optional API key. Leave empty for local development.
	APIKey string

	// Collection is the collection name.
	Collection string

	// VectorSize is the expected embedding dimension.
	VectorSize int

	// RequestTimeout bounds individual requests. Default: 30s.
	RequestTimeout time.Duration

	// RetryAttempts is the retry count for transient failures. Default: 3.
	RetryAttempts int

	// MaxMessageSize is the maximum gRPC message size. Default: 50MB.
	MaxMessageSize int
}

func (c *Config) applyDefaults() {
	if c.Collection == "" {
		c.Collection = "searchd"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("vector size must be positive, got %d", c.VectorSize)
	}
	return nil
}

// Store implements the dense store on Qdrant.
type Store struct {
	client *qdrant.Client
	config Config
	logger *logging.Logger
}

// New creates a Qdrant store, verifies connectivity, and ensures the
// collection exists with the configured vector size.
func New(ctx context.Context, cfg Config, logger *logging.Logger) (*Store, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	qdrantConfig := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	}
	if !cfg.UseTLS {
		qdrantConfig.GrpcOptions = append(qdrantConfig.GrpcOptions,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}

	client, err := qdrant.NewClient(qdrantConfig)
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	s := &Store{
		client: client,
		config: cfg,
		logger: logger,
	}

	logger.Info(ctx, "connecting to qdrant",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
	)

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info(ctx, "qdrant connection established",
		zap.String("collection", cfg.Collection),
	)
	return s, nil
}

// ensureCollection creates the collection if it does not exist.
func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.config.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		// Another instance may have won the race.
		if st, ok := status.FromError(err); ok && st.Code() == codes.AlreadyExists {
			return nil
		}
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	return nil
}

// Upsert inserts or replaces chunks as points. Point IDs are derived
// deterministically from chunk IDs so re-indexing overwrites in place.
func (s *Store) Upsert(ctx context.Context, chunks []store.Chunk) error {
	if len(chunks) == 0 {
		return store.ErrEmptyBatch
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		if len(chunk.Vector) != s.config.VectorSize {
			return fmt.Errorf("%w: chunk %s has dimension %d, want %d",
				store.ErrDimensionMismatch, chunk.ID, len(chunk.Vector), s.config.VectorSize)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(chunk.ID)),
			Vectors: qdrant.NewVectors(chunk.Vector...),
			Payload: buildPayload(chunk),
		}
	}

	return s.retryOperation(ctx, func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         points,
		})
		return err
	})
}

// Search returns up to k candidates by descending similarity.
func (s *Store) Search(ctx context.Context, vector []float32, k int, filters map[string]string) ([]store.Candidate, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(vector) != s.config.VectorSize {
		return nil, fmt.Errorf("%w: query has dimension %d, want %d",
			store.ErrDimensionMismatch, len(vector), s.config.VectorSize)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	var results []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         buildFilter(filters),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	candidates := make([]store.Candidate, 0, len(results))
	for _, r := range results {
		id, text, metadata := extractPayload(r.Payload)
		candidates = append(candidates, store.Candidate{
			ID:       id,
			Score:    float64(r.Score),
			Text:     text,
			Metadata: metadata,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates, nil
}

// DeleteByFilter removes all points whose payload matches the filters.
func (s *Store) DeleteByFilter(ctx context.Context, filters map[string]string) error {
	if len(filters) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	return s.retryOperation(ctx, func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: buildFilter(filters),
				},
			},
		})
		return err
	})
}

// Close closes the client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// retryOperation retries an operation with exponential backoff on
// transient gRPC errors.
func (s *Store) retryOperation(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := 250 * time.Millisecond
	start := time.Now()

	for attempt := 0; attempt <= s.config.RetryAttempts; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 0 {
				s.logger.Info(ctx, "qdrant operation recovered after retries",
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(start)),
				)
			}
			return nil
		}
		lastErr = err

		if !isTransientError(err) {
			return err
		}
		if attempt == s.config.RetryAttempts {
			break
		}

		s.logger.Debug(ctx, "retrying qdrant operation after transient error",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	s.logger.Warn(ctx, "qdrant operation failed after all retries",
		zap.Int("total_attempts", s.config.RetryAttempts+1),
		zap.Error(lastErr),
	)
	return fmt.Errorf("%w: after %d retries: %v", store.ErrStoreUnavailable, s.config.RetryAttempts, lastErr)
}

// isTransientError reports whether a gRPC error is worth retrying.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// PointID derives the deterministic UUIDv5 point ID for a chunk ID.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func buildPayload(chunk store.Chunk) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(chunk.Metadata)+3)
	payload[chunkIDKey] = qdrant.NewValueString(chunk.ID)
	if chunk.DocumentID != "" {
		payload[docIDKey] = qdrant.NewValueString(chunk.DocumentID)
	}
	payload[textKey] = qdrant.NewValueString(chunk.Text)
	for k, v := range chunk.Metadata {
		payload[k] = toQdrantValue(v)
	}
	return payload
}

func toQdrantValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return qdrant.NewValueString(val)
	case []string:
		items := make([]*qdrant.Value, len(val))
		for i, s := range val {
			items[i] = qdrant.NewValueString(s)
		}
		return qdrant.NewValueList(&qdrant.ListValue{Values: items})
	case int:
		return qdrant.NewValueInt(int64(val))
	case int64:
		return qdrant.NewValueInt(val)
	case float64:
		return qdrant.NewValueDouble(val)
	case bool:
		return qdrant.NewValueBool(val)
	default:
		return qdrant.NewValueString(fmt.Sprintf("%v", val))
	}
}

// buildFilter converts equality filters into a qdrant must-match filter.
// Keyword matches on list-valued payload fields match any element.
func buildFilter(filters map[string]string) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filters))
	for key, value := range filters {
		must = append(must, qdrant.NewMatch(key, value))
	}
	return &qdrant.Filter{Must: must}
}

func extractPayload(payload map[string]*qdrant.Value) (id, text string, metadata map[string]any) {
	metadata = make(map[string]any, len(payload))
	for k, v := range payload {
		switch k {
		case chunkIDKey:
			id = v.GetStringValue()
		case textKey:
			text = v.GetStringValue()
		default:
			metadata[k] = fromQdrantValue(v)
		}
	}
	return id, text, metadata
}

func fromQdrantValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch val := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_ListValue:
		items := make([]string, 0, len(val.ListValue.Values))
		for _, item := range val.ListValue.Values {
			items = append(items, item.GetStringValue())
		}
		return items
	default:
		return nil
	}
}

var _ store.DenseStore = (*Store)(nil)
