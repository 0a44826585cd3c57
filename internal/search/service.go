package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/searchd/internal/cache"
	"github.com/fyrsmithlabs/searchd/internal/config"
	"github.com/fyrsmithlabs/searchd/internal/embeddings"
	"github.com/fyrsmithlabs/searchd/internal/logging"
	"github.com/fyrsmithlabs/searchd/internal/rerank"
	"github.com/fyrsmithlabs/searchd/internal/store"
)

var tracer = otel.Tracer(instrumentationName)

// Fractions of the remaining request deadline each stage may consume.
// Configured per-stage timeouts still apply when tighter.
const (
	embedBudgetFraction     = 0.25
	retrievalBudgetFraction = 0.5
	rerankBudgetFraction    = 0.25
)

// Deps bundles the collaborators of the search service. Sparse, Dense,
// and Embedder are required; Reranker and Cache are optional.
type Deps struct {
	Sparse   store.SparseStore
	Dense    store.DenseStore
	Embedder embeddings.Embedder
	Reranker rerank.Reranker
	Cache    *cache.Cache[Response]
	Logger   *logging.Logger
	Metrics  *Metrics
}

// Service orchestrates hybrid search: cache lookup, query embedding,
// concurrent sparse/dense retrieval, fusion, optional reranking.
type Service struct {
	cfg      config.SearchConfig
	sparse   store.SparseStore
	dense    store.DenseStore
	embedder embeddings.Embedder
	reranker rerank.Reranker
	cache    *cache.Cache[Response]
	logger   *logging.Logger
	metrics  *Metrics
}

// NewService creates a search service.
func NewService(cfg config.SearchConfig, deps Deps) (*Service, error) {
	if deps.Sparse == nil {
		return nil, fmt.Errorf("sparse store is required")
	}
	if deps.Dense == nil {
		return nil, fmt.Errorf("dense store is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	return &Service{
		cfg:      cfg,
		sparse:   deps.Sparse,
		dense:    deps.Dense,
		embedder: deps.Embedder,
		reranker: deps.Reranker,
		cache:    deps.Cache,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}, nil
}

// Search runs a hybrid search request.
//
// Failure policy: embedding failure degrades to sparse-only; a failed or
// timed-out retrieval path contributes an empty list; reranker failure
// falls back to fusion order. Only the loss of every retrieval path is an
// error. Degraded responses are never cached.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "search.Search")
	defer span.End()

	params, rerankOn, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("fusion_method", params.Method),
		attribute.Int("k", req.K),
	)

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.cfg.RequestTimeout.Duration() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout.Duration())
		defer cancel()
	}

	key := cache.Key(cache.KeyParams{
		Query:        req.Query,
		K:            req.K,
		Filters:      req.Filters,
		FusionMethod: params.Method,
		Alpha:        params.Alpha,
		RRFK:         params.RRFK,
		Rerank:       rerankOn,
	})
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			resp := cached
			resp.CacheHit = true
			resp.Latency.TotalMs = millis(time.Since(start))
			s.metrics.RecordSearch(ctx, params.Method, true, time.Since(start), 0)
			return &resp, nil
		}
	}

	overfetch := req.K * s.cfg.OverfetchFactor
	if overfetch < s.cfg.OverfetchMin {
		overfetch = s.cfg.OverfetchMin
	}

	var lat Latency
	degraded := false

	// Query embedding. Failure costs the dense path, not the request.
	embedStart := time.Now()
	vector, embedErr := s.embedQuery(ctx, req.Query)
	lat.EmbeddingMs = millis(time.Since(embedStart))
	if embedErr != nil {
		degraded = true
		s.metrics.RecordDegraded(ctx, "embedding")
		s.logger.Warn(ctx, "query embedding failed, degrading to sparse-only",
			zap.Error(embedErr),
		)
	}

	// Fan out to both stores. Each path has its own timeout and absorbs
	// its own failure; fusion only ever sees complete (possibly empty)
	// lists.
	var (
		sparseResults, denseResults []store.Candidate
		sparseErr, denseErr         error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t := time.Now()
		sctx, cancel := stageContext(gctx, s.cfg.RetrievalTimeout.Duration(), retrievalBudgetFraction)
		defer cancel()
		sparseResults, sparseErr = s.sparse.Search(sctx, req.Query, overfetch, req.Filters)
		lat.SparseSearchMs = millis(time.Since(t))
		return nil
	})
	if vector != nil {
		g.Go(func() error {
			t := time.Now()
			dctx, cancel := stageContext(gctx, s.cfg.RetrievalTimeout.Duration(), retrievalBudgetFraction)
			defer cancel()
			denseResults, denseErr = s.dense.Search(dctx, vector, overfetch, req.Filters)
			lat.DenseSearchMs = millis(time.Since(t))
			return nil
		})
	}
	_ = g.Wait()

	if sparseErr != nil {
		degraded = true
		sparseResults = nil
		s.metrics.RecordDegraded(ctx, "sparse")
		s.logger.Warn(ctx, "sparse retrieval failed", zap.Error(sparseErr))
	}
	if vector != nil && denseErr != nil {
		degraded = true
		denseResults = nil
		s.metrics.RecordDegraded(ctx, "dense")
		s.logger.Warn(ctx, "dense retrieval failed", zap.Error(denseErr))
	}

	sparseOK := sparseErr == nil
	denseOK := vector != nil && denseErr == nil
	if !sparseOK && !denseOK {
		s.metrics.RecordFailure(ctx)
		return nil, fmt.Errorf("%w: sparse: %v, dense: %v", ErrUpstreamUnavailable, sparseErr, firstErr(embedErr, denseErr))
	}

	fusionStart := time.Now()
	fused, err := Fuse(sparseResults, denseResults, params)
	if err != nil {
		return nil, err
	}
	lat.FusionMs = millis(time.Since(fusionStart))

	if rerankOn && s.reranker != nil && len(fused) > 0 {
		rerankStart := time.Now()
		fused = s.rerankPool(ctx, req.Query, fused)
		lat.RerankMs = millis(time.Since(rerankStart))
	}

	if len(fused) > req.K {
		fused = fused[:req.K]
	}
	lat.TotalMs = millis(time.Since(start))

	resp := &Response{
		Results:  fused,
		Degraded: degraded,
		Latency:  lat,
	}
	if s.cache != nil && !degraded {
		s.cache.Set(key, *resp)
	}

	s.metrics.RecordSearch(ctx, params.Method, false, time.Since(start), len(sparseResults)+len(denseResults))
	s.logger.Debug(ctx, "search completed",
		zap.Int("results", len(fused)),
		zap.Bool("degraded", degraded),
	)
	return resp, nil
}

// resolve validates the request and snapshots the effective fusion
// parameters and rerank flag. Configuration is read exactly once here;
// nothing later in the request consults it again.
func (s *Service) resolve(req Request) (FusionParams, bool, error) {
	if strings.TrimSpace(req.Query) == "" {
		return FusionParams{}, false, fmt.Errorf("%w: query must not be empty", ErrInvalidRequest)
	}
	if req.K <= 0 {
		return FusionParams{}, false, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidRequest, req.K)
	}
	if s.cfg.MaxK > 0 && req.K > s.cfg.MaxK {
		return FusionParams{}, false, fmt.Errorf("%w: k %d exceeds maximum %d", ErrInvalidRequest, req.K, s.cfg.MaxK)
	}
	for key := range req.Filters {
		if key == "" {
			return FusionParams{}, false, fmt.Errorf("%w: filter keys must not be empty", ErrInvalidRequest)
		}
	}
	if req.Alpha != nil && (*req.Alpha < 0 || *req.Alpha > 1) {
		return FusionParams{}, false, fmt.Errorf("%w: alpha must be in [0,1], got %g", ErrInvalidRequest, *req.Alpha)
	}

	method := req.FusionMethod
	if method == "" {
		method = s.cfg.FusionMethod
	}

	var alpha float64
	switch method {
	case FusionAdaptive:
		alpha = ResolveAlpha(req.Query, req.Alpha)
	default:
		alpha = s.cfg.Alpha
		if req.Alpha != nil {
			alpha = *req.Alpha
		}
	}

	params := FusionParams{
		Method: method,
		RRFK:   s.cfg.RRFK,
		Alpha:  alpha,
	}
	if err := params.Validate(); err != nil {
		return FusionParams{}, false, err
	}

	rerankOn := s.cfg.RerankEnabled
	if req.Rerank != nil {
		rerankOn = *req.Rerank
	}
	return params, rerankOn, nil
}

func (s *Service) embedQuery(ctx context.Context, query string) ([]float32, error) {
	ectx, cancel := stageContext(ctx, s.cfg.EmbedTimeout.Duration(), embedBudgetFraction)
	defer cancel()
	return s.embedder.EmbedQuery(ectx, query)
}

// rerankPool hands the top of the fused list to the reranker and splices
// the reordered pool back in front of the remainder. Any failure keeps
// the fusion order.
func (s *Service) rerankPool(ctx context.Context, query string, fused []Result) []Result {
	pool := s.cfg.RerankPoolSize
	if pool <= 0 || pool > len(fused) {
		pool = len(fused)
	}

	docs := make([]rerank.Document, pool)
	for i, r := range fused[:pool] {
		docs[i] = rerank.Document{ID: r.ID, Text: r.Text, Score: r.Score}
	}

	rctx, cancel := stageContext(ctx, s.cfg.RerankTimeout.Duration(), rerankBudgetFraction)
	defer cancel()

	reordered, err := s.reranker.Rerank(rctx, query, docs)
	if err != nil || len(reordered) != pool {
		s.metrics.RecordDegraded(ctx, "rerank")
		s.logger.Warn(ctx, "rerank failed, keeping fusion order", zap.Error(err))
		return fused
	}

	byID := make(map[string]Result, pool)
	for _, r := range fused[:pool] {
		byID[r.ID] = r
	}

	out := make([]Result, 0, len(fused))
	for _, doc := range reordered {
		r, ok := byID[doc.ID]
		if !ok {
			// Reranker violated set preservation; distrust the whole pool.
			s.logger.Warn(ctx, "reranker returned unknown candidate, keeping fusion order",
				zap.String("id", doc.ID),
			)
			return fused
		}
		r.Score = doc.Score
		out = append(out, r)
	}
	return append(out, fused[pool:]...)
}

// stageContext derives a sub-deadline: the tighter of the configured
// stage timeout and the given fraction of the remaining request budget.
func stageContext(ctx context.Context, configured time.Duration, fraction float64) (context.Context, context.CancelFunc) {
	timeout := configured
	if deadline, ok := ctx.Deadline(); ok {
		budget := time.Duration(float64(time.Until(deadline)) * fraction)
		if timeout <= 0 || budget < timeout {
			timeout = budget
		}
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
