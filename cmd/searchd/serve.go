package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/cache"
	"github.com/fyrsmithlabs/searchd/internal/config"
	"github.com/fyrsmithlabs/searchd/internal/embeddings"
	"github.com/fyrsmithlabs/searchd/internal/httpapi"
	"github.com/fyrsmithlabs/searchd/internal/index"
	"github.com/fyrsmithlabs/searchd/internal/logging"
	"github.com/fyrsmithlabs/searchd/internal/rerank"
	"github.com/fyrsmithlabs/searchd/internal/search"
	"github.com/fyrsmithlabs/searchd/internal/store"
	"github.com/fyrsmithlabs/searchd/internal/store/bm25"
	"github.com/fyrsmithlabs/searchd/internal/store/chromemstore"
	"github.com/fyrsmithlabs/searchd/internal/store/qdrantstore"
	"github.com/fyrsmithlabs/searchd/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the searchd server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithFile(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	return cmd
}

// serve wires the full service graph and blocks until a termination
// signal arrives or the server fails.
func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetry.Version = version
	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := newLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if tel.Degraded() {
		logger.Warn(ctx, "telemetry export unavailable, continuing without it")
	}

	embedder, err := embeddings.NewFromConfig(cfg.Embeddings, logger)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	sparse := bm25.New()
	dense, err := newDenseStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create dense store: %w", err)
	}

	reranker, err := newReranker(cfg)
	if err != nil {
		return fmt.Errorf("failed to create reranker: %w", err)
	}
	if reranker != nil {
		defer reranker.Close() //nolint:errcheck
	}

	var resultCache *cache.Cache[search.Response]
	if cfg.Cache.Enabled {
		resultCache = cache.New[search.Response](
			cfg.Cache.MaxEntries,
			cfg.Cache.TTL.Duration(),
			prometheus.DefaultRegisterer,
		)
	}

	searcher, err := search.NewService(cfg.Search, search.Deps{
		Sparse:   sparse,
		Dense:    dense,
		Embedder: embedder,
		Reranker: reranker,
		Cache:    resultCache,
		Logger:   logger.Named("search"),
		Metrics:  search.NewMetrics(logger.Underlying()),
	})
	if err != nil {
		return fmt.Errorf("failed to create search service: %w", err)
	}

	pipeline, err := index.NewPipeline(cfg.Index, index.PipelineDeps{
		Embedder: embedder,
		Sparse:   sparse,
		Dense:    dense,
		Logger:   logger.Named("index"),
		Metrics:  index.NewMetrics(logger.Underlying()),
	})
	if err != nil {
		return fmt.Errorf("failed to create index pipeline: %w", err)
	}

	server, err := httpapi.NewServer(cfg.Server, searcher, pipeline, logger.Named("http"))
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info(ctx, "searchd started",
		zap.String("version", version),
		zap.String("dense_store", cfg.Stores.Dense.Provider),
		zap.String("fusion_method", cfg.Search.FusionMethod),
	)

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http shutdown failed", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
	}

	logger.Info(context.Background(), "shutdown complete")
	return nil
}

func newLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	logCfg := logging.NewDefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Logging.Format
	logCfg.Output.OTEL = tel.IsEnabled() && !tel.Degraded()

	return logging.NewLogger(logCfg, tel.LoggerProvider())
}

func newDenseStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (store.DenseStore, error) {
	switch cfg.Stores.Dense.Provider {
	case "qdrant":
		return qdrantstore.New(ctx, qdrantstore.Config{
			Host:           cfg.Stores.Dense.Qdrant.Host,
			Port:           cfg.Stores.Dense.Qdrant.Port,
			UseTLS:         cfg.Stores.Dense.Qdrant.UseTLS,
			APIKey:         cfg.Stores.Dense.Qdrant.APIKey.Value(),
			Collection:     cfg.Stores.Dense.Qdrant.Collection,
			VectorSize:     cfg.Embeddings.VectorSize,
			RequestTimeout: cfg.Stores.Dense.Qdrant.RequestTimeout.Duration(),
			RetryAttempts:  cfg.Stores.Dense.Qdrant.RetryAttempts,
		}, logger.Named("qdrant"))
	default: // chromem
		return chromemstore.New(chromemstore.Config{
			Path:       cfg.Stores.Dense.Chromem.Path,
			Compress:   cfg.Stores.Dense.Chromem.Compress,
			Collection: cfg.Stores.Dense.Chromem.Collection,
			VectorSize: cfg.Embeddings.VectorSize,
		}, logger.Named("chromem"))
	}
}

func newReranker(cfg *config.Config) (rerank.Reranker, error) {
	switch cfg.Rerank.Provider {
	case "none":
		return nil, nil
	case "tei":
		return rerank.NewTEIReranker(rerank.TEIConfig{BaseURL: cfg.Rerank.BaseURL})
	default: // simple
		return rerank.NewSimpleReranker(), nil
	}
}
