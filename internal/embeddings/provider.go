package embeddings

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/config"
	"github.com/fyrsmithlabs/searchd/internal/logging"
)

// NewFromConfig builds the configured embedding provider wrapped in retry
// behavior.
func NewFromConfig(cfg config.EmbeddingsConfig, logger *logging.Logger) (Embedder, error) {
	metrics := NewMetrics(loggerOrNil(logger))

	var inner Embedder
	var err error

	switch cfg.Provider {
	case "tei":
		inner, err = NewTEIProvider(TEIConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			VectorSize: cfg.VectorSize,
		}, metrics)
	case "openai":
		inner, err = NewOpenAIProvider(OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			APIKey:     cfg.APIKey.Value(),
			VectorSize: cfg.VectorSize,
		}, metrics)
	case "fastembed":
		inner, err = NewFastEmbedProvider(FastEmbedConfig{
			Model: cfg.Model,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return WithRetry(inner, RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay.Duration(),
		MaxDelay:    cfg.Retry.MaxDelay.Duration(),
	}, logger), nil
}

func loggerOrNil(logger *logging.Logger) *zap.Logger {
	if logger == nil {
		return nil
	}
	return logger.Underlying()
}
