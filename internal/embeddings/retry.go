package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/logging"
)

// RetryConfig bounds the retry decorator.
type RetryConfig struct {
	// MaxAttempts is the total attempt count including the first call.
	MaxAttempts int

	// BaseDelay is the initial backoff. Doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

func (c *RetryConfig) applyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 2 * time.Second
	}
}

// RetryingEmbedder wraps an Embedder with bounded exponential backoff on
// transient failures. Validation and dimension errors are never retried.
type RetryingEmbedder struct {
	inner  Embedder
	config RetryConfig
	logger *logging.Logger
}

// WithRetry wraps an embedder in retry behavior.
func WithRetry(inner Embedder, cfg RetryConfig, logger *logging.Logger) *RetryingEmbedder {
	cfg.applyDefaults()
	if logger == nil {
		logger = logging.Nop()
	}
	return &RetryingEmbedder{
		inner:  inner,
		config: cfg,
		logger: logger,
	}
}

// EmbedQuery generates a query embedding, retrying transient failures.
func (r *RetryingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := r.retry(ctx, "embed_query", func() error {
		var err error
		vector, err = r.inner.EmbedQuery(ctx, text)
		return err
	})
	return vector, err
}

// EmbedDocuments generates document embeddings, retrying transient failures.
func (r *RetryingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := r.retry(ctx, "embed_documents", func() error {
		var err error
		vectors, err = r.inner.EmbedDocuments(ctx, texts)
		return err
	})
	return vectors, err
}

// Dimension returns the inner embedder's dimension.
func (r *RetryingEmbedder) Dimension() int {
	return r.inner.Dimension()
}

func (r *RetryingEmbedder) retry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	delay := r.config.BaseDelay

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				r.logger.Info(ctx, "embedding recovered after retries",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
				)
			}
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		r.logger.Debug(ctx, "retrying embedding after transient error",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}

	return fmt.Errorf("embedding failed after %d attempts: %w", r.config.MaxAttempts, lastErr)
}

// isRetryable reports whether an embedding error is worth retrying.
// Only upstream failures are; caller mistakes and dimension drift are not.
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrEmptyInput), errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrDimensionMismatch):
		return false
	case errors.Is(err, ErrEmbeddingFailed):
		return true
	default:
		return false
	}
}

var _ Embedder = (*RetryingEmbedder)(nil)
