package search

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/searchd/internal/search"

// Metrics holds search-related metrics.
type Metrics struct {
	meter      metric.Meter
	logger     *zap.Logger
	duration   metric.Float64Histogram
	candidates metric.Int64Histogram
	degraded   metric.Int64Counter
	failures   metric.Int64Counter
}

// NewMetrics creates a Metrics instance for the search service.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"searchd.search.duration_seconds",
		metric.WithDescription("End-to-end search duration in seconds, labeled by fusion method and cache outcome"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.candidates, err = m.meter.Int64Histogram(
		"searchd.search.fused_candidates",
		metric.WithDescription("Number of candidates entering fusion per request"),
		metric.WithUnit("{candidate}"),
		metric.WithExplicitBucketBoundaries(0, 10, 25, 50, 100, 250, 500, 1000, 2500),
	)
	if err != nil {
		m.logger.Warn("failed to create candidates histogram", zap.Error(err))
	}

	m.degraded, err = m.meter.Int64Counter(
		"searchd.search.degraded_total",
		metric.WithDescription("Responses served degraded, labeled by the stage that failed"),
		metric.WithUnit("{response}"),
	)
	if err != nil {
		m.logger.Warn("failed to create degraded counter", zap.Error(err))
	}

	m.failures, err = m.meter.Int64Counter(
		"searchd.search.failures_total",
		metric.WithDescription("Requests that produced no usable retrieval path"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create failures counter", zap.Error(err))
	}
}

// RecordSearch records end-of-request metrics.
func (m *Metrics) RecordSearch(ctx context.Context, method string, cacheHit bool, duration time.Duration, fusedCandidates int) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("fusion_method", method),
		attribute.Bool("cache_hit", cacheHit),
	}
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
	if !cacheHit && m.candidates != nil {
		m.candidates.Record(ctx, int64(fusedCandidates), metric.WithAttributes(attrs...))
	}
}

// RecordDegraded records a degraded response attributed to a stage.
func (m *Metrics) RecordDegraded(ctx context.Context, stage string) {
	if m == nil || m.degraded == nil {
		return
	}
	m.degraded.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordFailure records a total retrieval failure.
func (m *Metrics) RecordFailure(ctx context.Context) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.Add(ctx, 1)
}
