package index

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/searchd/internal/index"

// Metrics holds indexing pipeline metrics.
type Metrics struct {
	meter     metric.Meter
	logger    *zap.Logger
	documents metric.Int64Counter
	chunks    metric.Int64Counter
	errors    metric.Int64Counter
}

// NewMetrics creates a Metrics instance for the indexing pipeline.
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

	m.documents, err = m.meter.Int64Counter(
		"searchd.index.documents_total",
		metric.WithDescription("Documents ingested"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		m.logger.Warn("failed to create documents counter", zap.Error(err))
	}

	m.chunks, err = m.meter.Int64Counter(
		"searchd.index.chunks_total",
		metric.WithDescription("Chunks written to both stores"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		m.logger.Warn("failed to create chunks counter", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"searchd.index.errors_total",
		metric.WithDescription("Localized indexing failures, labeled by stage"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

// RecordDocument records one ingested document and its indexed chunks.
func (m *Metrics) RecordDocument(ctx context.Context, indexedChunks int) {
	if m == nil {
		return
	}
	if m.documents != nil {
		m.documents.Add(ctx, 1)
	}
	if m.chunks != nil && indexedChunks > 0 {
		m.chunks.Add(ctx, int64(indexedChunks))
	}
}

// RecordError records a localized indexing failure attributed to a stage.
func (m *Metrics) RecordError(ctx context.Context, stage string) {
	if m == nil || m.errors == nil {
		return
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}
