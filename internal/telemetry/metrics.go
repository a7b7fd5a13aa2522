package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the ingestion metrics.
type Metrics struct {
	DocumentsProcessed metric.Int64Counter
	ChunksCreated      metric.Int64Counter
	OversizedFragments metric.Int64Counter
	Batches            metric.Int64Counter
	ChunksWritten      metric.Int64Counter
	BatchDuration      metric.Float64Histogram
	DatabaseOperations metric.Int64Counter
}

// InitMetrics creates the instruments on the global meter provider.
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("metadata-embeddings")

	documentsProcessed, err := meter.Int64Counter(
		"ingest.documents.total",
		metric.WithDescription("Source documents chunked, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	chunksCreated, err := meter.Int64Counter(
		"ingest.chunks.created",
		metric.WithDescription("Chunks created within the token budget"),
	)
	if err != nil {
		return nil, err
	}

	oversizedFragments, err := meter.Int64Counter(
		"ingest.chunks.oversized",
		metric.WithDescription("Fragments excluded for exceeding the token budget"),
	)
	if err != nil {
		return nil, err
	}

	batches, err := meter.Int64Counter(
		"ingest.batches.total",
		metric.WithDescription("Chunk batches submitted, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	chunksWritten, err := meter.Int64Counter(
		"ingest.chunks.written",
		metric.WithDescription("Chunks embedded and written to the vector collection"),
	)
	if err != nil {
		return nil, err
	}

	batchDuration, err := meter.Float64Histogram(
		"ingest.batch.duration",
		metric.WithDescription("Embed and write duration per batch in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	databaseOperations, err := meter.Int64Counter(
		"database.operations.total",
		metric.WithDescription("Total database operations"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		DocumentsProcessed: documentsProcessed,
		ChunksCreated:      chunksCreated,
		OversizedFragments: oversizedFragments,
		Batches:            batches,
		ChunksWritten:      chunksWritten,
		BatchDuration:      batchDuration,
		DatabaseOperations: databaseOperations,
	}, nil
}

// RecordDocument records one chunked document. status is "ok", "empty" or "failed".
func (m *Metrics) RecordDocument(ctx context.Context, status string, chunks, oversized int) {
	if m == nil {
		return
	}
	m.DocumentsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.ChunksCreated.Add(ctx, int64(chunks))
	m.OversizedFragments.Add(ctx, int64(oversized))
}

// RecordBatch records one batch submission.
func (m *Metrics) RecordBatch(ctx context.Context, size int, duration float64, success bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.Batches.Add(ctx, 1, attrs)
	m.BatchDuration.Record(ctx, duration, attrs)
	if success {
		m.ChunksWritten.Add(ctx, int64(size))
	}
}

// RecordDatabaseOperation records database operation metrics
func (m *Metrics) RecordDatabaseOperation(ctx context.Context, operation, collection string, success bool) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.operation", operation),
		attribute.String("db.collection", collection),
		attribute.Bool("db.success", success),
	}

	m.DatabaseOperations.Add(ctx, 1, metric.WithAttributes(attrs...))
}
