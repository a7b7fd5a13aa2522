package services

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sreyakumar/metadata-embeddings/internal/logger"
	"github.com/sreyakumar/metadata-embeddings/internal/telemetry"
	"github.com/sreyakumar/metadata-embeddings/models"
)

// SourceStore reads metadata records.
type SourceStore interface {
	// ForEachID streams every source _id.
	ForEachID(ctx context.Context, fn func(id interface{}) error) error
	// FetchDocuments calls fn once per requested record. decodeErr is set
	// when a record was found but could not be decoded.
	FetchDocuments(ctx context.Context, ids []interface{}, fn func(doc models.SourceDocument, decodeErr error) error) error
}

// DestinationStore is the vector-indexed chunk collection. AddChunks embeds
// the chunks before writing them.
type DestinationStore interface {
	// IngestedIDs returns the set of original_ids present, keyed by models.IDKey.
	IngestedIDs(ctx context.Context) (map[string]struct{}, error)
	AddChunks(ctx context.Context, chunks []models.Chunk) error
	DeleteChunks(ctx context.Context, originalIDs []interface{}) (int64, error)
	CreateIndex(ctx context.Context, dimensions int, similarity string) error
}

// OversizedSink keeps fragments that were too large to embed so they can
// be reviewed later.
type OversizedSink interface {
	ParkOversized(ctx context.Context, chunks []models.Chunk) error
}

// IngestionConfig holds the run parameters.
type IngestionConfig struct {
	BatchSize         int
	PageSize          int
	Dimensions        int
	Similarity        string
	AbortOnBatchError bool
}

// IngestionOption configures optional collaborators.
type IngestionOption func(*IngestionDriver)

// WithOversizedSink parks oversized fragments instead of only counting them.
func WithOversizedSink(sink OversizedSink) IngestionOption {
	return func(d *IngestionDriver) { d.oversized = sink }
}

// WithMetrics records run metrics.
func WithMetrics(m *telemetry.Metrics) IngestionOption {
	return func(d *IngestionDriver) { d.metrics = m }
}

// IngestionDriver embeds the source records that are not in the
// destination yet. It is sequential and safe to rerun: records already
// present are skipped, and records whose chunks were only partly written
// are removed again so the next run retries them.
type IngestionDriver struct {
	source      SourceStore
	dest        DestinationStore
	transformer *Transformer
	cfg         IngestionConfig
	oversized   OversizedSink
	metrics     *telemetry.Metrics
}

func NewIngestionDriver(source SourceStore, dest DestinationStore, transformer *Transformer, cfg IngestionConfig, opts ...IngestionOption) *IngestionDriver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	d := &IngestionDriver{source: source, dest: dest, transformer: transformer, cfg: cfg}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// errAborted marks a run stopped by the abort-on-batch-error policy.
var errAborted = errors.New("ingestion aborted after batch failure")

// Run performs one ingestion run. The report is returned even on error.
func (d *IngestionDriver) Run(ctx context.Context) (report *models.RunReport, err error) {
	report = &models.RunReport{StartedAt: time.Now()}

	ctx, span := otel.Tracer("ingestion").Start(ctx, "ingestion.run")
	defer func() {
		report.Duration = time.Since(report.StartedAt)
		span.SetAttributes(
			attribute.String("ingest.state", string(report.State)),
			attribute.Int("ingest.pending", report.Pending),
			attribute.Int("ingest.chunks_written", report.ChunksWritten),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	fail := func(e error) (*models.RunReport, error) {
		report.State = models.RunStateFailed
		logger.Error("Ingestion run failed", "error", e)
		return report, e
	}

	// Discover
	logger.Info("Finding assets that are already embedded...")
	ingested, err := d.dest.IngestedIDs(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to read ingested ids: %w", err))
	}
	report.AlreadyIngested = len(ingested)
	logger.Info("Skipping assets already in the destination collection", "count", len(ingested))

	// Select
	var pending []interface{}
	err = d.source.ForEachID(ctx, func(id interface{}) error {
		if _, ok := ingested[models.IDKey(id)]; !ok {
			pending = append(pending, id)
		}
		return nil
	})
	if err != nil {
		return fail(fmt.Errorf("failed to list source ids: %w", err))
	}
	report.Pending = len(pending)
	logger.Info("Assets need to be vectorized", "count", len(pending))

	if len(pending) == 0 {
		report.State = models.RunStateUpToDate
		logger.Info("Vectorstore is up to date!")
		return report, nil
	}

	// Chunk, Embed & Index
	b := &batcher{driver: d, report: report, failedDocs: map[string]interface{}{}}

	logger.Info("Chunking documents...", "token_limit", d.transformer.TokenLimit(), "batch_size", d.cfg.BatchSize)
	var runErr error
	for start := 0; start < len(pending) && runErr == nil; start += d.cfg.PageSize {
		end := min(start+d.cfg.PageSize, len(pending))
		runErr = d.source.FetchDocuments(ctx, pending[start:end], func(doc models.SourceDocument, decodeErr error) error {
			d.chunkDocument(ctx, doc, decodeErr, b)
			return b.flushFull(ctx)
		})
	}
	if runErr == nil {
		runErr = b.flush(ctx)
	}

	logger.Info("Successfully chunked documents",
		"documents", report.DocumentsChunked,
		"failed", report.DocumentsFailed,
		"without_embeddable_fields", report.DocumentsEmpty)
	logger.Info("Chunks added to collection", "chunks", report.ChunksWritten, "batches", report.Batches, "failed_batches", report.FailedBatches)
	logger.Info("Skipped fragments due to token limitations", "count", report.OversizedFragments)

	if runErr != nil {
		// Anything still buffered may belong to records whose first chunks
		// were already written.
		b.discardBuffered()
	}
	d.purgePartial(ctx, b)

	if runErr != nil {
		if !errors.Is(runErr, errAborted) && report.Batches == 0 {
			return fail(fmt.Errorf("failed before any batch was written: %w", runErr))
		}
		return fail(runErr)
	}

	// Finalize
	logger.Info("Creating vector index with chunked documents", "dimensions", d.cfg.Dimensions, "similarity", d.cfg.Similarity)
	if err := d.dest.CreateIndex(ctx, d.cfg.Dimensions, d.cfg.Similarity); err != nil {
		return fail(fmt.Errorf("failed to create vector index: %w", err))
	}
	report.IndexBuilt = true
	report.State = models.RunStateCompleted

	logger.Info("Ingestion run completed",
		"chunks_written", report.ChunksWritten,
		"failed_batches", report.FailedBatches,
		"duration", time.Since(report.StartedAt).String())
	return report, nil
}

// chunkDocument transforms one record and queues its chunks. Failures are
// logged and only affect this record.
func (d *IngestionDriver) chunkDocument(ctx context.Context, doc models.SourceDocument, decodeErr error, b *batcher) {
	processed := b.report.DocumentsChunked + b.report.DocumentsFailed + b.report.DocumentsEmpty
	if processed%100 == 0 {
		logger.Info("Currently on asset number", "number", processed)
	}

	if decodeErr != nil {
		b.report.DocumentsFailed++
		d.metrics.RecordDocument(ctx, "failed", 0, 0)
		logger.Error("Failed to decode document", "id", fmt.Sprint(doc.ID), "error", decodeErr)
		return
	}

	chunks, oversized, err := d.safeTransform(doc)
	if err != nil {
		b.report.DocumentsFailed++
		d.metrics.RecordDocument(ctx, "failed", 0, 0)
		logger.Error("Failed to chunk document", "id", fmt.Sprint(doc.ID), "error", err)
		return
	}

	if len(chunks) == 0 && len(oversized) == 0 {
		b.report.DocumentsEmpty++
		d.metrics.RecordDocument(ctx, "empty", 0, 0)
		logger.Debug("Document has no embeddable fields", "id", fmt.Sprint(doc.ID), "name", doc.Name())
		return
	}

	b.report.DocumentsChunked++
	b.report.Chunks += len(chunks)
	b.report.OversizedFragments += len(oversized)
	d.metrics.RecordDocument(ctx, "ok", len(chunks), len(oversized))

	if len(oversized) > 0 {
		largest := 0
		for _, c := range oversized {
			largest = max(largest, utf8.RuneCountInString(c.PageContent))
		}
		logger.Warn("Fragments exceed the token limit and will not be embedded",
			"id", fmt.Sprint(doc.ID), "count", len(oversized), "largest", largest, "token_limit", d.transformer.TokenLimit())
		if d.oversized != nil {
			if err := d.oversized.ParkOversized(ctx, oversized); err != nil {
				logger.Error("Failed to park oversized fragments", "id", fmt.Sprint(doc.ID), "error", err)
			}
		}
	}

	b.pending = append(b.pending, chunks...)
}

func (d *IngestionDriver) safeTransform(doc models.SourceDocument) (chunks, oversized []models.Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while chunking: %v", r)
		}
	}()
	return d.transformer.Transform(doc)
}

// purgePartial removes chunks of records that had at least one chunk in a
// failed batch, so the record is not considered ingested next time.
func (d *IngestionDriver) purgePartial(ctx context.Context, b *batcher) {
	if len(b.failedDocs) == 0 {
		return
	}

	ids := make([]interface{}, 0, len(b.failedDocs))
	for _, id := range b.failedDocs {
		ids = append(ids, id)
	}

	deleted, err := d.dest.DeleteChunks(ctx, ids)
	if err != nil {
		logger.Error("Failed to purge partially ingested documents; they will be skipped by the next run",
			"documents", len(ids), "error", err)
		return
	}
	b.report.DocumentsPurged = len(ids)
	logger.Warn("Purged partially ingested documents so the next run retries them",
		"documents", len(ids), "chunks_deleted", deleted)
}

// batcher accumulates chunks and submits them in fixed-size batches.
type batcher struct {
	driver     *IngestionDriver
	report     *models.RunReport
	pending    []models.Chunk
	failedDocs map[string]interface{}
}

func (b *batcher) flushFull(ctx context.Context) error {
	for len(b.pending) >= b.driver.cfg.BatchSize {
		if err := b.submit(ctx, b.driver.cfg.BatchSize); err != nil {
			return err
		}
	}
	return nil
}

func (b *batcher) flush(ctx context.Context) error {
	if err := b.flushFull(ctx); err != nil {
		return err
	}
	if len(b.pending) > 0 {
		return b.submit(ctx, len(b.pending))
	}
	return nil
}

func (b *batcher) submit(ctx context.Context, n int) error {
	batch := b.pending[:n:n]
	b.pending = b.pending[n:]
	b.report.Batches++
	number := b.report.Batches

	start := time.Now()
	err := b.driver.dest.AddChunks(ctx, batch)
	b.driver.metrics.RecordBatch(ctx, len(batch), time.Since(start).Seconds(), err == nil)

	if err == nil {
		b.report.ChunksWritten += len(batch)
		logger.Info("Added batch of documents", "batch", number, "chunks", len(batch))
		return nil
	}

	b.report.FailedBatches++
	b.markFailed(batch)
	logger.Error("Failed to add batch", "batch", number, "chunks", len(batch), "error", err)

	if b.driver.cfg.AbortOnBatchError {
		return fmt.Errorf("%w: batch %d: %v", errAborted, number, err)
	}
	return nil
}

func (b *batcher) markFailed(chunks []models.Chunk) {
	for _, c := range chunks {
		id := c.OriginalID()
		b.failedDocs[models.IDKey(id)] = id
	}
}

func (b *batcher) discardBuffered() {
	b.markFailed(b.pending)
	b.pending = nil
}
