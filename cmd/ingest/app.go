package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sreyakumar/metadata-embeddings/internal/ai"
	"github.com/sreyakumar/metadata-embeddings/internal/config"
	"github.com/sreyakumar/metadata-embeddings/internal/database"
	"github.com/sreyakumar/metadata-embeddings/internal/logger"
	"github.com/sreyakumar/metadata-embeddings/internal/telemetry"
	"github.com/sreyakumar/metadata-embeddings/services"
	"github.com/sreyakumar/metadata-embeddings/utils"
)

// app holds everything one command needs. close releases it in reverse
// order of acquisition.
type app struct {
	cfg         *config.Config
	resources   *database.Resources
	embedder    ai.Embedder
	redis       *redis.Client
	metrics     *telemetry.Metrics
	vectorStore *services.DocumentDBVectorStore
	driver      *services.IngestionDriver

	closers []func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &app{cfg: cfg}

	closeLog, err := logger.InitLogger(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeLog)

	shutdownTracer, err := telemetry.InitTracer(cfg)
	if err != nil {
		logger.Warn("Tracing disabled", "error", err)
	} else {
		a.closers = append(a.closers, shutdownTracer)
	}

	if a.metrics, err = telemetry.InitMetrics(); err != nil {
		logger.Warn("Metrics disabled", "error", err)
	}

	if err := a.open(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	cfg := a.cfg

	res, err := database.Open(ctx, cfg)
	if err != nil {
		return err
	}
	a.resources = res
	a.closers = append(a.closers, func() {
		if err := res.Close(); err != nil {
			logger.Error("Failed to release database resources", "error", err)
		}
	})

	embedder, err := ai.NewEmbedder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	a.embedder = embedder
	a.closers = append(a.closers, func() { _ = embedder.Close() })

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		a.redis = rdb
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	}

	srcDB, srcColl, err := config.ParseNamespace(cfg.SourceNamespace)
	if err != nil {
		return err
	}
	dstDB, dstColl, err := config.ParseNamespace(cfg.DestinationNamespace)
	if err != nil {
		return err
	}

	source := services.NewMongoSourceStore(res.Client.Database(srcDB).Collection(srcColl), cfg.PageSize)
	a.vectorStore = services.NewDocumentDBVectorStore(
		res.Client.Database(dstDB).Collection(dstColl), embedder, cfg.IndexName, cfg.Similarity, a.metrics)

	opts := []services.IngestionOption{services.WithMetrics(a.metrics)}
	if cfg.OversizedCollection != "" {
		parked := res.Client.Database(dstDB).Collection(cfg.OversizedCollection)
		opts = append(opts, services.WithOversizedSink(services.NewOversizedStore(parked, cfg.TokenLimit)))
	}

	a.driver = services.NewIngestionDriver(source, a.vectorStore, services.NewTransformer(cfg.TokenLimit), services.IngestionConfig{
		BatchSize:         cfg.BatchSize,
		PageSize:          cfg.PageSize,
		Dimensions:        cfg.VectorDimensions,
		Similarity:        cfg.Similarity,
		AbortOnBatchError: cfg.AbortOnBatchError,
	}, opts...)

	logger.Info("Initialized ingestion",
		"source", cfg.SourceNamespace,
		"destination", cfg.DestinationNamespace,
		"provider", cfg.EmbeddingsProvider,
		"token_limit", cfg.TokenLimit,
		"redis_lock", a.redis != nil)
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// runOnce performs one ingestion run, holding the Redis run lock when
// Redis is configured.
func (a *app) runOnce(ctx context.Context) error {
	if a.redis != nil {
		lock := services.NewRunLock(a.redis, a.cfg.DestinationNamespace, time.Duration(a.cfg.LockTTLMinutes)*time.Minute)
		lockCtx, cancel := utils.WithLockTimeout(ctx)
		err := lock.Acquire(lockCtx)
		cancel()
		if err != nil {
			return err
		}
		defer func() {
			releaseCtx, cancel := utils.WithLockTimeout(context.Background())
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil {
				logger.Error("Failed to release run lock", "key", lock.Key(), "error", err)
			}
		}()
	}

	report, err := a.driver.Run(ctx)
	if report != nil {
		logger.Info("Run report",
			"state", string(report.State),
			"pending", report.Pending,
			"documents_chunked", report.DocumentsChunked,
			"documents_failed", report.DocumentsFailed,
			"chunks_written", report.ChunksWritten,
			"failed_batches", report.FailedBatches,
			"oversized_fragments", report.OversizedFragments,
			"duration", report.Duration.String())
	}
	return err
}
