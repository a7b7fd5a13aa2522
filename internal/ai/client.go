package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/sreyakumar/metadata-embeddings/internal/logger"
)

type ResilientOptions struct {
	Name              string
	RequestsPerSecond float64
	Dimensions        int
	// Breaker settings; zero values use the defaults below.
	MinRequests  uint32
	FailureRatio float64
	OpenTimeout  time.Duration
}

// ResilientEmbedder wraps a provider with a rate limiter, a circuit breaker
// and a dimension check, and traces every call.
type ResilientEmbedder struct {
	inner       Embedder
	name        string
	dimensions  int
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
}

func NewResilientEmbedder(inner Embedder, opts ResilientOptions) *ResilientEmbedder {
	if opts.MinRequests == 0 {
		opts.MinRequests = 3
	}
	if opts.FailureRatio == 0 {
		opts.FailureRatio = 0.6
	}
	if opts.OpenTimeout == 0 {
		opts.OpenTimeout = 60 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "Embeddings-" + opts.Name,
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= opts.MinRequests && failureRatio >= opts.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &ResilientEmbedder{
		inner:       inner,
		name:        opts.Name,
		dimensions:  opts.Dimensions,
		breaker:     breaker,
		rateLimiter: rate.NewLimiter(limit, burst),
	}
}

func (r *ResilientEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	tracer := otel.Tracer("embeddings")
	ctx, span := tracer.Start(ctx, "embeddings.embed_documents")
	defer span.End()

	span.SetAttributes(
		attribute.String("embeddings.provider", r.name),
		attribute.Int("embeddings.texts", len(texts)),
	)

	if err := r.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("embeddings.rate_limited", true))
		return nil, err
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		vectors, err := r.inner.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors))
		}
		for i, v := range vectors {
			if err := r.checkDimensions(v); err != nil {
				return nil, fmt.Errorf("text %d: %w", i, err)
			}
		}
		return vectors, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			span.SetAttributes(attribute.Bool("embeddings.circuit_breaker_open", true))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return result.([][]float32), nil
}

func (r *ResilientEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := r.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (r *ResilientEmbedder) checkDimensions(v []float32) error {
	if r.dimensions > 0 && len(v) != r.dimensions {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), r.dimensions)
	}
	return nil
}

// State reports the breaker state, mostly for logs and tests.
func (r *ResilientEmbedder) State() gobreaker.State {
	return r.breaker.State()
}

func (r *ResilientEmbedder) Close() error {
	return r.inner.Close()
}
