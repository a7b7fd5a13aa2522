package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/sreyakumar/metadata-embeddings/internal/config"
)

// ErrDimensionMismatch is returned when a provider hands back vectors of a
// different size than the index was configured for.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder turns chunk text into fixed-size vectors.
type Embedder interface {
	// EmbedDocuments returns one vector per text, in order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Close() error
}

// NewEmbedder builds the configured provider wrapped with rate limiting,
// a circuit breaker and dimension checks.
// Default provider is Amazon Bedrock (amazon.titan-embed-text-v2:0).
func NewEmbedder(ctx context.Context, cfg *config.Config) (Embedder, error) {
	var (
		inner Embedder
		name  string
		err   error
	)

	switch cfg.EmbeddingsProvider {
	case "bedrock", "":
		name = "bedrock"
		inner, err = NewBedrockEmbedder(ctx, cfg)
	case "google":
		name = "google"
		inner, err = NewGoogleEmbedder(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", cfg.EmbeddingsProvider)
	}
	if err != nil {
		return nil, err
	}

	return NewResilientEmbedder(inner, ResilientOptions{
		Name:              name,
		RequestsPerSecond: cfg.EmbeddingsRPS,
		Dimensions:        cfg.VectorDimensions,
	}), nil
}
