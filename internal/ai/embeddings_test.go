package ai

import (
	"context"
	"os"
	"testing"

	"github.com/sreyakumar/metadata-embeddings/internal/config"
)

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	_, err := NewEmbedder(context.Background(), &config.Config{EmbeddingsProvider: "openai"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestGoogleEmbedder_Live(t *testing.T) {
	if os.Getenv("GEMINI_API_KEY") == "" {
		t.Skip("GEMINI_API_KEY not set")
	}
	cfg := &config.Config{
		EmbeddingsProvider:    "google",
		GeminiAPIKey:          os.Getenv("GEMINI_API_KEY"),
		GoogleEmbeddingsModel: "text-embedding-004",
		EmbeddingsRPS:         1,
	}
	embedder, err := NewEmbedder(context.Background(), cfg)
	if err != nil {
		t.Fatalf("embedder error: %v", err)
	}
	defer embedder.Close()

	vec, err := embedder.EmbedQuery(context.Background(), "SmartSPIM acquisition of a mouse brain")
	if err != nil {
		t.Fatalf("embedding error: %v", err)
	}
	if len(vec) == 0 {
		t.Fatalf("empty embedding")
	}
}

func TestBedrockEmbedder_Live(t *testing.T) {
	if os.Getenv("BEDROCK_LIVE_TEST") == "" {
		t.Skip("BEDROCK_LIVE_TEST not set")
	}
	cfg := &config.Config{
		EmbeddingsProvider: "bedrock",
		BedrockModelID:     "amazon.titan-embed-text-v2:0",
		AWSRegion:          "us-west-2",
		VectorDimensions:   1024,
		EmbeddingsRPS:      1,
	}
	embedder, err := NewEmbedder(context.Background(), cfg)
	if err != nil {
		t.Fatalf("embedder error: %v", err)
	}
	defer embedder.Close()

	vecs, err := embedder.EmbedDocuments(context.Background(), []string{`{"subject":{"subject_id":"S1"}}`})
	if err != nil {
		t.Fatalf("embedding error: %v", err)
	}
	if len(vecs) != 1 || len(vecs[0]) != 1024 {
		t.Fatalf("unexpected shape: %d vectors", len(vecs))
	}
}
