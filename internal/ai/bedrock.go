package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/sreyakumar/metadata-embeddings/internal/config"
)

// bedrockInvoker is the part of the Bedrock runtime client we use.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockEmbedder calls a Titan text embedding model once per text.
type BedrockEmbedder struct {
	client     bedrockInvoker
	modelID    string
	dimensions int
}

type titanRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  bool   `json:"normalize"`
}

type titanResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// NewBedrockEmbedder loads AWS config with
// explicit keys when given, the default credential chain otherwise.
func NewBedrockEmbedder(ctx context.Context, cfg *config.Config) (*BedrockEmbedder, error) {
	var (
		awsCfg aws.Config
		err    error
	)

	if cfg.AWSAccessKey != "" && cfg.AWSSecretKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.AWSRegion),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AWSAccessKey,
				cfg.AWSSecretKey,
				"",
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.AWSRegion),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newBedrockEmbedder(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID, cfg.VectorDimensions), nil
}

func newBedrockEmbedder(client bedrockInvoker, modelID string, dimensions int) *BedrockEmbedder {
	return &BedrockEmbedder{client: client, modelID: modelID, dimensions: dimensions}
}

func (b *BedrockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := b.embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

func (b *BedrockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return b.embed(ctx, text)
}

func (b *BedrockEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanRequest{InputText: text, Dimensions: b.dimensions, Normalize: true})
	if err != nil {
		return nil, err
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock invoke %s: %w", b.modelID, err)
	}

	var resp titanResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode bedrock response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Embedding, nil
}

func (b *BedrockEmbedder) Close() error { return nil }
