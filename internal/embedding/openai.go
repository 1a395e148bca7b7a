package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

// maxBatchSize is the number of inputs the embeddings endpoint accepts per call.
const maxBatchSize = 100

var ErrAPIKeyNotSet = errors.New("openai api key is not set")

// OpenAIEmbedder calls the OpenAI embeddings API directly.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
	batchSize int
}

func NewOpenAIEmbedder(cfg *config.LLMConfig) (*OpenAIEmbedder, error) {
	if cfg.Key == "" {
		return nil, ErrAPIKeyNotSet
	}

	// retries are driven by the pipelines so they can stay idempotent
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimPrefix(cfg.Key, "Bearer ")),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}

	return &OpenAIEmbedder{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: batchSize,
	}, nil
}

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: cannot embed empty text", models.ErrInvalidParameters)
	}
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments embeds texts in batches, preserving input order.
func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	if err := checkDimensions("embedding.openai", vectors, e.dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, models.Wrap("embedding.openai", models.ErrEmbeddingUnavailable, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, models.Wrap("embedding.openai", models.ErrEmbeddingUnavailable,
			fmt.Errorf("got %d embeddings for %d texts", len(resp.Data), len(texts)))
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || int(data.Index) >= len(texts) {
			return nil, models.Wrap("embedding.openai", models.ErrEmbeddingUnavailable,
				fmt.Errorf("embedding index %d out of range", data.Index))
		}
		vector := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vector[i] = float32(v)
		}
		vectors[data.Index] = vector
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) Model() string  { return e.model }
func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

var _ Embedder = (*OpenAIEmbedder)(nil)
