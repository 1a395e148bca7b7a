package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

// LangchainEmbedder adapts a langchaingo embedder to Embedder.
type LangchainEmbedder struct {
	embedder  embeddings.Embedder
	model     string
	dimension int
}

func NewLangchainEmbedder(e embeddings.Embedder, model string, dimension int) *LangchainEmbedder {
	return &LangchainEmbedder{embedder: e, model: model, dimension: dimension}
}

// NewOllamaEmbedder talks to a local ollama server.
func NewOllamaEmbedder(cfg *config.LLMConfig) (*LangchainEmbedder, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama: %w", err)
	}
	return newLangchain(llm, cfg)
}

// NewOpenAICompatibleEmbedder talks to any OpenAI compatible endpoint
// such as OpenRouter.
func NewOpenAICompatibleEmbedder(cfg *config.LLMConfig) (*LangchainEmbedder, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai client: %w", err)
	}
	return newLangchain(llm, cfg)
}

func newLangchain(client embeddings.EmbedderClient, cfg *config.LLMConfig) (*LangchainEmbedder, error) {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(batchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return NewLangchainEmbedder(embedder, cfg.Model, cfg.Dimension), nil
}

func (e *LangchainEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: cannot embed empty text", models.ErrInvalidParameters)
	}
	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, models.Wrap("embedding.query", models.ErrEmbeddingUnavailable, err)
	}
	if err := checkDimensions("embedding.query", [][]float32{vector}, e.dimension); err != nil {
		return nil, err
	}
	return vector, nil
}

func (e *LangchainEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, models.Wrap("embedding.documents", models.ErrEmbeddingUnavailable, err)
	}
	if len(vectors) != len(texts) {
		return nil, models.Wrap("embedding.documents", models.ErrEmbeddingUnavailable,
			fmt.Errorf("got %d vectors for %d texts", len(vectors), len(texts)))
	}
	if err := checkDimensions("embedding.documents", vectors, e.dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (e *LangchainEmbedder) Model() string  { return e.model }
func (e *LangchainEmbedder) Dimension() int { return e.dimension }

var _ Embedder = (*LangchainEmbedder)(nil)
