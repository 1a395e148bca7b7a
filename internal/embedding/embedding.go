package embedding

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

// Embedder maps text to fixed length vectors. Model and Dimension identify
// the vector space so stored vectors are only compared within it.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimension() int
}

// New creates the embedder selected by cfg.Provider.
func New(cfg *config.LLMConfig) (Embedder, error) {
	log.Debug().Interface("config", map[string]any{
		"provider":        cfg.Provider,
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
		"dimension":       cfg.Dimension,
	}).Msg("Loaded embedding config")

	switch cfg.Provider {
	case config.ProviderOllama:
		return NewOllamaEmbedder(cfg)
	case config.ProviderOpenAICompatible:
		return NewOpenAICompatibleEmbedder(cfg)
	case config.ProviderOpenAI:
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider %q", models.ErrInvalidParameters, cfg.Provider)
	}
}

// checkDimensions verifies every vector has the configured dimension.
func checkDimensions(op string, vectors [][]float32, want int) error {
	for i, v := range vectors {
		if len(v) != want {
			return models.Wrap(op, models.ErrDimensionMismatch,
				fmt.Errorf("vector %d has %d dimensions, want %d", i, len(v), want))
		}
	}
	return nil
}
