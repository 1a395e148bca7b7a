// Package llmservice turns retrieved context into an answer with a chat model.
package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

var (
	thinkRe = regexp.MustCompile(models.ThinkTag)

	errEmptyCompletion = errors.New("model returned an empty completion")
)

// Synthesizer produces answers and summaries from document text.
type Synthesizer interface {
	Answer(ctx context.Context, contextText, question string) (string, error)
	Summarize(ctx context.Context, text string) (string, error)
}

// Client is a Synthesizer backed by a langchaingo chat model.
type Client struct {
	llm         llms.Model
	model       string
	temperature float64
}

// New creates the chat model selected by cfg.Provider.
func New(cfg *config.LLMConfig) (*Client, error) {
	log.Debug().Interface("config", map[string]any{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Msg("Loaded chat config")

	var llm llms.Model
	var err error
	switch cfg.Provider {
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err = ollama.New(opts...)
	case config.ProviderOpenAI, config.ProviderOpenAICompatible:
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unsupported llm provider %q", models.ErrInvalidParameters, cfg.Provider)
	}
	if err != nil {
		return nil, models.Wrap("llm.init", models.ErrSynthesisUnavailable, err)
	}
	return NewClient(llm, cfg.Model, cfg.Temperature), nil
}

func NewClient(llm llms.Model, model string, temperature float64) *Client {
	return &Client{llm: llm, model: model, temperature: temperature}
}

// Answer asks the model to answer question from contextText.
func (c *Client) Answer(ctx context.Context, contextText, question string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, models.SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(models.AnswerPromptTemplate, contextText, question)),
	}
	return c.GenerateContent(ctx, "llm.answer", messages)
}

// Summarize asks the model for a summary of text.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(models.SummaryPromptTemplate, text)),
	}
	return c.GenerateContent(ctx, "llm.summarize", messages)
}

// GenerateContent calls the model and returns the cleaned first choice.
func (c *Client) GenerateContent(ctx context.Context, op string, messages []llms.MessageContent) (string, error) {
	resp, err := c.llm.GenerateContent(ctx, messages, llms.WithTemperature(c.temperature))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", models.Wrap(op, models.ErrSynthesisUnavailable, ctxErr)
		}
		return "", models.Wrap(op, models.ErrSynthesisUnavailable, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", models.Wrap(op, models.ErrSynthesisUnavailable, errEmptyCompletion)
	}

	content := strings.TrimSpace(thinkRe.ReplaceAllString(resp.Choices[0].Content, ""))
	if content == "" {
		return "", models.Wrap(op, models.ErrSynthesisUnavailable, errEmptyCompletion)
	}
	log.Debug().Str("model", c.model).Str("op", op).Int("length", len(content)).Msg("Generated content")
	return content, nil
}
