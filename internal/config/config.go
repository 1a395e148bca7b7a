package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"pdf-rag/internal/models"
)

const (
	ProviderOllama           = "ollama"
	ProviderOpenAI           = "openai"
	ProviderOpenAICompatible = "openai-compatible"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	EmbedLLM LLMConfig      `yaml:"embed_llm"`
	ChatLLM  LLMConfig      `yaml:"chat_llm"`
	RAG      RAGConfig      `yaml:"rag"`
	Server   ServerConfig   `yaml:"server"`
	Retry    RetryConfig    `yaml:"retry"`
	Log      LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	Collection    string        `yaml:"collection"`
	Debug         bool          `yaml:"debug"`
	Timeout       time.Duration `yaml:"timeout"`
	EncryptionKey string        `yaml:"-"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	Key         string        `yaml:"-"`
	Model       string        `yaml:"model"`
	Dimension   int           `yaml:"dimension,omitempty"`
	BatchSize   int           `yaml:"batch_size,omitempty"`
	Temperature float64       `yaml:"temperature,omitempty"`
	Timeout     time.Duration `yaml:"timeout"`
}

type RAGConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	TopK         int `yaml:"top_k"`
}

type ServerConfig struct {
	Addr           string `yaml:"addr"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Name:       "pdf_rag",
			Collection: "pdf_chunks",
			Timeout:    10 * time.Second,
		},
		EmbedLLM: LLMConfig{
			Provider:  ProviderOllama,
			BaseURL:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			Dimension: models.DefaultDimension,
			BatchSize: 32,
			Timeout:   30 * time.Second,
		},
		ChatLLM: LLMConfig{
			Provider:    ProviderOpenAICompatible,
			BaseURL:     "https://openrouter.ai/api/v1",
			Model:       "google/gemini-2.5-flash",
			Temperature: 0.3,
			Timeout:     60 * time.Second,
		},
		RAG: RAGConfig{
			ChunkSize:    models.DefaultChunkSize,
			ChunkOverlap: models.DefaultChunkOverlap,
			TopK:         models.DefaultTopK,
		},
		Server: ServerConfig{
			Addr:           ":8000",
			MaxUploadBytes: 32 << 20,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// RAG_CONFIG_FILE, and environment variables (optionally read from envFile).
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	if path := os.Getenv("RAG_CONFIG_FILE"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	e := envReader{}

	e.str(&c.Database.URL, "DATABASE_URL", "MONGO_URI", "MONGO_DB_URI")
	e.str(&c.Database.Name, "DB_NAME")
	e.str(&c.Database.Collection, "COLLECTION_NAME")
	e.boolean(&c.Database.Debug, "DB_DEBUG")
	e.duration(&c.Database.Timeout, "STORE_TIMEOUT")
	e.str(&c.Database.EncryptionKey, "CHROMEM_ENCRYPTION_KEY")

	e.str(&c.EmbedLLM.Provider, "EMBEDDING_PROVIDER")
	e.str(&c.EmbedLLM.BaseURL, "EMBEDDING_BASE_URL")
	e.str(&c.EmbedLLM.Key, "EMBEDDING_API_KEY", "OPENAI_API_KEY")
	e.str(&c.EmbedLLM.Model, "EMBEDDING_MODEL")
	e.integer(&c.EmbedLLM.Dimension, "EMBEDDING_DIMENSION")
	e.integer(&c.EmbedLLM.BatchSize, "EMBEDDING_BATCH_SIZE")
	e.duration(&c.EmbedLLM.Timeout, "EMBED_TIMEOUT")

	e.str(&c.ChatLLM.Provider, "LLM_PROVIDER")
	e.str(&c.ChatLLM.BaseURL, "LLM_BASE_URL")
	e.str(&c.ChatLLM.Key, "LLM_API_KEY", "GEMINI_API_KEY", "OPENROUTER_API_KEY", "OPENAI_API_KEY")
	e.str(&c.ChatLLM.Model, "LLM_MODEL")
	e.float(&c.ChatLLM.Temperature, "LLM_TEMPERATURE")
	e.duration(&c.ChatLLM.Timeout, "LLM_TIMEOUT")

	e.integer(&c.RAG.ChunkSize, "CHUNK_SIZE")
	e.integer(&c.RAG.ChunkOverlap, "CHUNK_OVERLAP")
	e.integer(&c.RAG.TopK, "TOP_K")

	e.str(&c.Server.Addr, "HTTP_ADDR")
	e.integer64(&c.Server.MaxUploadBytes, "MAX_UPLOAD_BYTES")

	e.integer(&c.Retry.MaxAttempts, "RETRY_MAX_ATTEMPTS")

	e.str(&c.Log.Level, "LOG_LEVEL")
	e.str(&c.Log.Format, "LOG_FORMAT")

	return errors.Join(e.errs...)
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if err := validateProvider("embedding", c.EmbedLLM); err != nil {
		errs = append(errs, err)
	}
	if err := validateProvider("llm", c.ChatLLM); err != nil {
		errs = append(errs, err)
	}
	if c.EmbedLLM.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_DIMENSION must be positive, got %d", c.EmbedLLM.Dimension))
	}
	if c.RAG.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.RAG.ChunkSize))
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.RAG.ChunkOverlap))
	}
	if c.RAG.TopK <= 0 {
		errs = append(errs, fmt.Errorf("TOP_K must be positive, got %d", c.RAG.TopK))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", models.ErrInvalidParameters, errors.Join(errs...))
	}
	return nil
}

func validateProvider(name string, c LLMConfig) error {
	switch c.Provider {
	case ProviderOllama:
		if c.BaseURL == "" {
			return fmt.Errorf("%s: base url is required for ollama", name)
		}
	case ProviderOpenAI, ProviderOpenAICompatible:
		if c.Key == "" {
			return fmt.Errorf("%s: api key is required for provider %s", name, c.Provider)
		}
	default:
		return fmt.Errorf("%s: unsupported provider %q", name, c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("%s: model is required", name)
	}
	return nil
}

// envReader overrides fields from the first set variable among keys and
// collects parse errors instead of silently falling back.
type envReader struct {
	errs []error
}

func (e *envReader) lookup(keys ...string) (string, string, bool) {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return key, v, true
		}
	}
	return "", "", false
}

func (e *envReader) str(dst *string, keys ...string) {
	if _, v, ok := e.lookup(keys...); ok {
		*dst = v
	}
}

func (e *envReader) integer(dst *int, keys ...string) {
	if key, v, ok := e.lookup(keys...); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) integer64(dst *int64, keys ...string) {
	if key, v, ok := e.lookup(keys...); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(dst *float64, keys ...string) {
	if key, v, ok := e.lookup(keys...); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(dst *bool, keys ...string) {
	if key, v, ok := e.lookup(keys...); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(dst *time.Duration, keys ...string) {
	if key, v, ok := e.lookup(keys...); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}
