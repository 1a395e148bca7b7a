package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/models"
)

// clearEnv unsets every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"RAG_CONFIG_FILE", "DATABASE_URL", "MONGO_URI", "MONGO_DB_URI", "DB_NAME", "COLLECTION_NAME",
		"DB_DEBUG", "STORE_TIMEOUT", "CHROMEM_ENCRYPTION_KEY", "EMBEDDING_PROVIDER", "EMBEDDING_BASE_URL",
		"EMBEDDING_API_KEY", "OPENAI_API_KEY", "EMBEDDING_MODEL", "EMBEDDING_DIMENSION", "EMBEDDING_BATCH_SIZE",
		"EMBED_TIMEOUT", "LLM_PROVIDER", "LLM_BASE_URL", "LLM_API_KEY", "GEMINI_API_KEY", "OPENROUTER_API_KEY",
		"LLM_MODEL", "LLM_TEMPERATURE", "LLM_TIMEOUT", "CHUNK_SIZE", "CHUNK_OVERLAP", "TOP_K", "HTTP_ADDR",
		"MAX_UPLOAD_BYTES", "RETRY_MAX_ATTEMPTS", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, models.DefaultChunkSize, cfg.RAG.ChunkSize)
	assert.Equal(t, models.DefaultChunkOverlap, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 768, cfg.EmbedLLM.Dimension)
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("GEMINI_API_KEY", "secret")
	t.Setenv("CHUNK_SIZE", "500")
	t.Setenv("CHUNK_OVERLAP", "50")
	t.Setenv("LLM_TIMEOUT", "90s")
	t.Setenv("DB_DEBUG", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Database.URL)
	assert.Equal(t, "secret", cfg.ChatLLM.Key)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 50, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 90*time.Second, cfg.ChatLLM.Timeout)
	assert.True(t, cfg.Database.Debug)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvFileAndYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
rag:
  chunk_size: 800
  chunk_overlap: 100
  top_k: 4
chat_llm:
  provider: ollama
  base_url: http://ollama:11434
  model: llama3
  timeout: 2m
`), 0o644))

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte(
		"RAG_CONFIG_FILE="+yamlPath+"\nDATABASE_URL=sqlite://rag.db\nTOP_K=6\n"), 0o644))

	cfg, err := Load(envPath)
	require.NoError(t, err)
	assert.Equal(t, 800, cfg.RAG.ChunkSize)
	assert.Equal(t, 100, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 6, cfg.RAG.TopK, "environment wins over the yaml file")
	assert.Equal(t, ProviderOllama, cfg.ChatLLM.Provider)
	assert.Equal(t, 2*time.Minute, cfg.ChatLLM.Timeout)
	assert.Equal(t, "sqlite://rag.db", cfg.Database.URL)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHUNK_SIZE", "lots")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHUNK_SIZE")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing database", func(c *Config) { c.Database.URL = "" }, "DATABASE_URL is required"},
		{"missing llm key", func(c *Config) { c.ChatLLM.Key = "" }, "llm: api key is required"},
		{"overlap too large", func(c *Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize }, "CHUNK_OVERLAP"},
		{"zero top k", func(c *Config) { c.RAG.TopK = 0 }, "TOP_K"},
		{"unknown provider", func(c *Config) { c.EmbedLLM.Provider = "gemini" }, "unsupported provider"},
		{"zero dimension", func(c *Config) { c.EmbedLLM.Dimension = 0 }, "EMBEDDING_DIMENSION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Database.URL = "chromem://memory"
			cfg.ChatLLM.Key = "key"
			tt.mutate(cfg)

			err := cfg.Validate()
			require.ErrorIs(t, err, models.ErrInvalidParameters)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
