package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

func TestCommands(t *testing.T) {
	cmd := newCommand()
	var names []string
	for _, c := range cmd.Commands {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"serve", "ingest", "query", "summarize"}, names)
}

func TestSetupLogger(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())

	require.NoError(t, setupLogger(config.LogConfig{Level: "DEBUG", Format: "console"}))
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	err := setupLogger(config.LogConfig{Level: "chatty"})
	assert.ErrorIs(t, err, models.ErrInvalidParameters)
}

func TestIngestDryRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("word ", 500)), 0o644))

	err := newCommand().Run(context.Background(), []string{"pdf-rag", "--env", filepath.Join(dir, "missing.env"), "ingest", "--dry-run", path})
	assert.NoError(t, err)
}

func TestIngestRequiresFiles(t *testing.T) {
	err := newCommand().Run(context.Background(), []string{"pdf-rag", "ingest"})
	assert.ErrorIs(t, err, models.ErrInvalidParameters)
}

func TestNewAppWithSQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Database.URL = "sqlite://:memory:"
	cfg.ChatLLM.Key = "test-key"
	require.NoError(t, cfg.Validate())

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	resp, err := a.rag.Query(context.Background(), " ")
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, models.ErrInvalidParameters)
}
