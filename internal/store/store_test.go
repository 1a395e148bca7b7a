package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

const testDimension = 3

func testRecord(seq int, text string, embedding ...float32) models.Record {
	return models.Record{
		Chunk:     models.Chunk{SourceID: "labs.pdf", Page: seq/2 + 1, Seq: seq, Text: text},
		Embedding: embedding,
		Model:     "test-model",
	}
}

// runContract checks the behavior every backend must share.
func runContract(t *testing.T, open func(t *testing.T) ChunkStore) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		s := open(t)
		recs, err := Collect(ctx, s)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("insertion order and fields", func(t *testing.T) {
		s := open(t)
		n, err := s.InsertBatch(ctx, "ingest-1", []models.Record{
			testRecord(0, "hemoglobin 13.5", 1, 0, 0),
			testRecord(1, "glucose 92", 0, 1, 0),
			testRecord(2, "cholesterol 180", 0, 0, 1),
		})
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		recs, err := Collect(ctx, s)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		for i, want := range []string{"hemoglobin 13.5", "glucose 92", "cholesterol 180"} {
			assert.Equal(t, want, recs[i].Text)
			assert.Equal(t, i, recs[i].Seq)
			assert.Equal(t, "labs.pdf", recs[i].SourceID)
			assert.Equal(t, "test-model", recs[i].Model)
			assert.Equal(t, testDimension, recs[i].Dimension)
			assert.Equal(t, "ingest-1", recs[i].IngestID)
			assert.NotEmpty(t, recs[i].ID)
			assert.False(t, recs[i].CreatedAt.IsZero())
		}
		assert.Equal(t, []float32{0, 1, 0}, recs[1].Embedding)
		assert.Equal(t, 2, recs[2].Page)
	})

	t.Run("batch is idempotent on ingest id", func(t *testing.T) {
		s := open(t)
		batch := []models.Record{testRecord(0, "a", 1, 0, 0), testRecord(1, "b", 0, 1, 0)}
		_, err := s.InsertBatch(ctx, "ingest-1", batch)
		require.NoError(t, err)

		n, err := s.InsertBatch(ctx, "ingest-1", batch)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		recs, err := Collect(ctx, s)
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("duplicates are kept", func(t *testing.T) {
		s := open(t)
		rec := testRecord(0, "same text", 1, 0, 0)
		require.NoError(t, Insert(ctx, s, rec))
		require.NoError(t, Insert(ctx, s, rec))

		recs, err := Collect(ctx, s)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, recs[0].Text, recs[1].Text)
		assert.NotEqual(t, recs[0].ID, recs[1].ID)
	})

	t.Run("dimension mismatch stores nothing", func(t *testing.T) {
		s := open(t)
		_, err := s.InsertBatch(ctx, "ingest-1", []models.Record{
			testRecord(0, "ok", 1, 0, 0),
			testRecord(1, "too short", 1, 0),
		})
		assert.ErrorIs(t, err, models.ErrDimensionMismatch)
		assert.ErrorIs(t, err, models.ErrInvalidParameters)

		recs, err := Collect(ctx, s)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("zero embedding stores nothing", func(t *testing.T) {
		s := open(t)
		_, err := s.InsertBatch(ctx, "ingest-1", []models.Record{
			testRecord(0, "ok", 3, 4, 0),
			testRecord(1, "blank", 0, 0, 0),
		})
		assert.ErrorIs(t, err, models.ErrInvalidParameters)

		recs, err := Collect(ctx, s)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("scan stops early", func(t *testing.T) {
		s := open(t)
		_, err := s.InsertBatch(ctx, "ingest-1", []models.Record{
			testRecord(0, "a", 1, 0, 0), testRecord(1, "b", 0, 1, 0), testRecord(2, "c", 0, 0, 1),
		})
		require.NoError(t, err)

		seen := 0
		for _, err := range s.Scan(ctx) {
			require.NoError(t, err)
			seen++
			if seen == 2 {
				break
			}
		}
		assert.Equal(t, 2, seen)
	})
}

func openURL(url string) func(t *testing.T) ChunkStore {
	return func(t *testing.T) ChunkStore {
		t.Helper()
		cfg := &config.DatabaseConfig{URL: url, Name: "pdf_rag_test", Collection: "pdf_chunks"}
		s, err := Open(context.Background(), cfg, testDimension)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
}

func TestSQLiteStore(t *testing.T) {
	runContract(t, openURL("sqlite://:memory:"))
}

func TestSQLiteFileStore(t *testing.T) {
	runContract(t, func(t *testing.T) ChunkStore {
		return openURL("sqlite://" + filepath.Join(t.TempDir(), "chunks.db"))(t)
	})
}

func TestChromemStore(t *testing.T) {
	runContract(t, openURL("chromem://memory"))
}

func TestChromemPersistentStore(t *testing.T) {
	runContract(t, func(t *testing.T) ChunkStore {
		return openURL("chromem://" + t.TempDir())(t)
	})
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	for _, url := range []string{"redis://localhost:6379", "no-scheme"} {
		_, err := Open(context.Background(), &config.DatabaseConfig{URL: url}, testDimension)
		assert.ErrorIs(t, err, models.ErrInvalidParameters, url)
	}
}

func TestChromemOptions(t *testing.T) {
	cfg := &config.DatabaseConfig{
		URL:           "chromem://memory?export=data/chunks.gob.gz&compress=true",
		Collection:    "pdf_chunks",
		EncryptionKey: "k",
	}
	opts, err := chromemOptions(cfg, 768)
	require.NoError(t, err)
	assert.True(t, opts.InMemory)
	assert.True(t, opts.Compress)
	assert.Equal(t, "data/chunks.gob.gz", opts.ExportPath)
	assert.Equal(t, "pdf_chunks", opts.Collection)
	assert.Equal(t, 768, opts.Dimension)
	assert.Equal(t, "k", opts.EncryptionKey)

	cfg.URL = "chromem://./data/chromem"
	opts, err = chromemOptions(cfg, 768)
	require.NoError(t, err)
	assert.False(t, opts.InMemory)
	assert.Equal(t, "./data/chromem", opts.Path)
}
