// Package store persists chunk records and opens the configured backend.
package store

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/chromemdb"
	"pdf-rag/internal/config"
	"pdf-rag/internal/db"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/models"
	"pdf-rag/internal/mongodb"
)

// ChunkStore is the persistence contract shared by all backends.
//
// InsertBatch writes every record of one ingestion under ingestID and is
// idempotent on it: a batch whose ingest ID is already present is not
// written again. It returns the number of records committed for ingestID.
// Scan lazily yields every stored record, in insertion order where the
// backend can tell it.
type ChunkStore interface {
	InsertBatch(ctx context.Context, ingestID string, recs []models.Record) (int, error)
	Scan(ctx context.Context) iter.Seq2[models.Record, error]
	Close() error
}

var (
	_ ChunkStore = (*db.ChunkStore)(nil)
	_ ChunkStore = (*mongodb.ChunkStore)(nil)
	_ ChunkStore = (*chromemdb.VectorDBManager)(nil)
)

// Insert stores a single record under a fresh ingest ID. Inserting the same
// chunk twice yields two records.
func Insert(ctx context.Context, s ChunkStore, rec models.Record) error {
	id, err := helper.GenerateUUID()
	if err != nil {
		return err
	}
	_, err = s.InsertBatch(ctx, id, []models.Record{rec})
	return err
}

// Collect drains Scan into a slice.
func Collect(ctx context.Context, s ChunkStore) ([]models.Record, error) {
	var recs []models.Record
	for rec, err := range s.Scan(ctx) {
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Open connects to the backend named by the scheme of cfg.URL.
func Open(ctx context.Context, cfg *config.DatabaseConfig, dimension int) (ChunkStore, error) {
	scheme, _, ok := strings.Cut(cfg.URL, ":")
	if !ok {
		return nil, fmt.Errorf("%w: database url %q has no scheme", models.ErrInvalidParameters, cfg.URL)
	}

	log.Info().Str("backend", scheme).Int("dimension", dimension).Msg("Opening chunk store")

	switch strings.ToLower(scheme) {
	case "postgres", "postgresql", "sqlite":
		bunDB, err := db.Open(ctx, cfg.URL, cfg.Debug)
		if err != nil {
			return nil, err
		}
		return db.NewChunkStore(ctx, bunDB, dimension)
	case "mongodb", "mongodb+srv":
		return mongodb.Open(ctx, mongodb.Options{
			URI:        cfg.URL,
			Database:   cfg.Name,
			Collection: cfg.Collection,
			Dimension:  dimension,
		})
	case "chromem":
		opts, err := chromemOptions(cfg, dimension)
		if err != nil {
			return nil, err
		}
		return chromemdb.NewVectorDBManager(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: unsupported database scheme %q", models.ErrInvalidParameters, scheme)
	}
}

// chromemOptions parses chromem://memory[?export=file&compress=true] and
// chromem://<dir>[?compress=true].
func chromemOptions(cfg *config.DatabaseConfig, dimension int) (chromemdb.Options, error) {
	rest := strings.TrimPrefix(cfg.URL, "chromem:")
	rest = strings.TrimPrefix(rest, "//")
	location, rawQuery, _ := strings.Cut(rest, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return chromemdb.Options{}, fmt.Errorf("%w: invalid chromem url: %v", models.ErrInvalidParameters, err)
	}

	opts := chromemdb.Options{
		Collection:    cfg.Collection,
		Dimension:     dimension,
		Compress:      query.Get("compress") == "true",
		EncryptionKey: cfg.EncryptionKey,
	}
	if location == "" || location == "memory" {
		opts.InMemory = true
		opts.ExportPath = query.Get("export")
	} else {
		opts.Path = location
	}
	return opts, nil
}
