package db

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"pdf-rag/internal/models"
)

// Chunk is the row stored for every chunk.
type Chunk struct {
	bun.BaseModel `bun:"table:pdf_chunks,alias:c"`
	ID            int64           `bun:"id,pk,autoincrement"`
	IngestID      string          `bun:"ingest_id,notnull"`
	SourceID      string          `bun:"source_id,notnull"`
	Page          int             `bun:"page,notnull"`
	Seq           int             `bun:"seq,notnull"`
	Content       string          `bun:"content,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
	Model         string          `bun:"model,notnull"`
	Dimension     int             `bun:"dimension,notnull"`
	CreatedAt     time.Time       `bun:"created_at,notnull"`
}

func (c *Chunk) record() models.Record {
	return models.Record{
		Chunk: models.Chunk{
			SourceID: c.SourceID,
			Page:     c.Page,
			Seq:      c.Seq,
			Text:     c.Content,
		},
		ID:        strconv.FormatInt(c.ID, 10),
		IngestID:  c.IngestID,
		Embedding: c.Embedding.Slice(),
		Model:     c.Model,
		Dimension: c.Dimension,
		CreatedAt: c.CreatedAt,
	}
}

// ChunkStore keeps chunk records in a SQL table through bun.
type ChunkStore struct {
	db        *bun.DB
	dimension int
}

// NewChunkStore creates the schema if needed.
func NewChunkStore(ctx context.Context, db *bun.DB, dimension int) (*ChunkStore, error) {
	if err := InitDB(ctx, db); err != nil {
		db.Close()
		return nil, models.Wrap("db.init", models.ErrStoreUnavailable, err)
	}
	return &ChunkStore{db: db, dimension: dimension}, nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if db.Dialect().Name() == dialect.PG {
		if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return fmt.Errorf("failed to enable pgvector: %w", err)
		}
	}
	if _, err := db.NewCreateTable().Model((*Chunk)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	_, err := db.NewCreateIndex().
		Model((*Chunk)(nil)).
		Index("pdf_chunks_ingest_id_idx").
		Column("ingest_id").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// InsertBatch writes all records in one transaction.
func (s *ChunkStore) InsertBatch(ctx context.Context, ingestID string, recs []models.Record) (int, error) {
	for _, rec := range recs {
		if err := rec.Validate(s.dimension); err != nil {
			return 0, err
		}
	}
	if len(recs) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([]Chunk, len(recs))
	for i, rec := range recs {
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		rows[i] = Chunk{
			IngestID:  ingestID,
			SourceID:  rec.SourceID,
			Page:      rec.Page,
			Seq:       rec.Seq,
			Content:   rec.Text,
			Embedding: pgvector.NewVector(rec.Embedding),
			Model:     rec.Model,
			Dimension: len(rec.Embedding),
			CreatedAt: createdAt,
		}
	}

	stored := 0
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		existing, err := tx.NewSelect().Model((*Chunk)(nil)).Where("ingest_id = ?", ingestID).Count(ctx)
		if err != nil {
			return err
		}
		if existing > 0 {
			log.Info().Str("ingest_id", ingestID).Int("records", existing).Msg("Batch already stored")
			stored = existing
			return nil
		}
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return err
		}
		stored = len(rows)
		return nil
	})
	if err != nil {
		return 0, models.Wrap("db.insert", models.ErrStoreUnavailable, err)
	}
	return stored, nil
}

// Scan streams rows ordered by id, which follows insertion order.
func (s *ChunkStore) Scan(ctx context.Context) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		rows, err := s.db.NewSelect().Model((*Chunk)(nil)).OrderExpr("c.id ASC").Rows(ctx)
		if err != nil {
			yield(models.Record{}, models.Wrap("db.scan", models.ErrStoreUnavailable, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var row Chunk
			if err := s.db.ScanRow(ctx, rows, &row); err != nil {
				yield(models.Record{}, models.Wrap("db.scan", models.ErrStoreUnavailable, err))
				return
			}
			if !yield(row.record(), nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.Record{}, models.Wrap("db.scan", models.ErrStoreUnavailable, err))
		}
	}
}

func (s *ChunkStore) Close() error {
	return s.db.Close()
}
