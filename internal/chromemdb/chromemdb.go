package chromemdb

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/models"
)

// metadata keys, chromem only stores string metadata
const (
	metaIngestID  = "ingest_id"
	metaSource    = "file_name"
	metaPage      = "page"
	metaSeq       = "seq"
	metaModel     = "model"
	metaOrder     = "order"
	metaCreatedAt = "created_at"
)

// Options configures the chromem backed store.
type Options struct {
	// Path is the directory of a persistent database. Ignored when InMemory is set.
	Path       string
	Collection string
	Dimension  int
	InMemory   bool
	// ExportPath, for an in-memory database, is imported on open and
	// exported on close.
	ExportPath    string
	Compress      bool
	EncryptionKey string
}

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	db         *chromem.DB
	collection *chromem.Collection
	opts       Options

	mu       sync.Mutex
	ingested map[string]int
	order    int64
}

// NewVectorDBManager opens the database and the chunk collection and
// rebuilds the ingest bookkeeping from the stored metadata.
func NewVectorDBManager(ctx context.Context, opts Options) (*VectorDBManager, error) {
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", models.ErrInvalidParameters)
	}
	var db *chromem.DB
	var err error
	if opts.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(opts.Path, opts.Compress)
		if err != nil {
			return nil, models.Wrap("chromem.open", models.ErrStoreUnavailable,
				fmt.Errorf("failed to create database: %w", err))
		}
	}

	m := &VectorDBManager{
		db:       db,
		opts:     opts,
		ingested: make(map[string]int),
	}

	if opts.InMemory && opts.ExportPath != "" {
		if err := m.Import(ctx); err != nil {
			return nil, err
		}
	}

	m.collection, err = db.GetOrCreateCollection(opts.Collection, nil, nil)
	if err != nil {
		return nil, models.Wrap("chromem.collection", models.ErrStoreUnavailable,
			fmt.Errorf("failed to create/get collection: %w", err))
	}

	docs, err := m.all(ctx)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		m.ingested[doc.Metadata[metaIngestID]]++
		if order, _ := strconv.ParseInt(doc.Metadata[metaOrder], 10, 64); order >= m.order {
			m.order = order + 1
		}
	}
	log.Debug().Str("collection", opts.Collection).Int("records", len(docs)).Msg("Opened chromem collection")
	return m, nil
}

// InsertBatch adds all records of one ingestion. AddDocuments is not atomic,
// so on failure the documents of the batch are deleted again.
func (m *VectorDBManager) InsertBatch(ctx context.Context, ingestID string, recs []models.Record) (int, error) {
	for _, rec := range recs {
		if err := rec.Validate(m.opts.Dimension); err != nil {
			return 0, err
		}
	}
	if len(recs) == 0 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.ingested[ingestID]; ok {
		log.Info().Str("ingest_id", ingestID).Int("records", n).Msg("Batch already stored")
		return n, nil
	}

	now := time.Now().UTC()
	docs := make([]chromem.Document, len(recs))
	ids := make([]string, len(recs))
	for i, rec := range recs {
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		ids[i] = fmt.Sprintf("%s-%d", ingestID, i)
		docs[i] = chromem.Document{
			ID:      ids[i],
			Content: rec.Text,
			Metadata: map[string]string{
				metaIngestID:  ingestID,
				metaSource:    rec.SourceID,
				metaPage:      strconv.Itoa(rec.Page),
				metaSeq:       strconv.Itoa(rec.Seq),
				metaModel:     rec.Model,
				metaOrder:     strconv.FormatInt(m.order+int64(i), 10),
				metaCreatedAt: createdAt.Format(time.RFC3339Nano),
			},
			Embedding: rec.Embedding,
		}
	}

	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		if derr := m.collection.Delete(context.WithoutCancel(ctx), nil, nil, ids...); derr != nil {
			log.Error().Err(derr).Str("ingest_id", ingestID).Msg("Failed to remove partial batch")
		}
		return 0, models.Wrap("chromem.insert", models.ErrStoreUnavailable,
			fmt.Errorf("failed to add documents: %w", err))
	}

	m.order += int64(len(docs))
	m.ingested[ingestID] = len(docs)
	return len(docs), nil
}

// Scan yields every document of the collection in insertion order.
func (m *VectorDBManager) Scan(ctx context.Context) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		docs, err := m.all(ctx)
		if err != nil {
			yield(models.Record{}, err)
			return
		}
		for _, doc := range docs {
			if err := ctx.Err(); err != nil {
				yield(models.Record{}, models.Wrap("chromem.scan", models.ErrStoreUnavailable, err))
				return
			}
			if !yield(record(doc), nil) {
				return
			}
		}
	}
}

// all lists the collection. chromem has no iterator, so this queries with a
// unit probe vector for every document and restores insertion order.
func (m *VectorDBManager) all(ctx context.Context) ([]chromem.Result, error) {
	n := m.collection.Count()
	if n == 0 {
		return nil, nil
	}
	probe := make([]float32, m.opts.Dimension)
	probe[0] = 1

	results, err := m.collection.QueryEmbedding(ctx, probe, n, nil, nil)
	if err != nil {
		return nil, models.Wrap("chromem.scan", models.ErrStoreUnavailable,
			fmt.Errorf("failed to list documents: %w", err))
	}
	sort.SliceStable(results, func(i, j int) bool {
		oi, _ := strconv.ParseInt(results[i].Metadata[metaOrder], 10, 64)
		oj, _ := strconv.ParseInt(results[j].Metadata[metaOrder], 10, 64)
		return oi < oj
	})
	return results, nil
}

func record(doc chromem.Result) models.Record {
	page, _ := strconv.Atoi(doc.Metadata[metaPage])
	seq, _ := strconv.Atoi(doc.Metadata[metaSeq])
	createdAt, _ := time.Parse(time.RFC3339Nano, doc.Metadata[metaCreatedAt])
	return models.Record{
		Chunk: models.Chunk{
			SourceID: doc.Metadata[metaSource],
			Page:     page,
			Seq:      seq,
			Text:     doc.Content,
		},
		ID:        doc.ID,
		IngestID:  doc.Metadata[metaIngestID],
		Embedding: doc.Embedding,
		Model:     doc.Metadata[metaModel],
		Dimension: len(doc.Embedding),
		CreatedAt: createdAt,
	}
}

// Close exports an in-memory database when an export path is set.
// A persistent database is already on disk.
func (m *VectorDBManager) Close() error {
	if m.opts.InMemory && m.opts.ExportPath != "" {
		return m.Export(context.Background())
	}
	return nil
}

// Export writes the collection to ExportPath.
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.opts.ExportPath == "" {
		return fmt.Errorf("%w: export path is required", models.ErrInvalidParameters)
	}
	if dir := filepath.Dir(m.opts.ExportPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return models.Wrap("chromem.export", models.ErrStoreUnavailable, err)
		}
	}

	log.Debug().Str("collection", m.opts.Collection).Str("file", m.opts.ExportPath).
		Bool("compress", m.opts.Compress).Msg("Exporting collection")
	err := m.db.ExportToFile(m.opts.ExportPath, m.opts.Compress, m.opts.EncryptionKey, m.opts.Collection)
	if err != nil {
		return models.Wrap("chromem.export", models.ErrStoreUnavailable,
			fmt.Errorf("failed to export database: %w", err))
	}
	return nil
}

// Import loads the collection from ExportPath. A missing file is not an error.
func (m *VectorDBManager) Import(ctx context.Context) error {
	if _, err := os.Stat(m.opts.ExportPath); os.IsNotExist(err) {
		return nil
	}
	err := m.db.ImportFromFile(m.opts.ExportPath, m.opts.EncryptionKey, m.opts.Collection)
	if err != nil {
		return models.Wrap("chromem.import", models.ErrStoreUnavailable,
			fmt.Errorf("failed to import database: %w", err))
	}
	return nil
}
