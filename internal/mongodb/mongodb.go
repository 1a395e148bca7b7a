// Package mongodb stores chunk records as one document per chunk.
package mongodb

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"pdf-rag/internal/models"
)

type Options struct {
	URI        string
	Database   string
	Collection string
	Dimension  int
}

// chunkDocument keeps the field names of existing pdf_chunks collections
// (file_name, text, embedding) so older records stay readable.
type chunkDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	IngestID  string             `bson:"ingest_id,omitempty"`
	FileName  string             `bson:"file_name"`
	Page      int                `bson:"page"`
	Seq       int                `bson:"seq"`
	Text      string             `bson:"text"`
	Embedding []float64          `bson:"embedding"`
	Model     string             `bson:"model,omitempty"`
	Dimension int                `bson:"dimension,omitempty"`
	CreatedAt time.Time          `bson:"created_at,omitempty"`
}

func (d *chunkDocument) record() models.Record {
	embedding := make([]float32, len(d.Embedding))
	for i, v := range d.Embedding {
		embedding[i] = float32(v)
	}
	dimension := d.Dimension
	if dimension == 0 {
		dimension = len(embedding)
	}
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = d.ID.Timestamp()
	}
	return models.Record{
		Chunk: models.Chunk{
			SourceID: d.FileName,
			Page:     d.Page,
			Seq:      d.Seq,
			Text:     d.Text,
		},
		ID:        d.ID.Hex(),
		IngestID:  d.IngestID,
		Embedding: embedding,
		Model:     d.Model,
		Dimension: dimension,
		CreatedAt: createdAt,
	}
}

// ChunkStore is a ChunkStore on a MongoDB collection.
type ChunkStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	dimension  int
}

func Open(ctx context.Context, opts Options) (*ChunkStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, models.Wrap("mongodb.connect", models.ErrStoreUnavailable, err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, models.Wrap("mongodb.ping", models.ErrStoreUnavailable, err)
	}

	collection := client.Database(opts.Database).Collection(opts.Collection)
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "ingest_id", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, models.Wrap("mongodb.index", models.ErrStoreUnavailable, err)
	}

	return &ChunkStore{client: client, collection: collection, dimension: opts.Dimension}, nil
}

// InsertBatch inserts records in order. A failed batch is deleted again so
// a document is either fully stored or absent; if that cleanup fails too the
// remaining count is reported.
func (s *ChunkStore) InsertBatch(ctx context.Context, ingestID string, recs []models.Record) (int, error) {
	for _, rec := range recs {
		if err := rec.Validate(s.dimension); err != nil {
			return 0, err
		}
	}
	if len(recs) == 0 {
		return 0, nil
	}

	filter := bson.M{"ingest_id": ingestID}
	existing, err := s.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, models.Wrap("mongodb.count", models.ErrStoreUnavailable, err)
	}
	if existing > 0 {
		log.Info().Str("ingest_id", ingestID).Int64("records", existing).Msg("Batch already stored")
		return int(existing), nil
	}

	now := time.Now().UTC()
	docs := make([]any, len(recs))
	for i, rec := range recs {
		embedding := make([]float64, len(rec.Embedding))
		for j, v := range rec.Embedding {
			embedding[j] = float64(v)
		}
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		docs[i] = chunkDocument{
			IngestID:  ingestID,
			FileName:  rec.SourceID,
			Page:      rec.Page,
			Seq:       rec.Seq,
			Text:      rec.Text,
			Embedding: embedding,
			Model:     rec.Model,
			Dimension: len(rec.Embedding),
			CreatedAt: createdAt,
		}
	}

	if _, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		insertErr := models.Wrap("mongodb.insert", models.ErrStoreUnavailable, err)
		// the request context may be what failed, clean up on a fresh one
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if _, derr := s.collection.DeleteMany(cleanupCtx, filter); derr != nil {
			log.Error().Err(derr).Str("ingest_id", ingestID).Msg("Failed to remove partial batch")
			left, cerr := s.collection.CountDocuments(cleanupCtx, filter)
			if cerr != nil {
				return 0, insertErr
			}
			return int(left), insertErr
		}
		return 0, insertErr
	}
	return len(docs), nil
}

// Scan iterates the collection in _id order, which follows insertion order.
func (s *ChunkStore) Scan(ctx context.Context) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		cursor, err := s.collection.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
		if err != nil {
			yield(models.Record{}, models.Wrap("mongodb.scan", models.ErrStoreUnavailable, err))
			return
		}
		defer cursor.Close(context.WithoutCancel(ctx))

		for cursor.Next(ctx) {
			var doc chunkDocument
			if err := cursor.Decode(&doc); err != nil {
				yield(models.Record{}, models.Wrap("mongodb.scan", models.ErrStoreUnavailable,
					fmt.Errorf("failed to decode chunk: %w", err)))
				return
			}
			if !yield(doc.record(), nil) {
				return
			}
		}
		if err := cursor.Err(); err != nil {
			yield(models.Record{}, models.Wrap("mongodb.scan", models.ErrStoreUnavailable, err))
		}
	}
}

func (s *ChunkStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
