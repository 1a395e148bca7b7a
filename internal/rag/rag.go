// Package rag wires parsing, chunking, embedding, storage, retrieval and
// answer synthesis into the ingestion and query pipelines.
package rag

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/chunker"
	"pdf-rag/internal/config"
	"pdf-rag/internal/embedding"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/llmservice"
	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/retriever"
	"pdf-rag/internal/retry"
	"pdf-rag/internal/store"
)

// Stage is a step of the ingestion pipeline.
type Stage string

const (
	StageReceived Stage = "received"
	StageChunked  Stage = "chunked"
	StageEmbedded Stage = "embedded"
	StageStored   Stage = "stored"
	StageComplete Stage = "complete"
)

// IngestError reports the last stage an ingestion reached and how many
// records were committed before it failed.
type IngestError struct {
	Source string
	Stage  Stage
	Stored int
	Err    error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest %s failed after stage %s (%d chunks stored): %v", e.Source, e.Stage, e.Stored, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

type IngestResult struct {
	Source   string
	IngestID string
	Pages    int
	Chunks   int
}

type Options struct {
	TopK         int
	BatchSize    int
	EmbedTimeout time.Duration
	StoreTimeout time.Duration
	LLMTimeout   time.Duration
	Retry        retry.Policy
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TopK:         cfg.RAG.TopK,
		BatchSize:    cfg.EmbedLLM.BatchSize,
		EmbedTimeout: cfg.EmbedLLM.Timeout,
		StoreTimeout: cfg.Database.Timeout,
		LLMTimeout:   cfg.ChatLLM.Timeout,
		Retry:        retry.FromConfig(cfg.Retry),
	}
}

type RAG struct {
	parser    parser.Parser
	splitter  *chunker.Splitter
	embedder  embedding.Embedder
	store     store.ChunkStore
	retriever *retriever.Retriever
	llm       llmservice.Synthesizer
	opts      Options
}

func NewRAG(p parser.Parser, splitter *chunker.Splitter, embedder embedding.Embedder,
	s store.ChunkStore, llm llmservice.Synthesizer, opts Options) *RAG {
	if opts.TopK <= 0 {
		opts.TopK = models.DefaultTopK
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	return &RAG{
		parser:    p,
		splitter:  splitter,
		embedder:  embedder,
		store:     s,
		retriever: retriever.New(s, embedder.Model(), embedder.Dimension()),
		llm:       llm,
		opts:      opts,
	}
}

// Ingest parses an uploaded file and stores its chunks.
func (r *RAG) Ingest(ctx context.Context, filename string, content []byte) (*IngestResult, error) {
	source := helper.SourceName(filename)
	if source == "" {
		return nil, &IngestError{Source: filename, Stage: StageReceived,
			Err: fmt.Errorf("%w: file name is required", models.ErrInvalidParameters)}
	}
	if len(content) == 0 {
		return nil, &IngestError{Source: source, Stage: StageReceived, Err: models.ErrEmptyDocument}
	}

	docs, err := r.parser.Parse(source, content)
	if err != nil {
		return nil, &IngestError{Source: source, Stage: StageReceived, Err: err}
	}
	return r.IngestDocuments(ctx, source, docs)
}

// IngestDocuments chunks and embeds docs and writes every record in one
// batch. Nothing is stored unless every chunk was embedded.
func (r *RAG) IngestDocuments(ctx context.Context, source string, docs []models.Document) (*IngestResult, error) {
	start := time.Now()

	chunks := r.splitter.SplitDocuments(docs)
	if len(chunks) == 0 {
		return nil, &IngestError{Source: source, Stage: StageReceived, Err: models.ErrEmptyDocument}
	}
	log.Info().Str("source", source).Int("pages", len(docs)).Int("chunks", len(chunks)).Msg("Chunked document")

	vectors, err := r.embedChunks(ctx, chunks)
	if err != nil {
		return nil, &IngestError{Source: source, Stage: StageChunked, Err: err}
	}

	ingestID, err := helper.GenerateUUID()
	if err != nil {
		return nil, &IngestError{Source: source, Stage: StageEmbedded, Err: err}
	}

	now := time.Now().UTC()
	recs := make([]models.Record, len(chunks))
	for i, c := range chunks {
		recs[i] = models.Record{
			Chunk:     c,
			IngestID:  ingestID,
			Embedding: vectors[i],
			Model:     r.embedder.Model(),
			Dimension: r.embedder.Dimension(),
			CreatedAt: now,
		}
	}

	stored := 0
	err = retry.Do(ctx, r.opts.Retry, "store.insert", func(ctx context.Context, _ int) error {
		callCtx, cancel := withTimeout(ctx, r.opts.StoreTimeout)
		defer cancel()
		n, err := r.store.InsertBatch(callCtx, ingestID, recs)
		stored = n
		return err
	})
	if err != nil {
		return nil, &IngestError{Source: source, Stage: StageEmbedded, Stored: stored, Err: err}
	}

	log.Info().Str("source", source).Str("ingest_id", ingestID).Int("chunks", stored).
		Dur("took", time.Since(start)).Msg("Stored document")
	return &IngestResult{Source: source, IngestID: ingestID, Pages: len(docs), Chunks: stored}, nil
}

// embedChunks embeds chunk texts in order, batch by batch.
func (r *RAG) embedChunks(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for batch := range slices.Chunk(chunks, r.opts.BatchSize) {
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		var out [][]float32
		err := retry.Do(ctx, r.opts.Retry, "embed.documents", func(ctx context.Context, _ int) error {
			callCtx, cancel := withTimeout(ctx, r.opts.EmbedTimeout)
			defer cancel()
			var err error
			out, err = r.embedder.EmbedDocuments(callCtx, texts)
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(out) != len(texts) {
			return nil, models.Wrap("embed.documents", models.ErrEmbeddingUnavailable,
				fmt.Errorf("got %d vectors for %d texts", len(out), len(texts)))
		}
		vectors = append(vectors, out...)
	}
	return vectors, nil
}

// Query answers question from the most similar stored chunks. When no
// chunk can be compared the fixed no-information answer is returned
// without calling the model.
func (r *RAG) Query(ctx context.Context, question string) (*models.QueryResponse, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", models.ErrInvalidParameters)
	}

	var queryVector []float32
	err := retry.Do(ctx, r.opts.Retry, "embed.query", func(ctx context.Context, _ int) error {
		callCtx, cancel := withTimeout(ctx, r.opts.EmbedTimeout)
		defer cancel()
		var err error
		queryVector, err = r.embedder.EmbedQuery(callCtx, question)
		return err
	})
	if err != nil {
		return nil, err
	}

	var results []models.Scored
	err = retry.Do(ctx, r.opts.Retry, "store.retrieve", func(ctx context.Context, _ int) error {
		callCtx, cancel := withTimeout(ctx, r.opts.StoreTimeout)
		defer cancel()
		var err error
		results, err = r.retriever.Retrieve(callCtx, queryVector, r.opts.TopK)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		log.Info().Str("query", question).Msg("No stored chunks to answer from")
		return &models.QueryResponse{Query: question, Answer: models.NoInformationAnswer}, nil
	}

	texts := make([]string, len(results))
	var sources []string
	for i, res := range results {
		texts[i] = res.Text
		if !slices.Contains(sources, res.SourceID) {
			sources = append(sources, res.SourceID)
		}
	}
	contextText := strings.Join(texts, models.ContextSeparator)

	var answer string
	err = retry.Do(ctx, r.opts.Retry, "llm.answer", func(ctx context.Context, _ int) error {
		callCtx, cancel := withTimeout(ctx, r.opts.LLMTimeout)
		defer cancel()
		var err error
		answer, err = r.llm.Answer(callCtx, contextText, question)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("query", question).Int("chunks_used", len(results)).
		Float64("top_similarity", results[0].Similarity).Msg("Answered query")
	return &models.QueryResponse{
		Query:      question,
		Answer:     answer,
		ChunksUsed: len(results),
		Sources:    sources,
	}, nil
}

// Summarize summarizes the most recent upload of a source.
func (r *RAG) Summarize(ctx context.Context, source string) (*models.SummaryResponse, error) {
	name := helper.SourceName(source)
	if name == "" {
		return nil, fmt.Errorf("%w: file name is required", models.ErrInvalidParameters)
	}

	var recs []models.Record
	err := retry.Do(ctx, r.opts.Retry, "store.scan", func(ctx context.Context, _ int) error {
		callCtx, cancel := withTimeout(ctx, r.opts.StoreTimeout)
		defer cancel()
		var err error
		recs, err = sourceRecords(callCtx, r.store, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: no chunks stored for %s", models.ErrNotFound, name)
	}

	text := r.documentText(recs)
	var summary string
	err = retry.Do(ctx, r.opts.Retry, "llm.summarize", func(ctx context.Context, _ int) error {
		callCtx, cancel := withTimeout(ctx, r.opts.LLMTimeout)
		defer cancel()
		var err error
		summary, err = r.llm.Summarize(callCtx, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &models.SummaryResponse{Source: name, Summary: summary, Chunks: len(recs)}, nil
}

// sourceRecords returns the records of the latest ingestion of source in
// chunk order.
func sourceRecords(ctx context.Context, s store.ChunkStore, source string) ([]models.Record, error) {
	var all []models.Record
	latest := ""
	for rec, err := range s.Scan(ctx) {
		if err != nil {
			return nil, err
		}
		if rec.SourceID != source {
			continue
		}
		all = append(all, rec)
		latest = rec.IngestID
	}

	recs := all
	if latest != "" {
		recs = slices.DeleteFunc(slices.Clone(all), func(rec models.Record) bool {
			return rec.IngestID != latest
		})
	}
	slices.SortStableFunc(recs, func(a, b models.Record) int { return a.Seq - b.Seq })
	return recs, nil
}

// documentText rebuilds page texts from overlapping chunks, using the
// overlap of the splitter that produced them.
func (r *RAG) documentText(recs []models.Record) string {
	chunks := make([]models.Chunk, len(recs))
	for i, rec := range recs {
		chunks[i] = rec.Chunk
	}
	return chunker.MergeChunks(chunks, r.splitter.Overlap, models.ContextSeparator)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// StoredCount returns the number of committed records carried by err.
func StoredCount(err error) (int, bool) {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Stored, true
	}
	return 0, false
}
