package models

import (
	"fmt"
	"math"
	"time"
)

// Document is one unit of extracted text from an uploaded file, usually a page.
type Document struct {
	SourceID string
	Page     int
	Text     string
}

// Chunk represents a window of document text with its position
type Chunk struct {
	SourceID string `json:"source"`
	Page     int    `json:"page"`
	Seq      int    `json:"seq"`
	Text     string `json:"text"`
}

// Record is a persisted chunk together with its embedding
type Record struct {
	Chunk
	ID        string    `json:"id"`
	IngestID  string    `json:"ingest_id"`
	Embedding []float32 `json:"-"`
	Model     string    `json:"model"`
	Dimension int       `json:"dimension"`
	CreatedAt time.Time `json:"created_at"`
}

// Scored is a record ranked against a query vector.
type Scored struct {
	Record
	Similarity float64 `json:"similarity"`
}

type QueryResponse struct {
	Query      string   `json:"query"`
	Answer     string   `json:"answer"`
	ChunksUsed int      `json:"chunks_used"`
	Sources    []string `json:"sources,omitempty"`
}

type UploadResponse struct {
	Status   string `json:"status"`
	Chunks   int    `json:"chunks"`
	Source   string `json:"source"`
	IngestID string `json:"ingest_id"`
}

// BatchUploadResponse lists the documents of a multi-file upload in request order.
type BatchUploadResponse struct {
	Status    string           `json:"status"`
	Documents []UploadResponse `json:"documents"`
}

type SummaryResponse struct {
	Source  string `json:"source"`
	Summary string `json:"summary"`
	Chunks  int    `json:"chunks"`
}

// Validate checks a record before it is written to a store of the given dimension.
func (r Record) Validate(dimension int) error {
	if r.SourceID == "" {
		return fmt.Errorf("%w: record has no source", ErrInvalidParameters)
	}
	if r.Text == "" {
		return fmt.Errorf("%w: record %s/%d has no text", ErrInvalidParameters, r.SourceID, r.Seq)
	}
	if len(r.Embedding) != dimension {
		return fmt.Errorf("%w: record %s/%d has %d dimensions, store has %d",
			ErrDimensionMismatch, r.SourceID, r.Seq, len(r.Embedding), dimension)
	}
	// cosine similarity is undefined for these, and some stores normalize on write
	var norm float64
	for _, v := range r.Embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: record %s/%d has a non-finite embedding", ErrInvalidParameters, r.SourceID, r.Seq)
		}
		norm += f * f
	}
	if norm == 0 {
		return fmt.Errorf("%w: record %s/%d has a zero embedding", ErrInvalidParameters, r.SourceID, r.Seq)
	}
	return nil
}
