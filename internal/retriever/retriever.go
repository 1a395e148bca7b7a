// Package retriever ranks stored chunks against a query vector by brute-force
// cosine similarity.
package retriever

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/models"
	"pdf-rag/internal/store"
)

// CosineSimilarity returns dot(a,b)/(|a||b|). It is 0 when the lengths
// differ, either vector has zero norm, or the result is not finite.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0
	}
	// rounding can push identical vectors just past 1
	return max(-1, min(1, sim))
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Retriever scores every record of a store whose vectors come from the
// given embedding model.
type Retriever struct {
	store     store.ChunkStore
	model     string
	dimension int
}

func New(s store.ChunkStore, model string, dimension int) *Retriever {
	return &Retriever{store: s, model: model, dimension: dimension}
}

// Retrieve returns the topK records most similar to query, most similar
// first. Records with equal similarity keep their scan order. An empty
// store yields an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query []float32, topK int) ([]models.Scored, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", models.ErrInvalidParameters, topK)
	}
	if len(query) != r.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, want %d", models.ErrDimensionMismatch, len(query), r.dimension)
	}
	if n := norm(query); n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, fmt.Errorf("%w: query vector has no direction", models.ErrInvalidParameters)
	}

	var scored []models.Scored
	skipped := 0
	for rec, err := range r.store.Scan(ctx) {
		if err != nil {
			return nil, err
		}
		if !r.comparable(rec) {
			skipped++
			continue
		}
		scored = append(scored, models.Scored{Record: rec, Similarity: CosineSimilarity(query, rec.Embedding)})
	}
	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Str("model", r.model).Int("dimension", r.dimension).
			Msg("Skipped records embedded with another model")
	}

	slices.SortStableFunc(scored, func(a, b models.Scored) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	log.Debug().Int("results", len(scored)).Int("top_k", topK).Msg("Retrieved chunks")
	return scored, nil
}

// comparable reports whether rec lives in the retriever's vector space.
// Records without a model name predate model tracking and are compared
// when their dimension matches.
func (r *Retriever) comparable(rec models.Record) bool {
	if len(rec.Embedding) != r.dimension {
		return false
	}
	return rec.Model == "" || rec.Model == r.model
}
