package retriever

import (
	"context"
	"iter"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/models"
)

type sliceStore struct {
	recs []models.Record
	err  error
}

func (s *sliceStore) InsertBatch(_ context.Context, _ string, recs []models.Record) (int, error) {
	s.recs = append(s.recs, recs...)
	return len(recs), nil
}

func (s *sliceStore) Scan(context.Context) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		for _, rec := range s.recs {
			if !yield(rec, nil) {
				return
			}
		}
		if s.err != nil {
			yield(models.Record{}, s.err)
		}
	}
}

func (s *sliceStore) Close() error { return nil }

func rec(text string, embedding ...float32) models.Record {
	return models.Record{
		Chunk:     models.Chunk{SourceID: "doc.pdf", Text: text},
		Embedding: embedding,
		Model:     "m",
		Dimension: len(embedding),
	}
}

func texts(scored []models.Scored) []string {
	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.Text
	}
	return out
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1},
		{"zero norm", []float32{0, 0}, []float32{1, 1}, 0},
		{"both zero", []float32{0, 0}, []float32{0, 0}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
		{"nan", []float32{float32(math.NaN()), 1}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCosineSimilaritySymmetricAndBounded(t *testing.T) {
	vectors := [][]float32{
		{0.1, -0.7, 3.2, 0},
		{5, 5, -1, 2},
		{-0.001, 0.002, 0.5, 9},
		{1e-3, 1e-3, 1e-3, 1e-3},
	}
	for _, a := range vectors {
		assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-9)
		for _, b := range vectors {
			ab, ba := CosineSimilarity(a, b), CosineSimilarity(b, a)
			assert.Equal(t, ab, ba)
			assert.LessOrEqual(t, ab, 1.0)
			assert.GreaterOrEqual(t, ab, -1.0)
		}
	}
}

func TestRetrieveOrdersDescending(t *testing.T) {
	s := &sliceStore{recs: []models.Record{
		rec("far", 0, 1),
		rec("close", 1, 0.1),
		rec("middle", 1, 1),
	}}
	got, err := New(s, "m", 2).Retrieve(context.Background(), []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"close", "middle", "far"}, texts(got))
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Similarity, got[i].Similarity)
	}
}

func TestRetrieveTiesKeepScanOrder(t *testing.T) {
	s := &sliceStore{recs: []models.Record{
		rec("first", 1, 1),
		rec("best", 1, 0),
		rec("second", 2, 2),
		rec("third", 4, 4),
	}}
	got, err := New(s, "m", 2).Retrieve(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"best", "first", "second"}, texts(got))
}

func TestRetrieveTopKLargerThanStore(t *testing.T) {
	s := &sliceStore{recs: []models.Record{rec("a", 1, 0), rec("b", 0, 1)}}
	got, err := New(s, "m", 2).Retrieve(context.Background(), []float32{1, 1}, 50)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRetrieveEmptyStore(t *testing.T) {
	got, err := New(&sliceStore{}, "m", 2).Retrieve(context.Background(), []float32{1, 1}, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieveStoredChunkRanksFirst(t *testing.T) {
	s := &sliceStore{recs: []models.Record{
		rec("hemoglobin", 0.2, 0.9, 0.1),
		rec("glucose", 0.8, 0.1, 0.3),
		rec("cholesterol", 0.4, 0.4, 0.6),
	}}
	got, err := New(s, "m", 3).Retrieve(context.Background(), []float32{0.8, 0.1, 0.3}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "glucose", got[0].Text)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-6)
}

func TestRetrieveRejectsBadInput(t *testing.T) {
	r := New(&sliceStore{recs: []models.Record{rec("a", 1, 0)}}, "m", 2)
	ctx := context.Background()

	_, err := r.Retrieve(ctx, []float32{1, 0}, 0)
	assert.ErrorIs(t, err, models.ErrInvalidParameters)

	_, err = r.Retrieve(ctx, []float32{0, 0}, 5)
	assert.ErrorIs(t, err, models.ErrInvalidParameters)

	_, err = r.Retrieve(ctx, []float32{1, 0, 0}, 5)
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
}

func TestRetrieveSkipsOtherModels(t *testing.T) {
	other := rec("other model", 1, 0)
	other.Model = "another"
	legacy := rec("legacy", 1, 0)
	legacy.Model = ""
	s := &sliceStore{recs: []models.Record{other, legacy, rec("short", 1), rec("same", 0.9, 0.1)}}

	got, err := New(s, "m", 2).Retrieve(context.Background(), []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy", "same"}, texts(got))
}

func TestRetrieveStoreError(t *testing.T) {
	s := &sliceStore{recs: []models.Record{rec("a", 1, 0)}, err: models.ErrStoreUnavailable}
	_, err := New(s, "m", 2).Retrieve(context.Background(), []float32{1, 0}, 10)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}
