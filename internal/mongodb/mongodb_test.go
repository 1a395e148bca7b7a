package mongodb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Older records only carry file_name, text and embedding.
func TestLegacyDocumentDecodes(t *testing.T) {
	id := primitive.NewObjectIDFromTimestamp(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	raw, err := bson.Marshal(bson.M{
		"_id":       id,
		"file_name": "report.pdf",
		"text":      "blood pressure normal",
		"embedding": []float64{0.1, 0.2, 0.30000000000000004},
	})
	assert.NoError(t, err)

	var doc chunkDocument
	assert.NoError(t, bson.Unmarshal(raw, &doc))

	rec := doc.record()
	assert.Equal(t, "report.pdf", rec.SourceID)
	assert.Equal(t, "blood pressure normal", rec.Text)
	assert.Equal(t, 3, rec.Dimension)
	assert.Len(t, rec.Embedding, 3)
	assert.Empty(t, rec.Model)
	assert.Equal(t, id.Hex(), rec.ID)
	assert.True(t, rec.CreatedAt.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))
}
