package intelligence_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/recallhq/recall-go/pkg/intelligence"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, intelligence.CosineSimilarity(
		[]float64{1, 0, 0}, []float64{1, 0, 0}), 0.001)

	assert.InDelta(t, 0.0, intelligence.CosineSimilarity(
		[]float64{1, 0}, []float64{0, 1}), 0.001)

	assert.InDelta(t, -1.0, intelligence.CosineSimilarity(
		[]float64{1, 0}, []float64{-1, 0}), 0.001)
}

func TestCosineSimilarity_Degenerate(t *testing.T) {
	// Mismatched lengths.
	assert.Equal(t, 0.0, intelligence.CosineSimilarity([]float64{1, 2}, []float64{1}))

	// Empty vectors.
	assert.Equal(t, 0.0, intelligence.CosineSimilarity(nil, nil))

	// Zero magnitude.
	assert.Equal(t, 0.0, intelligence.CosineSimilarity([]float64{0, 0}, []float64{1, 1}))
}

func TestTokenOverlap(t *testing.T) {
	// Identical token sets.
	assert.InDelta(t, 1.0, intelligence.TokenOverlap("hello world", "world hello"), 0.001)

	// Half overlap: {coffee, morning} vs {coffee, evening} -> 1/3.
	assert.InDelta(t, 1.0/3.0, intelligence.TokenOverlap("coffee morning", "coffee evening"), 0.001)

	// No overlap.
	assert.Equal(t, 0.0, intelligence.TokenOverlap("alpha", "beta"))
}

func TestTokenOverlap_CaseInsensitive(t *testing.T) {
	assert.InDelta(t, 1.0, intelligence.TokenOverlap("Hello World", "hello world"), 0.001)
}

func TestTokenOverlap_Chinese(t *testing.T) {
	// Han characters tokenize individually, so partial matches score
	// without word segmentation.
	overlap := intelligence.TokenOverlap("偏好", "用户偏好: theme=dark")
	assert.Greater(t, overlap, 0.0)
}

func TestTokenOverlap_Empty(t *testing.T) {
	assert.Equal(t, 0.0, intelligence.TokenOverlap("", "content"))
	assert.Equal(t, 0.0, intelligence.TokenOverlap("query", ""))
}
