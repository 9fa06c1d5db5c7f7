package intelligence

import (
	"math"
	"strings"
	"unicode"
)

// CosineSimilarity calculates the cosine similarity between two embedding
// vectors. Returns a value in [-1, 1], or 0 when the vectors differ in
// length or either has zero magnitude.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// TokenOverlap computes the Jaccard similarity between the token sets of a
// query and a candidate text. Tokens are lowercased runs of letters and
// digits; CJK characters tokenize individually so Chinese queries still
// overlap without word segmentation.
//
// Returns a value in [0.0, 1.0]. Either side being empty yields 0.
func TokenOverlap(query, text string) float64 {
	queryTokens := tokenize(query)
	textTokens := tokenize(text)
	if len(queryTokens) == 0 || len(textTokens) == 0 {
		return 0
	}

	intersection := 0
	for token := range queryTokens {
		if _, ok := textTokens[token]; ok {
			intersection++
		}
	}

	union := len(queryTokens) + len(textTokens) - intersection
	if union == 0 {
		return 0
	}

	return float64(intersection) / float64(union)
}

// tokenize splits text into a lowercased token set. Latin-script words stay
// whole; Han characters become single-rune tokens.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	var word strings.Builder

	flush := func() {
		if word.Len() > 0 {
			tokens[strings.ToLower(word.String())] = struct{}{}
			word.Reset()
		}
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens[string(r)] = struct{}{}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	return tokens
}
