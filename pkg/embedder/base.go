// Package embedder defines the text embedding provider interface used for
// semantic search.
//
// The engine treats embeddings as optional: when no provider is configured,
// records are stored without vectors and semantic search degrades to the
// keyword sources.
package embedder

import "context"

// Provider converts text into embedding vectors.
type Provider interface {
	// Embed converts one text into its embedding vector.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple texts in one request. Results are in
	// input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the vector dimension this provider produces.
	Dimensions() int

	// Close releases provider resources.
	Close() error
}
