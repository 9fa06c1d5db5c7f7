// Package delegate defines the interface for external memory providers the
// engine mirrors writes to and consults during search.
//
// A delegate is best-effort: the durable store remains the source of truth,
// delegate failures degrade search rather than failing it, and delegate ids
// are resolved back to local records through the mapping table.
package delegate

import "context"

// Hit is one search result returned by a delegate provider.
type Hit struct {
	// ID is the delegate-side identifier of the matched entry.
	ID string

	// Text is the matched content as the delegate stored it.
	Text string

	// Metadata is the metadata mirrored at Add time.
	Metadata map[string]interface{}

	// Score is the delegate's relevance score in [0.0, 1.0], higher is
	// more relevant.
	Score float64
}

// Provider is an external memory system that mirrors saved records and
// serves semantic search.
type Provider interface {
	// Add mirrors one piece of content for the owner and returns the
	// delegate-side id.
	Add(ctx context.Context, text, owner string, metadata map[string]interface{}) (string, error)

	// Search returns up to limit hits for the query within the owner's
	// entries, best first.
	Search(ctx context.Context, query, owner string, limit int) ([]Hit, error)

	// Delete removes the entry with the given delegate-side id.
	Delete(ctx context.Context, id string) error

	// Close releases provider resources.
	Close() error
}
