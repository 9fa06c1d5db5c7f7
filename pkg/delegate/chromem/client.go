// Package chromem implements the delegate.Provider interface on top of
// chromem-go, an embeddable vector database. It gives the engine a
// semantic-search delegate with no external service to run.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	chromemgo "github.com/philippgille/chromem-go"

	"github.com/recallhq/recall-go/pkg/delegate"
	"github.com/recallhq/recall-go/pkg/embedder"
)

// Client stores mirrored memories in per-owner chromem collections.
type Client struct {
	db        *chromemgo.DB
	embedFunc chromemgo.EmbeddingFunc

	mu          sync.Mutex
	collections map[string]*chromemgo.Collection
}

// Config configures the chromem delegate.
type Config struct {
	// Path is the directory for persistent storage. Empty means a pure
	// in-memory database.
	Path string

	// Compress enables gzip compression of persisted documents.
	Compress bool

	// Embedder produces the vectors chromem indexes. Required.
	Embedder embedder.Provider
}

// NewClient creates a chromem-backed delegate.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.Embedder == nil {
		return nil, errors.New("NewChromemDelegate: embedder is required")
	}

	var db *chromemgo.DB
	var err error
	if cfg.Path != "" {
		db, err = chromemgo.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("NewChromemDelegate: %w", err)
		}
	} else {
		db = chromemgo.NewDB()
	}

	emb := cfg.Embedder
	embedFunc := func(ctx context.Context, text string) ([]float32, error) {
		vec, err := emb.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out := make([]float32, len(vec))
		for i, v := range vec {
			out[i] = float32(v)
		}
		return out, nil
	}

	return &Client{
		db:          db,
		embedFunc:   embedFunc,
		collections: make(map[string]*chromemgo.Collection),
	}, nil
}

// Add mirrors content into the owner's collection and returns the new
// document id.
func (c *Client) Add(ctx context.Context, text, owner string, metadata map[string]interface{}) (string, error) {
	col, err := c.collection(owner)
	if err != nil {
		return "", fmt.Errorf("Add: %w", err)
	}

	id := uuid.New().String()
	err = col.AddDocument(ctx, chromemgo.Document{
		ID:       id,
		Content:  text,
		Metadata: flattenMetadata(metadata),
	})
	if err != nil {
		return "", fmt.Errorf("Add: %w", err)
	}

	return id, nil
}

// Search queries the owner's collection and returns up to limit hits,
// best first.
func (c *Client) Search(ctx context.Context, query, owner string, limit int) ([]delegate.Hit, error) {
	col, err := c.collection(owner)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}

	// chromem rejects nResults larger than the collection.
	n := limit
	if count := col.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	results, err := col.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}

	hits := make([]delegate.Hit, 0, len(results))
	for _, res := range results {
		hits = append(hits, delegate.Hit{
			ID:       res.ID,
			Text:     res.Content,
			Metadata: expandMetadata(res.Metadata),
			Score:    float64(res.Similarity),
		})
	}

	return hits, nil
}

// Delete removes one document. Unknown ids are ignored; the caller may be
// retrying a partially applied removal.
func (c *Client) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	cols := make([]*chromemgo.Collection, 0, len(c.collections))
	for _, col := range c.collections {
		cols = append(cols, col)
	}
	c.mu.Unlock()

	for _, col := range cols {
		if err := col.Delete(ctx, nil, nil, id); err != nil {
			return fmt.Errorf("Delete: %w", err)
		}
	}

	return nil
}

// Close releases the in-process database. Persistent state stays on disk.
func (c *Client) Close() error {
	return nil
}

// collection returns the owner's collection, creating it when first used.
func (c *Client) collection(owner string) (*chromemgo.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if col, ok := c.collections[owner]; ok {
		return col, nil
	}

	col, err := c.db.GetOrCreateCollection("memories-"+owner, nil, c.embedFunc)
	if err != nil {
		return nil, err
	}
	c.collections[owner] = col
	return col, nil
}

// flattenMetadata converts engine metadata to chromem's string map.
func flattenMetadata(metadata map[string]interface{}) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	flat := make(map[string]string, len(metadata))
	for k, v := range metadata {
		flat[k] = fmt.Sprint(v)
	}
	return flat
}

// expandMetadata converts chromem's string map back.
func expandMetadata(metadata map[string]string) map[string]interface{} {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
