// Package openai implements the embedder.Provider interface on top of the
// OpenAI Embeddings API. Any OpenAI-compatible endpoint works through
// Config.BaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Client embeds text through the OpenAI Embeddings API.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// Config configures the OpenAI embedder.
type Config struct {
	// APIKey is the OpenAI API key. Required.
	APIKey string

	// Model is the embedding model name. Must be a model the SDK knows
	// (e.g. "text-embedding-ada-002"). Defaults to text-embedding-ada-002.
	Model string

	// BaseURL overrides the API endpoint for OpenAI-compatible servers.
	BaseURL string

	// Dimensions is the embedding vector size. Defaults to 1536, the
	// dimension of text-embedding-ada-002.
	Dimensions int
}

// NewClient creates an OpenAI embedder client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("NewOpenAIEmbedder: api key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := openai.AdaEmbeddingV2
	if cfg.Model != "" {
		// The SDK's embedding models are an enum; resolve the name
		// through its text unmarshaller.
		_ = model.UnmarshalText([]byte(cfg.Model))
		if model == openai.Unknown {
			return nil, fmt.Errorf("NewOpenAIEmbedder: unsupported embedding model %q", cfg.Model)
		}
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}

	return &Client{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed converts one text into its embedding vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("Embed: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("Embed: no data returned from API")
	}

	return toFloat64(resp.Data[0].Embedding), nil
}

// EmbedBatch converts multiple texts in one request.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("EmbedBatch: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("EmbedBatch: got %d results for %d inputs", len(resp.Data), len(texts))
	}

	embeddings := make([][]float64, len(texts))
	for i, data := range resp.Data {
		embeddings[i] = toFloat64(data.Embedding)
	}

	return embeddings, nil
}

// Dimensions returns the embedding vector dimension.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close releases client resources. The OpenAI SDK holds no persistent
// connections, so this is a no-op kept for interface compatibility.
func (c *Client) Close() error {
	return nil
}

// toFloat64 widens the API's float32 vector.
func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
