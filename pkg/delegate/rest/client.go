// Package rest implements the delegate.Provider interface against a remote
// memory service speaking a simple JSON HTTP API.
//
// Expected endpoints:
//
//	POST   {base}/v1/memories        {"text", "user_id", "metadata"} -> {"id"}
//	POST   {base}/v1/memories/search {"query", "user_id", "limit"}   -> {"results": [...]}
//	DELETE {base}/v1/memories/{id}
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/recallhq/recall-go/pkg/delegate"
)

// Client talks to a remote memory service over HTTP.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// Config contains configuration for the REST delegate.
type Config struct {
	// BaseURL is the service endpoint, without a trailing slash. Required.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// HTTPClient overrides the default client (30s timeout).
	HTTPClient *http.Client
}

// NewClient creates a REST delegate client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("NewRESTDelegate: base URL is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		client:  client,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}, nil
}

// Add mirrors content to the remote service and returns its id.
func (c *Client) Add(ctx context.Context, text, owner string, metadata map[string]interface{}) (string, error) {
	reqBody := map[string]interface{}{
		"text":    text,
		"user_id": owner,
	}
	if len(metadata) > 0 {
		reqBody["metadata"] = metadata
	}

	var response struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/v1/memories", reqBody, &response); err != nil {
		return "", fmt.Errorf("Add: %w", err)
	}
	if response.ID == "" {
		return "", errors.New("Add: service returned no id")
	}

	return response.ID, nil
}

// Search queries the remote service within the owner's entries.
func (c *Client) Search(ctx context.Context, query, owner string, limit int) ([]delegate.Hit, error) {
	reqBody := map[string]interface{}{
		"query":   query,
		"user_id": owner,
		"limit":   limit,
	}

	var response struct {
		Results []struct {
			ID       string                 `json:"id"`
			Text     string                 `json:"text"`
			Metadata map[string]interface{} `json:"metadata"`
			Score    float64                `json:"score"`
		} `json:"results"`
	}
	if err := c.post(ctx, "/v1/memories/search", reqBody, &response); err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}

	hits := make([]delegate.Hit, 0, len(response.Results))
	for _, res := range response.Results {
		hits = append(hits, delegate.Hit{
			ID:       res.ID,
			Text:     res.Text,
			Metadata: res.Metadata,
			Score:    res.Score,
		})
	}

	return hits, nil
}

// Delete removes the remote entry with the given id.
func (c *Client) Delete(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("%s/v1/memories/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// A missing remote entry is fine; the mirror may already be gone.
	if (resp.StatusCode < 200 || resp.StatusCode > 299) &&
		resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Delete: status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// Close releases client resources.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// post sends a JSON request and decodes a JSON response.
func (c *Client) post(ctx context.Context, path string, reqBody, out interface{}) error {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
