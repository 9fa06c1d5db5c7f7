package rest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/delegate/rest"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *rest.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := rest.NewClient(&rest.Config{BaseURL: srv.URL})
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := rest.NewClient(&rest.Config{})
	assert.Error(t, err)
}

func TestClient_AddAcceptsCreated(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/memories", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "remote-1"})
	})

	id, err := client.Add(context.Background(), "note", "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, "remote-1", id)
}

func TestClient_AddServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.Add(context.Background(), "note", "u1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestClient_Search(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/memories/search", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"id": "remote-1", "text": "note", "score": 0.9},
			},
		})
	})

	hits, err := client.Search(context.Background(), "note", "u1", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "remote-1", hits[0].ID)
	assert.Equal(t, 0.9, hits[0].Score)
}

func TestClient_DeleteToleratesMissing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})

	assert.NoError(t, client.Delete(context.Background(), "remote-1"))
}
