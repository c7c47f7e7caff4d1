package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRerankReturnsReorderedDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "procédure RTT", req.Query)
		assert.Equal(t, 2, req.TopK)

		json.NewEncoder(w).Encode(rerankResponse{
			Documents: []Reranked{
				{ChunkID: "c2", Score: 0.91},
				{ChunkID: "c1", Score: 0.40},
			},
			Count: 2,
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "secret"})
	got, err := c.Rerank(context.Background(), "procédure RTT", []Document{
		{ChunkID: "c1", Content: "..."},
		{ChunkID: "c2", Content: "..."},
	}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[0].ChunkID)
	assert.Equal(t, "c1", got[1].ChunkID)
}

func TestRerankNonRetryableStatusFailsImmediately(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad query"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.Rerank(context.Background(), "q", nil, 5)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRerankRetriesOnServiceUnavailableThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(rerankResponse{Documents: []Reranked{{ChunkID: "c1", Score: 1}}})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	got, err := c.Rerank(context.Background(), "q", []Document{{ChunkID: "c1"}}, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ChunkID)
}

func TestHealthParsesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	status, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready", status)
}
