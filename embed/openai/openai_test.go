package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/semindex/embed"
)

func newServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"down","type":"server_error"}}`))
			return
		}

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			// Reverse order to check the index is honoured.
			j := len(req.Input) - 1 - i
			data[i] = map[string]any{"object": "embedding", "index": j, "embedding": []float32{float32(j), 1}}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
		})
	}))
}

func TestBackend_Embed(t *testing.T) {
	srv := newServer(t, http.StatusOK)
	defer srv.Close()

	b, err := New(Config{APIKey: "key", BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, b.ModelID())

	vecs, dims, err := b.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 2, dims)
	assert.Equal(t, []float32{0, 1, 1, 1, 2, 1}, vecs)
}

func TestBackend_ServerErrorIsACrash(t *testing.T) {
	srv := newServer(t, http.StatusServiceUnavailable)
	defer srv.Close()

	b, err := New(Config{APIKey: "key", BaseURL: srv.URL})
	require.NoError(t, err)

	_, _, err = b.Embed(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, embed.ErrBackendCrashed)
}

func TestBackend_ClientErrorIsNotACrash(t *testing.T) {
	srv := newServer(t, http.StatusBadRequest)
	defer srv.Close()

	b, err := New(Config{APIKey: "key", BaseURL: srv.URL})
	require.NoError(t, err)

	_, _, err = b.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, embed.ErrBackendCrashed)
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
