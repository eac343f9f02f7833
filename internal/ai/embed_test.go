package ai

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEmbedder(t *testing.T) {
	e := NewLocalEmbedder(128)
	ctx := context.Background()

	t.Run("deterministic", func(t *testing.T) {
		a, err := e.Embed(ctx, "working on the search engine")
		require.NoError(t, err)
		b, err := e.Embed(ctx, "working on the search engine")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("unit norm", func(t *testing.T) {
		vec, err := e.Embed(ctx, "some text with several tokens")
		require.NoError(t, err)
		require.Len(t, vec, 128)

		var sum float64
		for _, v := range vec {
			sum += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	})

	t.Run("case and punctuation insensitive", func(t *testing.T) {
		a, _ := e.Embed(ctx, "Hello, World!")
		b, _ := e.Embed(ctx, "hello world")
		assert.Equal(t, a, b)
	})

	t.Run("empty text is a zero vector", func(t *testing.T) {
		vec, err := e.Embed(ctx, "")
		require.NoError(t, err)
		for _, v := range vec {
			assert.Zero(t, v)
		}
	})
}

func TestRemoteEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req["model"])

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	e := NewRemoteEmbedder(srv.URL, "all-minilm", "secret", 3)
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, e.Dimension())
}

type erroringEmbedder struct{ dim int }

func (e erroringEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("unavailable")
}
func (e erroringEmbedder) Dimension() int { return e.dim }

func TestFallbackEmbedder(t *testing.T) {
	t.Run("uses fallback on failure", func(t *testing.T) {
		e := NewFallbackEmbedder(erroringEmbedder{dim: 64}, NewLocalEmbedder(64))
		vec, err := e.Embed(context.Background(), "resilient text")
		require.NoError(t, err)
		require.Len(t, vec, 64)

		var sum float64
		for _, v := range vec {
			sum += float64(v) * float64(v)
		}
		assert.False(t, math.Abs(sum-1) > 1e-5, "fallback vector should be normalized")
	})

	t.Run("prefers the primary", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"embedding": []float32{1, 0}}},
			})
		}))
		defer srv.Close()

		e := NewFallbackEmbedder(NewRemoteEmbedder(srv.URL, "m", "", 2), NewLocalEmbedder(2))
		vec, err := e.Embed(context.Background(), "anything")
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 0}, vec)
	})
}
