package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func visionServer(t *testing.T, reply string, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": reply}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVisionClient(t *testing.T) {
	reply := `{"summary": "terminal with test output", "detected_app": "iTerm", "activity_type": "terminal", "confidence": 0.85, "entities": ["go test"]}`

	t.Run("parses structured analysis", func(t *testing.T) {
		var calls atomic.Int64
		srv := visionServer(t, reply, &calls)
		c := NewVisionClient(srv.URL, "test-model", "")

		a, err := c.AnalyzeImage(context.Background(), []byte("jpeg"), "hash-a")
		require.NoError(t, err)
		assert.Equal(t, "terminal with test output", a.Summary)
		assert.Equal(t, "iTerm", a.DetectedApp)
		assert.InDelta(t, 0.85, a.Confidence, 1e-9)
	})

	t.Run("caches by perceptual hash", func(t *testing.T) {
		var calls atomic.Int64
		srv := visionServer(t, reply, &calls)
		c := NewVisionClient(srv.URL, "test-model", "")

		_, err := c.AnalyzeImage(context.Background(), []byte("jpeg"), "same-hash")
		require.NoError(t, err)
		_, err = c.AnalyzeImage(context.Background(), []byte("jpeg"), "same-hash")
		require.NoError(t, err)
		assert.Equal(t, int64(1), calls.Load(), "second call must hit the cache")

		_, err = c.AnalyzeImage(context.Background(), []byte("jpeg"), "other-hash")
		require.NoError(t, err)
		assert.Equal(t, int64(2), calls.Load())
	})

	t.Run("empty hash bypasses the cache", func(t *testing.T) {
		var calls atomic.Int64
		srv := visionServer(t, reply, &calls)
		c := NewVisionClient(srv.URL, "test-model", "")

		for i := 0; i < 2; i++ {
			_, err := c.AnalyzeImage(context.Background(), []byte("jpeg"), "")
			require.NoError(t, err)
		}
		assert.Equal(t, int64(2), calls.Load())
	})

	t.Run("surfaces transport errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()
		c := NewVisionClient(srv.URL, "test-model", "")

		_, err := c.AnalyzeImage(context.Background(), []byte("jpeg"), "h")
		assert.Error(t, err)
	})
}

func TestParseAnalysis(t *testing.T) {
	t.Run("keeps raw text when not json", func(t *testing.T) {
		a := parseAnalysis("The screen shows a code editor.")
		assert.Equal(t, "The screen shows a code editor.", a.Summary)
		assert.InDelta(t, 0.5, a.Confidence, 1e-9)
	})

	t.Run("clamps out-of-range confidence", func(t *testing.T) {
		a := parseAnalysis(`{"summary": "x", "confidence": 7}`)
		assert.InDelta(t, 0.5, a.Confidence, 1e-9)
	})
}

func TestPing(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/models", r.URL.Path)
			w.Write([]byte(`{"data":[]}`))
		}))
		defer srv.Close()
		c := NewVisionClient(srv.URL, "m", "")
		assert.NoError(t, c.Ping(context.Background()))
	})

	t.Run("down", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()
		c := NewVisionClient(srv.URL, "m", "")
		assert.Error(t, c.Ping(context.Background()))
	})
}
