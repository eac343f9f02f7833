package ai

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// RemoteEmbedder calls an OpenAI-compatible /embeddings endpoint.
type RemoteEmbedder struct {
	client
	model string
	dim   int
}

func NewRemoteEmbedder(endpoint, model, apiKey string, dim int) *RemoteEmbedder {
	return &RemoteEmbedder{
		client: newClient(endpoint, apiKey, 60*time.Second),
		model:  model,
		dim:    dim,
	}
}

type embeddingsRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embeddingsResponse
	if err := e.postJSON(ctx, "/embeddings", embeddingsRequest{Model: e.model, Input: text}, &resp); err != nil {
		return nil, fmt.Errorf("remote embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("remote embed: empty response")
	}
	return resp.Data[0].Embedding, nil
}

func (e *RemoteEmbedder) Dimension() int {
	return e.dim
}

// LocalEmbedder is a deterministic feature-hashing fallback used when the
// remote embedding service is unavailable. Vectors from the two embedders do
// not share a space, but hashed vectors remain comparable to each other,
// which keeps semantic search degraded rather than dead during outages.
type LocalEmbedder struct {
	dim int
}

func NewLocalEmbedder(dim int) *LocalEmbedder {
	return &LocalEmbedder{dim: dim}
}

func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dim))
		sign := float32(1)
		if (sum>>32)&1 == 1 {
			sign = -1
		}
		vec[idx] += sign
	}
	l2Normalize(vec)
	return vec, nil
}

func (e *LocalEmbedder) Dimension() int {
	return e.dim
}

// FallbackEmbedder tries the remote service first and falls back to the
// local one on failure.
type FallbackEmbedder struct {
	primary  Embedder
	fallback Embedder
}

func NewFallbackEmbedder(primary, fallback Embedder) *FallbackEmbedder {
	return &FallbackEmbedder{primary: primary, fallback: fallback}
}

func (e *FallbackEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.primary.Embed(ctx, text)
	if err == nil {
		return vec, nil
	}
	return e.fallback.Embed(ctx, text)
}

func (e *FallbackEmbedder) Dimension() int {
	return e.primary.Dimension()
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}

func l2Normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
