package index

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// TextEmbedder generates embeddings for text.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingCache stores computed embeddings keyed by their text. A nil or
// failing cache only costs recomputation, never correctness.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, bool)
	SetEmbedding(ctx context.Context, text string, vector []float32)
}

// Embedder wraps a text embedding backend with a read-through cache.
type Embedder struct {
	backend TextEmbedder
	cache   EmbeddingCache
}

// NewEmbedder creates an Embedder. cache may be nil to disable caching.
func NewEmbedder(backend TextEmbedder, cache EmbeddingCache) *Embedder {
	return &Embedder{backend: backend, cache: cache}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.cache != nil {
		if vec, ok := e.cache.GetEmbedding(ctx, text); ok {
			return vec, nil
		}
	}
	vec, err := e.backend.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if e.cache != nil {
		e.cache.SetEmbedding(ctx, text, vec)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the embedding backend.

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
