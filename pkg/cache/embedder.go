// Package cache provides a bounded embedding-result cache.
package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/memweave/memweave/pkg/embeddings"
)

// Embedder decorates an embeddings.Client with a bounded, cost-aware
// cache keyed by input text. Identical texts (repeated searches, replayed
// captures) skip the provider round-trip. The cache is advisory: a miss or
// rejected admission only costs one provider call.
type Embedder struct {
	inner embeddings.Client
	cache *ristretto.Cache
}

// NewEmbedder wraps client with a cache bounded to roughly maxBytes of
// stored vectors.
func NewEmbedder(client embeddings.Client, maxBytes int64) (*Embedder, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		// Rule of thumb from the ristretto docs: counters at ~10x the
		// expected number of items. Vectors are a few KB each.
		NumCounters: maxBytes / 1024 * 10,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &Embedder{inner: client, cache: c}, nil
}

// EmbedOne returns a cached vector when available, otherwise delegates to
// the wrapped client and caches the result.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := e.inner.EmbedOne(ctx, text)
	if err != nil {
		return nil, err
	}

	e.cache.Set(text, vec, int64(len(vec)*4))
	return vec, nil
}

// Embed resolves each text through the cache, batching only the misses to
// the wrapped client.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if v, ok := e.cache.Get(text); ok {
			if vec, ok := v.([]float32); ok {
				results[i] = vec
				continue
			}
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	vectors, err := e.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(missTexts))
	}

	for j, vec := range vectors {
		results[missIdx[j]] = vec
		e.cache.Set(missTexts[j], vec, int64(len(vec)*4))
	}

	return results, nil
}

// Wait blocks until buffered cache writes are applied. Tests use this to
// make admission deterministic.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Close releases cache resources.
func (e *Embedder) Close() {
	e.cache.Close()
}
