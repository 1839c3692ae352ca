// Package embeddings provides clients for text embedding providers.
package embeddings

import "context"

// Client defines the interface for generating text embeddings.
// Implementations return fixed-length dense vectors suitable for cosine
// similarity comparison.
type Client interface {
	// Embed generates embeddings for multiple texts, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedOne generates an embedding for a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}
