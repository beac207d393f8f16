// Package embedding provides text embedding via a remote OpenAI-compatible provider.
package embedding

import "context"

// Embedder produces vector embeddings for text.
// EmbedBatch output always has the same length as its input, with nil entries
// at positions whose item permanently failed; callers must filter.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
