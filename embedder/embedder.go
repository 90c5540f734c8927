package embedder

import "context"

// Embedder turns raw audio bytes into a fixed-length vector summarizing the
// clip's acoustic content.
type Embedder interface {
	Embed(ctx context.Context, audio []byte) ([]float32, error)
}
