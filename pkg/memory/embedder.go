// Package memory implements the retrieval engine: add with merge-on-write,
// hybrid semantic and keyword search, and token-bounded context assembly.
package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"

	"github.com/memvect/memvect/pkg/core"
)

// Embedder errors
var (
	// ErrEmbedderNotConfigured is returned when a semantic operation runs
	// without an embedder.
	ErrEmbedderNotConfigured = errors.New("embedder not configured")

	// ErrEmptyText is returned when empty text is embedded.
	ErrEmptyText = errors.New("empty text")
)

// Embedder converts text to a fixed-dimension vector. Implementations must
// return vectors of exactly Dim() elements.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// HashEmbedder is a deterministic embedder that hashes words into buckets.
// It carries no model weights; similar word sets produce similar vectors,
// which is enough for tests and for keyword-heavy corpora. Production
// deployments plug in a real embedding model instead.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hash embedder with the given dimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{dim: dim}
}

// Embed hashes each lowercase word into a bucket and normalizes the result.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	vec := make([]float32, e.dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%uint32(e.dim)] += 1
	}

	return core.Normalize(vec), nil
}

// Dim returns the embedder's output dimension.
func (e *HashEmbedder) Dim() int {
	return e.dim
}
