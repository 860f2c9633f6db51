// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider maps text to dense float32 vectors. The catalog layer
// uses these vectors for semantic product search: free-text queries like
// "warm jacket for autumn" are embedded and matched against pre-embedded
// product descriptions by cosine distance.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance share the same
// dimensionality (returned by Dimensions). Vectors from different providers
// or models must never be mixed in the same similarity computation.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns a
	// float32 slice of length Dimensions() or an error if the request fails
	// or ctx is cancelled.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for a slice of texts in one provider call.
	// The returned slice has the same length as texts, index-aligned. Partial
	// results are not returned — on error the entire slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// provider, determined by the underlying model.
	Dimensions() int

	// ModelID returns the provider-specific model identifier
	// (e.g. "text-embedding-3-small"). Useful for logging and for verifying
	// that the index and query sides use the same model.
	ModelID() string
}
