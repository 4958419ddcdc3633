// Package vectorindex holds artifact embeddings and answers cosine nearest-neighbour queries.
//
// Vectors are L2-normalized before storage and before querying, so similarity is a plain
// inner product. Slots are append-only: an artifact id maps to exactly one slot for the
// lifetime of the index, and re-adding it is a successful no-op.
package vectorindex

import (
	"context"
	"errors"
)

var (
	// ErrDimensionMismatch is returned when a query vector's length differs from the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrIndexCorrupt is returned by Load when the persisted file pair is unusable.
	ErrIndexCorrupt = errors.New("vector index files corrupt")

	// ErrLockTimeout is returned when another process holds the index lock for too long.
	ErrLockTimeout = errors.New("vector index lock timeout")
)

// Hit is one search result.
type Hit struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

// Store is the contract shared by the local index and remote backends.
type Store interface {
	// Add stores vec under id. It returns false for an empty, zero-norm or
	// wrong-dimension vector, and true without re-inserting for a known id.
	Add(ctx context.Context, id string, vec []float32) bool

	// Search returns at most k hits sorted by non-increasing similarity.
	// excludeID, when non-empty, never appears in the results.
	Search(ctx context.Context, query []float32, k int, excludeID string) ([]Hit, error)

	Contains(ctx context.Context, id string) bool
	Size(ctx context.Context) int

	Save(ctx context.Context) error
	Load(ctx context.Context) error
	Clear(ctx context.Context) error

	// Dimension returns the fixed vector length, or 0 before the first Add.
	Dimension() int
}
