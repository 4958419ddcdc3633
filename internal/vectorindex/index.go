package vectorindex

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/timmy/storydedup/internal/logger"
)

const defaultLockTimeout = 10 * time.Second

// Index is an exact cosine index kept in memory and optionally persisted to a directory.
// Reads share the lock; Add, Clear and Load take it exclusively.
type Index struct {
	mu      sync.RWMutex
	dim     int
	ids     []string
	slots   map[string]int
	vectors []float32 // slot-major, len(ids)*dim

	dir         string
	lockTimeout time.Duration
	log         *logger.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger used when the call context carries none.
func WithLogger(l *logger.Logger) Option {
	return func(idx *Index) {
		if l != nil {
			idx.log = l
		}
	}
}

// WithLockTimeout bounds how long Save and Load wait for the directory lock.
func WithLockTimeout(d time.Duration) Option {
	return func(idx *Index) {
		if d > 0 {
			idx.lockTimeout = d
		}
	}
}

// New creates an empty index. dir is where Save and Load keep the file pair;
// an empty dir makes the index memory-only and Save/Load no-ops.
func New(dir string, opts ...Option) *Index {
	idx := &Index{
		slots:       make(map[string]int),
		dir:         dir,
		lockTimeout: defaultLockTimeout,
		log:         logger.GetDefault(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

var _ Store = (*Index)(nil)

// Dir returns the persistence directory.
func (idx *Index) Dir() string {
	return idx.dir
}

// Add implements Store.
func (idx *Index) Add(ctx context.Context, id string, vec []float32) bool {
	log := logger.FromContextOr(ctx, idx.log)
	if id == "" {
		log.Warn("vector index: rejecting add with empty id")
		return false
	}
	norm, ok := NormalizeL2(vec)
	if !ok {
		log.WithField(logger.FieldArtifactID, id).Warn("vector index: rejecting empty or zero-norm vector")
		return false
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.slots[id]; exists {
		return true
	}
	if idx.dim == 0 {
		idx.dim = len(norm)
	} else if len(norm) != idx.dim {
		log.WithFields(logger.Fields{
			logger.FieldArtifactID: id,
			"got_dim":              len(norm),
			"index_dim":            idx.dim,
		}).Warn("vector index: rejecting vector with mismatched dimension")
		return false
	}

	idx.slots[id] = len(idx.ids)
	idx.ids = append(idx.ids, id)
	idx.vectors = append(idx.vectors, norm...)
	return true
}

// Search implements Store. An empty index, an empty query or k <= 0 yields no hits and no error.
func (idx *Index) Search(ctx context.Context, query []float32, k int, excludeID string) ([]Hit, error) {
	if k <= 0 || len(query) == 0 {
		return []Hit{}, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.ids) == 0 {
		return []Hit{}, nil
	}
	if len(query) != idx.dim {
		return nil, ErrDimensionMismatch
	}
	q, ok := NormalizeL2(query)
	if !ok {
		logger.FromContextOr(ctx, idx.log).Debug("vector index: zero-norm query, no hits")
		return []Hit{}, nil
	}

	type scored struct {
		slot int
		sim  float64
	}
	all := make([]scored, len(idx.ids))
	for slot := range idx.ids {
		all[slot] = scored{slot: slot, sim: clampSimilarity(Dot(q, idx.vectorAt(slot)))}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].sim > all[j].sim
	})

	want := k
	if excludeID != "" {
		want = k + 1
	}
	if want > len(all) {
		want = len(all)
	}

	hits := make([]Hit, 0, k)
	for _, s := range all[:want] {
		id := idx.ids[s.slot]
		if excludeID != "" && id == excludeID {
			continue
		}
		hits = append(hits, Hit{ID: id, Similarity: s.sim})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Contains implements Store.
func (idx *Index) Contains(_ context.Context, id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.slots[id]
	return ok
}

// Size implements Store.
func (idx *Index) Size(_ context.Context) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.ids)
}

// Dimension implements Store.
func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dim
}

// Clear drops every entry and forgets the dimension. Files on disk are untouched until the next Save.
func (idx *Index) Clear(_ context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.resetLocked()
	return nil
}

// IDs returns artifact ids in slot order.
func (idx *Index) IDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, len(idx.ids))
	copy(out, idx.ids)
	return out
}

func (idx *Index) vectorAt(slot int) []float32 {
	start := slot * idx.dim
	return idx.vectors[start : start+idx.dim]
}

func (idx *Index) resetLocked() {
	idx.dim = 0
	idx.ids = nil
	idx.slots = make(map[string]int)
	idx.vectors = nil
}
