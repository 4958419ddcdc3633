package service

import (
	"context"
	"errors"
	"sync"

	"github.com/timmy/storydedup/internal/domain"
	"github.com/timmy/storydedup/internal/logger"
	"github.com/timmy/storydedup/internal/vectorindex"
)

type fakeRegistry struct {
	mu        sync.Mutex
	records   []*domain.DedupRecord
	findErr   error
	appendErr error
	indexed   map[string]bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{indexed: map[string]bool{}}
}

func (r *fakeRegistry) FindBySignature(_ context.Context, sig domain.Signature, excludeID string) (*domain.DedupRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, rec := range r.records {
		if rec.Signature == sig && (excludeID == "" || rec.ArtifactID != excludeID) {
			return rec, nil
		}
	}
	return nil, nil
}

func (r *fakeRegistry) Append(_ context.Context, rec *domain.DedupRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	r.records = append(r.records, rec)
	r.indexed[rec.ArtifactID] = rec.EmbeddingIndexed
	return nil
}

func (r *fakeRegistry) ExistsByArtifactID(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ArtifactID == id {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRegistry) GetByArtifactID(_ context.Context, id string) (*domain.DedupRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ArtifactID == id {
			return rec, nil
		}
	}
	return nil, nil
}

func (r *fakeRegistry) UpdateSimilarity(_ context.Context, id string, score float64, signal domain.Signal, nearestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ArtifactID == id {
			rec.SimilarityScore = &score
			rec.Signal = &signal
			rec.NearestArtifactID = nearestID
			return nil
		}
	}
	return errors.New("record not found")
}

func (r *fakeRegistry) MarkIndexed(_ context.Context, id string, indexed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed[id] = indexed
	return nil
}

func (r *fakeRegistry) ClearIndexed(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, indexed := range r.indexed {
		if indexed {
			r.indexed[id] = false
			n++
		}
	}
	return n, nil
}

func (r *fakeRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// faultyIndex wraps a real index and injects failures.
type faultyIndex struct {
	vectorindex.Store
	searchErr error
	rejectAdd bool
	saveErr   error
	saves     int
}

func (f *faultyIndex) Search(ctx context.Context, q []float32, k int, exclude string) ([]vectorindex.Hit, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.Store.Search(ctx, q, k, exclude)
}

func (f *faultyIndex) Add(ctx context.Context, id string, vec []float32) bool {
	if f.rejectAdd {
		return false
	}
	return f.Store.Add(ctx, id, vec)
}

func (f *faultyIndex) Save(ctx context.Context) error {
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.Store.Save(ctx)
}

type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	vec, ok := e.vectors[text]
	if !ok {
		return nil, errors.New("unknown text")
	}
	return vec, nil
}

func testIndex() *vectorindex.Index {
	return vectorindex.New("", vectorindex.WithLogger(logger.Discard()))
}
