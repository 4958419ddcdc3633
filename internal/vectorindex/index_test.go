package vectorindex

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/storydedup/internal/logger"
)

func newTestIndex(dir string) *Index {
	return New(dir, WithLogger(logger.Discard()))
}

func TestAdd_RejectsEmptyAndZeroVectors(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex("")

	assert.False(t, idx.Add(ctx, "a", nil))
	assert.False(t, idx.Add(ctx, "a", []float32{}))
	assert.False(t, idx.Add(ctx, "a", []float32{0, 0, 0}))
	assert.False(t, idx.Add(ctx, "", []float32{1, 0}))
	assert.Equal(t, 0, idx.Size(ctx))
	assert.Equal(t, 0, idx.Dimension())
}

func TestAdd_IdempotentForKnownID(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex("")

	require.True(t, idx.Add(ctx, "a", []float32{1, 0}))
	assert.True(t, idx.Add(ctx, "a", []float32{0, 1}))
	assert.Equal(t, 1, idx.Size(ctx))

	hits, err := idx.Search(ctx, []float32{1, 0}, 1, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6, "first vector kept")
}

func TestAdd_DimensionFixedOnFirstAdd(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex("")

	require.True(t, idx.Add(ctx, "a", []float32{1, 0, 0}))
	assert.Equal(t, 3, idx.Dimension())
	assert.False(t, idx.Add(ctx, "b", []float32{1, 0}))
	assert.False(t, idx.Add(ctx, "c", []float32{1, 0, 0, 0}))
	assert.Equal(t, 1, idx.Size(ctx))
	assert.False(t, idx.Contains(ctx, "b"))

	_, err := idx.Search(ctx, []float32{1, 0}, 1, "")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSearch_EmptyIndex(t *testing.T) {
	hits, err := newTestIndex("").Search(context.Background(), []float32{1, 0, 0, 0}, 5, "")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_ExactMatch(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex("")
	require.True(t, idx.Add(ctx, "A", []float32{1, 0, 0, 0}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 1, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "A", hits[0].ID)
	assert.Equal(t, 1.0, hits[0].Similarity)
}

func TestSearch_NormalizesMagnitude(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex("")
	require.True(t, idx.Add(ctx, "big", []float32{10, 0}))
	require.True(t, idx.Add(ctx, "diag", []float32{1, 1}))

	hits, err := idx.Search(ctx, []float32{0.5, 0}, 2, "")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "big", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.InDelta(t, 0.70710678, hits[1].Similarity, 1e-5)
}

func TestSearch_ExcludesSelfAndRespectsK(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex("")
	require.True(t, idx.Add(ctx, "self", []float32{1, 0}))
	require.True(t, idx.Add(ctx, "near", []float32{0.9, 0.1}))
	require.True(t, idx.Add(ctx, "far", []float32{0, 1}))

	hits, err := idx.Search(ctx, []float32{1, 0}, 1, "self")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "near", hits[0].ID)

	hits, err = idx.Search(ctx, []float32{1, 0}, 10, "self")
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = idx.Search(ctx, []float32{1, 0}, 0, "")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_TiesBrokenBySlot(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex("")
	require.True(t, idx.Add(ctx, "first", []float32{0, 1}))
	require.True(t, idx.Add(ctx, "second", []float32{0, 2}))

	hits, err := idx.Search(ctx, []float32{0, 1}, 2, "")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "first", hits[0].ID)
	assert.Equal(t, "second", hits[1].ID)
}

func TestSearch_Properties(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	idx := newTestIndex("")

	const dim = 8
	randVec := func() []float32 {
		v := make([]float32, dim)
		for i := range v {
			v[i] = rng.Float32()*2 - 1
		}
		return v
	}
	for i := 0; i < 50; i++ {
		require.True(t, idx.Add(ctx, fmt.Sprintf("id-%02d", i), randVec()))
	}

	for trial := 0; trial < 20; trial++ {
		k := 1 + rng.Intn(12)
		exclude := fmt.Sprintf("id-%02d", rng.Intn(50))
		hits, err := idx.Search(ctx, randVec(), k, exclude)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(hits), k)
		for i, h := range hits {
			assert.NotEqual(t, exclude, h.ID)
			if i > 0 {
				assert.GreaterOrEqual(t, hits[i-1].Similarity, h.Similarity)
			}
		}
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex("")
	require.True(t, idx.Add(ctx, "a", []float32{1, 2, 3}))

	require.NoError(t, idx.Clear(ctx))
	assert.Equal(t, 0, idx.Size(ctx))
	assert.Equal(t, 0, idx.Dimension())
	assert.True(t, idx.Add(ctx, "b", []float32{1, 2}), "dimension is re-detected after clear")
}

func TestConcurrentAddAndSearch(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex("")

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				idx.Add(ctx, fmt.Sprintf("w%d-%d", w, i), []float32{float32(w + 1), float32(i + 1)})
				_, err := idx.Search(ctx, []float32{1, 1}, 3, "")
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 200, idx.Size(ctx))
}

func TestCosine(t *testing.T) {
	s, err := Cosine([]float32{1, 0}, []float32{2, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s, 1e-9)

	_, err = Cosine([]float32{1}, []float32{1, 0})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	s, err = Cosine([]float32{0, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, s)
}
