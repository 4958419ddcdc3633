package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/storydedup/internal/domain"
	"github.com/timmy/storydedup/internal/logger"
)

func TestIndexRebuilder_Rebuild(t *testing.T) {
	ctx := context.Background()
	reg := newFakeRegistry()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, reg.Append(ctx, &domain.DedupRecord{ArtifactID: id, Signature: domain.Signature(id)}))
	}
	idx := testIndex()
	require.True(t, idx.Add(ctx, "stale", []float32{1, 1, 1}))

	emb := &fakeEmbedder{vectors: map[string][]float32{"text b": {0, 1, 0}}}
	items := []RebuildItem{
		{ArtifactID: "a", Vector: []float32{1, 0, 0}},
		{ArtifactID: "b", Text: "text b"},
		{ArtifactID: "c", Text: "embedder has nothing"},
		{ArtifactID: "d", Vector: []float32{1, 0}},
		{ArtifactID: "unknown", Vector: []float32{0, 0, 1}},
	}

	stats, err := NewIndexRebuilder(idx, reg, emb, 2, logger.Discard()).Rebuild(ctx, items)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 2, stats.Indexed)
	assert.Equal(t, 1, stats.NoVector)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 1, stats.Unknown)

	assert.Equal(t, []string{"a", "b"}, idx.IDs())
	assert.False(t, idx.Contains(ctx, "stale"))
	assert.False(t, idx.Contains(ctx, "unknown"))

	assert.True(t, reg.indexed["a"])
	assert.True(t, reg.indexed["b"])
	assert.False(t, reg.indexed["c"])
	assert.False(t, reg.indexed["d"])
}

func TestIndexRebuilder_ResetsRecordsMissingFromInput(t *testing.T) {
	ctx := context.Background()
	reg := newFakeRegistry()
	idx := testIndex()
	for _, id := range []string{"a", "e"} {
		require.NoError(t, reg.Append(ctx, &domain.DedupRecord{ArtifactID: id, Signature: domain.Signature(id), EmbeddingIndexed: true}))
	}
	require.True(t, idx.Add(ctx, "a", []float32{1, 0}))
	require.True(t, idx.Add(ctx, "e", []float32{0, 1}))

	stats, err := NewIndexRebuilder(idx, reg, nil, 1, logger.Discard()).
		Rebuild(ctx, []RebuildItem{{ArtifactID: "a", Vector: []float32{1, 0}}})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Indexed)
	assert.Equal(t, 1, stats.Dropped)
	assert.False(t, idx.Contains(ctx, "e"))
	assert.False(t, reg.indexed["e"])
	assert.True(t, reg.indexed["a"])
}

func TestIndexRebuilder_Reannotate(t *testing.T) {
	ctx := context.Background()
	reg := newFakeRegistry()
	high := domain.SignalHigh
	require.NoError(t, reg.Append(ctx, &domain.DedupRecord{ArtifactID: "a", Signature: "sa"}))
	require.NoError(t, reg.Append(ctx, &domain.DedupRecord{ArtifactID: "b", Signature: "sb"}))
	require.NoError(t, reg.Append(ctx, &domain.DedupRecord{
		ArtifactID: "c", Signature: "sa", Signal: &high, NearestArtifactID: "a",
	}))

	items := []RebuildItem{
		{ArtifactID: "a", Vector: []float32{1, 0}},
		{ArtifactID: "b", Vector: []float32{0.8, 0.6}},
		{ArtifactID: "c", Vector: []float32{0, 1}},
	}
	stats, err := NewIndexRebuilder(testIndex(), reg, nil, 1, logger.Discard()).
		WithReannotation(DefaultThresholds()).
		Rebuild(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Indexed)
	// the first artifact has nothing before it to compare against
	assert.Equal(t, 2, stats.Reannotated)

	a, _ := reg.GetByArtifactID(ctx, "a")
	assert.Nil(t, a.SimilarityScore)

	b, _ := reg.GetByArtifactID(ctx, "b")
	require.NotNil(t, b.SimilarityScore)
	assert.InDelta(t, 0.8, *b.SimilarityScore, 1e-6)
	assert.Equal(t, domain.SignalMedium, *b.Signal)
	assert.Equal(t, "a", b.NearestArtifactID)

	// c keeps its stronger signature-match evidence but gets the fresh score
	c, _ := reg.GetByArtifactID(ctx, "c")
	require.NotNil(t, c.SimilarityScore)
	assert.InDelta(t, 0.6, *c.SimilarityScore, 1e-6)
	assert.Equal(t, domain.SignalHigh, *c.Signal)
	assert.Equal(t, "a", c.NearestArtifactID)
}
