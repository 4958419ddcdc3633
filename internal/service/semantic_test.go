package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/storydedup/internal/domain"
	"github.com/timmy/storydedup/internal/logger"
)

func TestThresholds_Classify(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		score float64
		want  domain.Signal
	}{
		{0, domain.SignalLow},
		{0.6999, domain.SignalLow},
		{0.70, domain.SignalMedium},
		{0.8499, domain.SignalMedium},
		{0.85, domain.SignalHigh},
		{1.0, domain.SignalHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, th.Classify(tt.score), "score %v", tt.score)
	}
}

func TestSemanticChecker_EmptyIndex(t *testing.T) {
	checker := NewSemanticChecker(testIndex(), DefaultThresholds(), logger.Discard())

	res := checker.Check(context.Background(), []float32{1, 0, 0, 0}, "")
	assert.Equal(t, 0.0, res.Similarity)
	assert.Empty(t, res.NearestID)
	assert.Equal(t, domain.SignalLow, res.Signal)
	assert.Equal(t, SemanticSkipEmptyIndex, res.Skipped)
	assert.False(t, res.IsDuplicate())
}

func TestSemanticChecker_NoVector(t *testing.T) {
	idx := testIndex()
	require.True(t, idx.Add(context.Background(), "A", []float32{1, 0, 0, 0}))
	checker := NewSemanticChecker(idx, DefaultThresholds(), logger.Discard())

	res := checker.Check(context.Background(), nil, "")
	assert.Equal(t, SemanticSkipNoVector, res.Skipped)
	assert.Equal(t, domain.SignalLow, res.Signal)
}

func TestSemanticChecker_ExactNeighbour(t *testing.T) {
	ctx := context.Background()
	idx := testIndex()
	require.True(t, idx.Add(ctx, "A", []float32{1, 0, 0, 0}))
	require.True(t, idx.Add(ctx, "B", []float32{0, 1, 0, 0}))
	checker := NewSemanticChecker(idx, DefaultThresholds(), logger.Discard())

	res := checker.Check(ctx, []float32{1, 0, 0, 0}, "")
	assert.Equal(t, "A", res.NearestID)
	assert.InDelta(t, 1.0, res.Similarity, 1e-6)
	assert.Equal(t, domain.SignalHigh, res.Signal)
	assert.True(t, res.IsDuplicate())
	assert.Empty(t, res.Skipped)
}

func TestSemanticChecker_ExcludesSelf(t *testing.T) {
	ctx := context.Background()
	idx := testIndex()
	require.True(t, idx.Add(ctx, "A", []float32{1, 0, 0, 0}))
	require.True(t, idx.Add(ctx, "B", []float32{0, 1, 0, 0}))
	checker := NewSemanticChecker(idx, DefaultThresholds(), logger.Discard())

	res := checker.Check(ctx, []float32{1, 0, 0, 0}, "A")
	assert.Equal(t, "B", res.NearestID)
	assert.InDelta(t, 0.0, res.Similarity, 1e-6)
	assert.Equal(t, domain.SignalLow, res.Signal)
}

func TestSemanticChecker_SearchFailure(t *testing.T) {
	ctx := context.Background()
	idx := testIndex()
	require.True(t, idx.Add(ctx, "A", []float32{1, 0, 0, 0}))
	faulty := &faultyIndex{Store: idx, searchErr: errors.New("boom")}
	checker := NewSemanticChecker(faulty, DefaultThresholds(), logger.Discard())

	res := checker.Check(ctx, []float32{1, 0, 0, 0}, "")
	assert.Equal(t, SemanticSkipSearchFailed, res.Skipped)
	assert.Equal(t, domain.SignalLow, res.Signal)
	assert.Zero(t, res.Similarity)
}

func TestSemanticChecker_MediumBand(t *testing.T) {
	ctx := context.Background()
	idx := testIndex()
	require.True(t, idx.Add(ctx, "A", []float32{1, 0}))
	checker := NewSemanticChecker(idx, DefaultThresholds(), logger.Discard())

	// cos = 0.8
	res := checker.Check(ctx, []float32{0.8, 0.6}, "")
	assert.InDelta(t, 0.8, res.Similarity, 1e-6)
	assert.Equal(t, domain.SignalMedium, res.Signal)
	assert.False(t, res.IsDuplicate())
}
