package service

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/storydedup/internal/domain"
)

func TestComputeHybridScore(t *testing.T) {
	score, err := ComputeHybridScore(1.0, 0.5, Weights{Canonical: 0.3, Semantic: 0.7})
	require.NoError(t, err)
	assert.InDelta(t, 0.65, score, 1e-9)
}

func TestComputeHybridScore_NormalizesWeights(t *testing.T) {
	a, err := ComputeHybridScore(1.0, 0.5, Weights{Canonical: 3, Semantic: 7})
	require.NoError(t, err)
	assert.InDelta(t, 0.65, a, 1e-9)

	b, err := ComputeHybridScore(0.2, 0.9, Weights{Canonical: 1, Semantic: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.55, b, 1e-9)
}

func TestComputeHybridScore_ZeroWeightsUseDefaults(t *testing.T) {
	score, err := ComputeHybridScore(1.0, 0.5, Weights{})
	require.NoError(t, err)
	assert.InDelta(t, 0.65, score, 1e-9)
}

func TestComputeHybridScore_NegativeWeight(t *testing.T) {
	_, err := ComputeHybridScore(1.0, 0.5, Weights{Canonical: -0.1, Semantic: 0.7})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "HYBRID_CANONICAL_WEIGHT", cfgErr.Key)
}

func TestComputeHybridScore_NonFiniteWeight(t *testing.T) {
	_, err := ComputeHybridScore(1.0, 0.5, Weights{Canonical: 0.3, Semantic: math.Inf(1)})
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "HYBRID_SEMANTIC_WEIGHT", cfgErr.Key)

	_, err = NewHybridScorer(Weights{Canonical: math.NaN(), Semantic: 0.7}, DefaultThresholds(), 0.85)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestComputeHybridScore_ClampsInputs(t *testing.T) {
	score, err := ComputeHybridScore(2.0, -1.0, DefaultWeights())
	require.NoError(t, err)
	assert.InDelta(t, 0.3, score, 1e-9)
}

func TestHybridScorer_CanonicalMatchIsAlwaysHigh(t *testing.T) {
	scorer, err := NewHybridScorer(Weights{Canonical: 0.01, Semantic: 0.99}, DefaultThresholds(), DefaultDuplicateThreshold)
	require.NoError(t, err)

	for _, sim := range []float64{0, 0.3, 0.9} {
		res := scorer.Score(true, sim)
		assert.Equal(t, domain.SignalHigh, res.Signal)
		assert.True(t, res.IsDuplicate)
		assert.True(t, res.CanonicalMatch)
	}
}

func TestHybridScorer_Bands(t *testing.T) {
	scorer, err := NewHybridScorer(DefaultWeights(), DefaultThresholds(), DefaultDuplicateThreshold)
	require.NoError(t, err)

	low := scorer.Score(false, 0.5)
	assert.InDelta(t, 0.35, low.Score, 1e-9)
	assert.Equal(t, domain.SignalLow, low.Signal)
	assert.False(t, low.IsDuplicate)

	// semantic-only weights reproduce the semantic bands
	semOnly, err := NewHybridScorer(Weights{Semantic: 1}, DefaultThresholds(), DefaultDuplicateThreshold)
	require.NoError(t, err)
	res := semOnly.Score(false, 0.9)
	assert.Equal(t, domain.SignalHigh, res.Signal)
	assert.True(t, res.IsDuplicate)
	res = semOnly.Score(false, 0.75)
	assert.Equal(t, domain.SignalMedium, res.Signal)
	assert.False(t, res.IsDuplicate)
}

func TestHybridScorer_LowDuplicateThresholdRaisesHigh(t *testing.T) {
	scorer, err := NewHybridScorer(DefaultWeights(), DefaultThresholds(), 0.5)
	require.NoError(t, err)

	res := scorer.Score(false, 0.8)
	assert.InDelta(t, 0.56, res.Score, 1e-9)
	assert.True(t, res.IsDuplicate)
	assert.Equal(t, domain.SignalHigh, res.Signal)

	res = scorer.Score(false, 0.6)
	assert.False(t, res.IsDuplicate)
	assert.Equal(t, domain.SignalLow, res.Signal)
}

func TestNewHybridScorer_Validation(t *testing.T) {
	_, err := NewHybridScorer(Weights{Semantic: -1}, DefaultThresholds(), 0.85)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = NewHybridScorer(DefaultWeights(), DefaultThresholds(), 1.5)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	scorer, err := NewHybridScorer(Weights{Canonical: 2, Semantic: 2}, DefaultThresholds(), 0.85)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, scorer.Weights().Canonical, 1e-9)
	assert.InDelta(t, 0.5, scorer.Weights().Semantic, 1e-9)
}
