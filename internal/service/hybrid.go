package service

import (
	"math"
	"strconv"

	"github.com/timmy/storydedup/internal/domain"
)

// DefaultDuplicateThreshold is the blended score at or above which a candidate is a duplicate.
const DefaultDuplicateThreshold = 0.85

// Weights are the relative importance of exact-match and semantic evidence.
// They need not sum to 1.
type Weights struct {
	Canonical float64
	Semantic  float64
}

// DefaultWeights returns 0.3 canonical / 0.7 semantic.
func DefaultWeights() Weights {
	return Weights{Canonical: 0.3, Semantic: 0.7}
}

// Normalized rescales the weights to sum to 1. Both zero falls back to the defaults;
// a negative weight is a configuration error.
func (w Weights) Normalized() (Weights, error) {
	if err := checkWeight("HYBRID_CANONICAL_WEIGHT", w.Canonical); err != nil {
		return Weights{}, err
	}
	if err := checkWeight("HYBRID_SEMANTIC_WEIGHT", w.Semantic); err != nil {
		return Weights{}, err
	}
	sum := w.Canonical + w.Semantic
	if sum == 0 {
		return DefaultWeights(), nil
	}
	return Weights{Canonical: w.Canonical / sum, Semantic: w.Semantic / sum}, nil
}

func checkWeight(key string, v float64) error {
	switch {
	case math.IsNaN(v), math.IsInf(v, 0):
		return &domain.ConfigurationError{Key: key, Value: formatScore(v), Reason: "must be a finite number"}
	case v < 0:
		return &domain.ConfigurationError{Key: key, Value: formatScore(v), Reason: "must not be negative"}
	}
	return nil
}

// ComputeHybridScore blends the two scores with re-normalized weights.
// Scores are clamped to [0,1] first.
func ComputeHybridScore(canonicalScore, semanticScore float64, w Weights) (float64, error) {
	n, err := w.Normalized()
	if err != nil {
		return 0, err
	}
	return blend(n, canonicalScore, semanticScore), nil
}

func blend(n Weights, canonicalScore, semanticScore float64) float64 {
	return n.Canonical*clampUnit(canonicalScore) + n.Semantic*clampUnit(semanticScore)
}

func clampUnit(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// HybridResult is the blended decision.
type HybridResult struct {
	Score          float64       `json:"score" yaml:"score"`
	Signal         domain.Signal `json:"signal" yaml:"signal"`
	IsDuplicate    bool          `json:"is_duplicate" yaml:"is_duplicate"`
	CanonicalMatch bool          `json:"canonical_match" yaml:"canonical_match"`
}

// HybridScorer combines an exact signature match with semantic similarity.
type HybridScorer struct {
	weights            Weights // normalized
	thresholds         Thresholds
	duplicateThreshold float64
}

// NewHybridScorer validates and normalizes the weights once.
func NewHybridScorer(w Weights, thresholds Thresholds, duplicateThreshold float64) (*HybridScorer, error) {
	n, err := w.Normalized()
	if err != nil {
		return nil, err
	}
	if duplicateThreshold < 0 || duplicateThreshold > 1 || math.IsNaN(duplicateThreshold) {
		return nil, &domain.ConfigurationError{Key: "HYBRID_DUPLICATE_THRESHOLD", Value: formatScore(duplicateThreshold), Reason: "must be between 0.0 and 1.0"}
	}
	return &HybridScorer{weights: n, thresholds: thresholds, duplicateThreshold: duplicateThreshold}, nil
}

// Weights returns the normalized weights in use.
func (s *HybridScorer) Weights() Weights {
	return s.weights
}

// Score blends the evidence. A canonical match always yields HIGH and a duplicate,
// whatever the semantic similarity. A blended score at or above the duplicate threshold
// is HIGH even when that threshold sits below the HIGH band.
func (s *HybridScorer) Score(canonicalMatch bool, semanticSimilarity float64) HybridResult {
	canonical := 0.0
	if canonicalMatch {
		canonical = 1.0
	}
	score := blend(s.weights, canonical, semanticSimilarity)

	if canonicalMatch {
		return HybridResult{Score: score, Signal: domain.SignalHigh, IsDuplicate: true, CanonicalMatch: true}
	}
	res := HybridResult{
		Score:       score,
		Signal:      s.thresholds.Classify(score),
		IsDuplicate: score >= s.duplicateThreshold,
	}
	if res.IsDuplicate {
		res.Signal = domain.SignalHigh
	}
	return res
}
