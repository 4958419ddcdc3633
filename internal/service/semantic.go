package service

import (
	"context"

	"github.com/timmy/storydedup/internal/domain"
	"github.com/timmy/storydedup/internal/logger"
	"github.com/timmy/storydedup/internal/vectorindex"
)

// Reasons a semantic check produced no evidence.
const (
	SemanticSkipNoVector     = "no_vector"
	SemanticSkipEmptyIndex   = "empty_index"
	SemanticSkipSearchFailed = "search_failed"
)

// Thresholds are the lower bounds of the MEDIUM and HIGH bands. Each bound is inclusive.
type Thresholds struct {
	Medium float64
	High   float64
}

// DefaultThresholds returns 0.70 / 0.85.
func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 0.70, High: 0.85}
}

// Classify maps a score to a signal.
func (t Thresholds) Classify(score float64) domain.Signal {
	switch {
	case score >= t.High:
		return domain.SignalHigh
	case score >= t.Medium:
		return domain.SignalMedium
	default:
		return domain.SignalLow
	}
}

// SemanticResult is the outcome of a semantic check. The zero-evidence form is
// {0, "", LOW} with Skipped naming why.
type SemanticResult struct {
	Similarity float64       `json:"similarity" yaml:"similarity"`
	NearestID  string        `json:"nearest_id,omitempty" yaml:"nearest_id,omitempty"`
	Signal     domain.Signal `json:"signal" yaml:"signal"`
	Skipped    string        `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// IsDuplicate reports whether the signal is HIGH.
func (r SemanticResult) IsDuplicate() bool {
	return r.Signal == domain.SignalHigh
}

func noEvidence(reason string) SemanticResult {
	return SemanticResult{Similarity: 0, Signal: domain.SignalLow, Skipped: reason}
}

// SemanticChecker scores a candidate vector against its nearest neighbour in the index.
type SemanticChecker struct {
	index      vectorindex.Store
	thresholds Thresholds
	logger     *logger.Logger
}

// NewSemanticChecker creates a checker over index.
func NewSemanticChecker(index vectorindex.Store, thresholds Thresholds, log *logger.Logger) *SemanticChecker {
	if log == nil {
		log = logger.GetDefault()
	}
	return &SemanticChecker{index: index, thresholds: thresholds, logger: log}
}

// Thresholds returns the configured bands.
func (c *SemanticChecker) Thresholds() Thresholds {
	return c.thresholds
}

// Check never fails: an absent vector, an empty index or a search error all
// produce the zero-evidence result.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - vec: candidate embedding, may be nil.
//   - selfID: candidate id excluded from the neighbours, may be empty.
//
// Returns:
//   - SemanticResult: similarity of the nearest neighbour and its signal.
func (c *SemanticChecker) Check(ctx context.Context, vec []float32, selfID string) SemanticResult {
	if len(vec) == 0 {
		return noEvidence(SemanticSkipNoVector)
	}
	if c.index == nil || c.index.Size(ctx) == 0 {
		return noEvidence(SemanticSkipEmptyIndex)
	}

	hits, err := c.index.Search(ctx, vec, 1, selfID)
	if err != nil {
		logger.FromContextOr(ctx, c.logger).WithError(err).
			WithField(logger.FieldArtifactID, selfID).
			Warn("Semantic search failed, treating candidate as unique")
		return noEvidence(SemanticSkipSearchFailed)
	}
	if len(hits) == 0 {
		return noEvidence(SemanticSkipEmptyIndex)
	}

	best := hits[0]
	return SemanticResult{
		Similarity: best.Similarity,
		NearestID:  best.ID,
		Signal:     c.thresholds.Classify(best.Similarity),
	}
}
