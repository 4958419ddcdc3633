package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/timmy/storydedup/internal/config"
	"github.com/timmy/storydedup/internal/domain"
	"github.com/timmy/storydedup/internal/logger"
	"github.com/timmy/storydedup/internal/signature"
	"github.com/timmy/storydedup/internal/vectorindex"
)

// Degradation reasons reported on a Result.
const (
	DegradedRegistryLookup = "registry_lookup_failed"
	DegradedNoEmbedding    = "no_embedding"
	DegradedSearchFailed   = "semantic_search_failed"
)

// Registry is the slice of the artifact registry a session needs.
// FindBySignature ignores the record of excludeArtifactID and returns (nil, nil) when nothing matches.
type Registry interface {
	FindBySignature(ctx context.Context, sig domain.Signature, excludeArtifactID string) (*domain.DedupRecord, error)
	Append(ctx context.Context, rec *domain.DedupRecord) error
}

// indexMarker is implemented by registries that can correct the embedding-indexed flag.
type indexMarker interface {
	MarkIndexed(ctx context.Context, artifactID string, indexed bool) error
}

// SessionConfig holds the switches a session reads on every evaluation.
type SessionConfig struct {
	EnableSignatureDedup bool
	EnableSemanticDedup  bool
	StrictMode           bool
	SaveOnCommit         bool
}

// SessionConfigFrom copies the switches out of the loaded configuration.
func SessionConfigFrom(cfg config.DedupConfig) SessionConfig {
	return SessionConfig{
		EnableSignatureDedup: cfg.EnableSignatureDedup,
		EnableSemanticDedup:  cfg.EnableSemanticDedup,
		StrictMode:           cfg.StrictMode,
		SaveOnCommit:         cfg.SaveOnCommit,
	}
}

// Candidate is an artifact awaiting a dedup decision.
type Candidate struct {
	ArtifactID string
	Key        domain.CanonicalKey
	Provenance []string
	Vector     []float32 // nil when no embedding is available
	Strict     *bool     // nil uses the session default
}

// Result is the full trace of one evaluation.
type Result struct {
	ArtifactID        string           `json:"artifact_id" yaml:"artifact_id"`
	Signature         domain.Signature `json:"signature" yaml:"signature"`
	CanonicalMatch    bool             `json:"canonical_match" yaml:"canonical_match"`
	MatchedArtifactID string           `json:"matched_artifact_id,omitempty" yaml:"matched_artifact_id,omitempty"`
	SemanticScore     float64          `json:"semantic_score" yaml:"semantic_score"`
	NearestArtifactID string           `json:"nearest_artifact_id,omitempty" yaml:"nearest_artifact_id,omitempty"`
	HybridScore       float64          `json:"hybrid_score" yaml:"hybrid_score"`
	Signal            domain.Signal    `json:"signal" yaml:"signal"`
	IsDuplicate       bool             `json:"is_duplicate" yaml:"is_duplicate"`
	Outcome           domain.Outcome   `json:"outcome" yaml:"outcome"`
	Action            domain.Action    `json:"action" yaml:"action"`
	Committed         bool             `json:"committed" yaml:"committed"`
	PartialCommit     bool             `json:"partial_commit,omitempty" yaml:"partial_commit,omitempty"`
	Degraded          bool             `json:"degraded,omitempty" yaml:"degraded,omitempty"`
	DegradedReasons   []string         `json:"degraded_reasons,omitempty" yaml:"degraded_reasons,omitempty"`
}

func (r *Result) degrade(reason string) {
	r.Degraded = true
	r.DegradedReasons = append(r.DegradedReasons, reason)
}

// DedupSession decides whether candidates are duplicates and commits the ones it accepts.
// All state lives in the injected registry and index.
type DedupSession struct {
	registry Registry
	index    vectorindex.Store
	checker  *SemanticChecker
	scorer   *HybridScorer
	cfg      SessionConfig
	logger   *logger.Logger
	now      func() time.Time

	// evalMu makes lookup-then-commit atomic so two identical candidates
	// evaluated concurrently cannot both be accepted as unique.
	evalMu sync.Mutex
}

// NewDedupSession wires a session from explicit collaborators.
func NewDedupSession(registry Registry, index vectorindex.Store, checker *SemanticChecker, scorer *HybridScorer, cfg SessionConfig, log *logger.Logger) (*DedupSession, error) {
	if registry == nil {
		return nil, errors.New("dedup session: registry is required")
	}
	if index == nil {
		return nil, errors.New("dedup session: vector index is required")
	}
	if checker == nil || scorer == nil {
		return nil, errors.New("dedup session: checker and scorer are required")
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &DedupSession{
		registry: registry,
		index:    index,
		checker:  checker,
		scorer:   scorer,
		cfg:      cfg,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// NewDedupSessionFromConfig builds the checker and scorer from configuration.
func NewDedupSessionFromConfig(registry Registry, index vectorindex.Store, cfg config.DedupConfig, log *logger.Logger) (*DedupSession, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	thresholds := Thresholds{Medium: cfg.SimilarityThresholdMedium, High: cfg.SimilarityThresholdHigh}
	scorer, err := NewHybridScorer(
		Weights{Canonical: cfg.HybridCanonicalWeight, Semantic: cfg.HybridSemanticWeight},
		thresholds,
		cfg.HybridDuplicateThreshold,
	)
	if err != nil {
		return nil, err
	}
	checker := NewSemanticChecker(index, thresholds, log)
	return NewDedupSession(registry, index, checker, scorer, SessionConfigFrom(cfg), log)
}

// log returns a logger from context if available, otherwise the session logger
func (s *DedupSession) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

// Evaluate runs the full check for one candidate and commits it unless it was aborted.
//
// The returned error is nil for UNIQUE and DUPLICATE_WARNED outcomes that committed cleanly.
// In strict mode a duplicate returns *domain.DuplicateDetectedError and nothing is committed.
// A commit that stopped half way returns *domain.PersistenceInconsistencyError.
// The Result is populated in every case except context cancellation before any work.
func (s *DedupSession) Evaluate(ctx context.Context, c Candidate) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	if c.ArtifactID == "" {
		c.ArtifactID = uuid.New().String()
	}
	strict := s.cfg.StrictMode
	if c.Strict != nil {
		strict = *c.Strict
	}

	sig := signature.Of(c.Key, c.Provenance)
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldArtifactID: c.ArtifactID,
		logger.FieldSignature:  sig.Short(),
	})

	res := &Result{
		ArtifactID: c.ArtifactID,
		Signature:  sig,
		Outcome:    domain.OutcomePending,
	}

	s.evalMu.Lock()
	defer s.evalMu.Unlock()

	if s.cfg.EnableSignatureDedup {
		s.lookupSignature(ctx, c.ArtifactID, sig, res)
	}

	var semantic SemanticResult
	if s.cfg.EnableSemanticDedup {
		semantic = s.checker.Check(ctx, c.Vector, c.ArtifactID)
		switch semantic.Skipped {
		case SemanticSkipNoVector:
			res.degrade(DegradedNoEmbedding)
		case SemanticSkipSearchFailed:
			res.degrade(DegradedSearchFailed)
		}
	} else {
		semantic = noEvidence("")
	}
	res.SemanticScore = semantic.Similarity
	res.NearestArtifactID = semantic.NearestID

	hybrid := s.scorer.Score(res.CanonicalMatch, semantic.Similarity)
	res.HybridScore = hybrid.Score

	// Final signal is the stronger of the blended band and the semantic band.
	// A duplicate is exactly a HIGH final signal.
	res.Signal = strongest(hybrid.Signal, semantic.Signal)
	res.IsDuplicate = res.Signal == domain.SignalHigh

	var err error
	switch {
	case res.IsDuplicate && strict:
		res.Outcome = domain.OutcomeDuplicateAborted
		err = &domain.DuplicateDetectedError{
			Signature:         sig,
			MatchedArtifactID: res.matchedID(),
			CanonicalMatch:    res.CanonicalMatch,
			Score:             res.HybridScore,
			Signal:            res.Signal,
		}
	case res.IsDuplicate:
		res.Outcome = domain.OutcomeDuplicateWarned
	default:
		res.Outcome = domain.OutcomeUnique
	}
	res.Action = res.Outcome.Action()

	if res.Outcome != domain.OutcomeDuplicateAborted {
		err = s.commit(ctx, c, res, semantic)
	}

	entry := s.log(ctx).WithFields(logger.Fields{
		logger.FieldSignal:     res.Signal,
		logger.FieldOutcome:    res.Outcome,
		logger.FieldSimilarity: res.SemanticScore,
		logger.FieldHybrid:     res.HybridScore,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		"canonical_match":      res.CanonicalMatch,
	})
	switch {
	case err != nil && res.Outcome == domain.OutcomeDuplicateAborted:
		entry.Warn("Duplicate aborted in strict mode")
	case err != nil:
		entry.WithError(err).Error("Dedup commit incomplete")
	case res.IsDuplicate:
		entry.Warn("Duplicate detected")
	default:
		entry.Info("Candidate accepted")
	}
	return res, err
}

func (s *DedupSession) lookupSignature(ctx context.Context, selfID string, sig domain.Signature, res *Result) {
	rec, err := s.registry.FindBySignature(ctx, sig, selfID)
	if err != nil {
		cerr := &domain.CollaboratorError{Collaborator: "registry", Err: err}
		s.log(ctx).WithError(cerr).Warn("Signature lookup failed, continuing without exact match")
		res.degrade(DegradedRegistryLookup)
		return
	}
	if rec != nil && rec.ArtifactID != selfID {
		res.CanonicalMatch = true
		res.MatchedArtifactID = rec.ArtifactID
	}
}

// commit appends the record, then adds the vector, then optionally saves the index.
// Later stages are skipped once one fails.
func (s *DedupSession) commit(ctx context.Context, c Candidate, res *Result, semantic SemanticResult) error {
	signal := res.Signal
	rec := &domain.DedupRecord{
		ArtifactID:        c.ArtifactID,
		Signature:         res.Signature,
		EmbeddingIndexed:  len(c.Vector) > 0,
		Signal:            &signal,
		NearestArtifactID: res.nearestForRecord(),
		CreatedAt:         s.now(),
	}
	if semantic.Skipped == "" && s.cfg.EnableSemanticDedup {
		score := semantic.Similarity
		rec.SimilarityScore = &score
	}

	if err := s.registry.Append(ctx, rec); err != nil {
		return &domain.PersistenceInconsistencyError{
			ArtifactID: c.ArtifactID,
			Stage:      domain.CommitStageRegistry,
			Err:        &domain.CollaboratorError{Collaborator: "registry", Err: err},
		}
	}
	res.Committed = true

	if len(c.Vector) == 0 {
		return nil
	}

	if !s.index.Add(ctx, c.ArtifactID, c.Vector) {
		res.PartialCommit = true
		if marker, ok := s.registry.(indexMarker); ok {
			if err := marker.MarkIndexed(ctx, c.ArtifactID, false); err != nil {
				s.log(ctx).WithError(err).Warn("Could not clear embedding_indexed after failed index add")
			}
		}
		return &domain.PersistenceInconsistencyError{
			ArtifactID: c.ArtifactID,
			Stage:      domain.CommitStageVectorIndex,
			Err:        errors.New("vector rejected by index"),
		}
	}

	if s.cfg.SaveOnCommit {
		if err := s.index.Save(ctx); err != nil {
			res.PartialCommit = true
			return &domain.PersistenceInconsistencyError{
				ArtifactID: c.ArtifactID,
				Stage:      domain.CommitStageIndexSave,
				Err:        err,
			}
		}
	}
	return nil
}

func (r *Result) matchedID() string {
	if r.MatchedArtifactID != "" {
		return r.MatchedArtifactID
	}
	return r.NearestArtifactID
}

func (r *Result) nearestForRecord() string {
	if r.CanonicalMatch {
		return r.MatchedArtifactID
	}
	return r.NearestArtifactID
}

func strongest(a, b domain.Signal) domain.Signal {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}
