package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the dedup engine. Typed errors below wrap them so callers can use errors.Is.
var (
	// ErrConfiguration indicates thresholds or weights could not be parsed or are out of range.
	// It is fatal at startup, never per call.
	ErrConfiguration = errors.New("invalid dedup configuration")

	// ErrCollaboratorUnavailable indicates the embedder or registry failed.
	// The session degrades instead of returning it.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrDuplicateDetected is returned only in strict mode when the final signal is HIGH.
	ErrDuplicateDetected = errors.New("duplicate detected")

	// ErrPersistenceInconsistency indicates a commit where the registry and the vector index disagree.
	ErrPersistenceInconsistency = errors.New("persistence inconsistency")
)

// ConfigurationError describes a single bad configuration value.
type ConfigurationError struct {
	Key    string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config %s=%q: %s", e.Key, e.Value, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// DuplicateDetectedError carries the evidence behind a strict-mode abort.
type DuplicateDetectedError struct {
	Signature         Signature
	MatchedArtifactID string
	CanonicalMatch    bool
	Score             float64
	Signal            Signal
}

func (e *DuplicateDetectedError) Error() string {
	via := "semantic"
	if e.CanonicalMatch {
		via = "signature"
	}
	return fmt.Sprintf("duplicate detected via %s match (signature=%s, matched=%s, score=%.3f, signal=%s)",
		via, e.Signature.Short(), e.MatchedArtifactID, e.Score, e.Signal)
}

func (e *DuplicateDetectedError) Unwrap() error { return ErrDuplicateDetected }

// Commit stages reported by PersistenceInconsistencyError.
const (
	CommitStageRegistry    = "registry"
	CommitStageVectorIndex = "vector_index"
	CommitStageIndexSave   = "index_save"
)

// PersistenceInconsistencyError reports which commit stage failed after earlier stages succeeded.
type PersistenceInconsistencyError struct {
	ArtifactID string
	Stage      string
	Err        error
}

func (e *PersistenceInconsistencyError) Error() string {
	return fmt.Sprintf("partial commit for %s: %s stage failed: %v", e.ArtifactID, e.Stage, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *PersistenceInconsistencyError) Unwrap() []error {
	return []error{ErrPersistenceInconsistency, e.Err}
}

// CollaboratorError wraps an embedder or registry failure that was recovered locally.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() []error {
	return []error{ErrCollaboratorUnavailable, e.Err}
}
