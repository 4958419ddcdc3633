package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalKeyFromMap(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]string
		want CanonicalKey
	}{
		{
			name: "canonical names",
			in:   map[string]string{"setting": "apartment", "twist": "reveal"},
			want: CanonicalKey{Setting: "apartment", Twist: "reveal"},
		},
		{
			name: "aliases collapse",
			in:   map[string]string{"setting_archetype": "apartment", "fear": "isolation", "threat_mechanism": "haunting"},
			want: CanonicalKey{Setting: "apartment", PrimaryFear: "isolation", Mechanism: "haunting"},
		},
		{
			name: "canonical wins over alias",
			in:   map[string]string{"setting_archetype": "house", "setting": "apartment"},
			want: CanonicalKey{Setting: "apartment"},
		},
		{
			name: "smallest alias wins when no canonical name",
			in:   map[string]string{"twist_type": "b", "twist_archetype": "a"},
			want: CanonicalKey{Twist: "a"},
		},
		{
			name: "unknown dimensions dropped",
			in:   map[string]string{"tone": "bleak", "Antagonist ": "ghost"},
			want: CanonicalKey{Antagonist: "ghost"},
		},
		{
			name: "nil map",
			in:   nil,
			want: CanonicalKey{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanonicalKeyFromMap(tc.in))
		})
	}
}

func TestCanonicalKey_Dimensions(t *testing.T) {
	dims := CanonicalKey{Setting: "  apartment "}.Dimensions()
	assert.Len(t, dims, 5)
	assert.Equal(t, "apartment", dims[DimensionSetting])
	assert.Equal(t, "", dims[DimensionTwist])
	assert.True(t, CanonicalKey{Twist: "  "}.IsEmpty())
}

func TestOutcomeAction(t *testing.T) {
	assert.Equal(t, ActionNone, OutcomeUnique.Action())
	assert.Equal(t, ActionWarn, OutcomeDuplicateWarned.Action())
	assert.Equal(t, ActionAbort, OutcomeDuplicateAborted.Action())
	assert.Greater(t, SignalHigh.Rank(), SignalMedium.Rank())
	assert.Greater(t, SignalMedium.Rank(), SignalLow.Rank())
}

func TestTypedErrorsUnwrap(t *testing.T) {
	cause := errors.New("disk full")

	assert.ErrorIs(t, &ConfigurationError{Key: "k", Reason: "bad"}, ErrConfiguration)
	assert.ErrorIs(t, &DuplicateDetectedError{Signal: SignalHigh}, ErrDuplicateDetected)

	pe := &PersistenceInconsistencyError{ArtifactID: "a", Stage: CommitStageVectorIndex, Err: cause}
	assert.ErrorIs(t, pe, ErrPersistenceInconsistency)
	assert.ErrorIs(t, pe, cause)

	ce := &CollaboratorError{Collaborator: "embedder", Err: cause}
	assert.ErrorIs(t, ce, ErrCollaboratorUnavailable)
	assert.Contains(t, ce.Error(), "embedder unavailable")
}
