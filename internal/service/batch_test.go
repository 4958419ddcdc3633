package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/storydedup/internal/domain"
	"github.com/timmy/storydedup/internal/logger"
)

func TestBatchChecker_Run(t *testing.T) {
	ctx := context.Background()
	reg := newFakeRegistry()
	idx := testIndex()
	session := newTestSession(t, reg, idx, defaultSessionConfig)
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"ghost ship": {0, 1, 0},
	}}

	other := lighthouseKey()
	other.Setting = "ghost ship"

	items := []BatchItem{
		{Candidate: Candidate{ArtifactID: "s1", Key: lighthouseKey(), Vector: []float32{1, 0, 0}}},
		{Candidate: Candidate{ArtifactID: "s2", Key: lighthouseKey(), Vector: []float32{0, 0, 1}}},
		{Candidate: Candidate{ArtifactID: "s3", Key: other}, Text: "ghost ship"},
		{Candidate: Candidate{ArtifactID: "s4", Key: domain.CanonicalKey{Setting: "attic"}}, Text: "no vector for this"},
	}

	report, err := NewBatchChecker(session, emb, 2, logger.Discard()).Run(ctx, items)
	require.NoError(t, err)
	require.Len(t, report.Items, 4)
	assert.NotEmpty(t, report.BatchID)

	for i, item := range report.Items {
		assert.Equal(t, i, item.Index)
		require.NotNil(t, item.Result)
	}
	assert.Equal(t, domain.OutcomeUnique, report.Items[0].Result.Outcome)
	assert.Equal(t, domain.OutcomeDuplicateWarned, report.Items[1].Result.Outcome)
	assert.Equal(t, "s1", report.Items[1].Result.MatchedArtifactID)
	assert.Equal(t, domain.OutcomeUnique, report.Items[2].Result.Outcome)
	assert.True(t, report.Items[3].Result.Degraded)

	stats := report.Stats
	assert.EqualValues(t, 4, stats.Total)
	assert.EqualValues(t, 3, stats.Unique)
	assert.EqualValues(t, 1, stats.Warned)
	assert.EqualValues(t, 1, stats.Embedded)
	assert.EqualValues(t, 1, stats.Degraded)
	assert.Zero(t, stats.Failed)
	assert.True(t, idx.Contains(ctx, "s3"))
	assert.False(t, idx.Contains(ctx, "s4"))
}

func TestBatchChecker_StrictAbortsStayPerItem(t *testing.T) {
	reg := newFakeRegistry()
	cfg := defaultSessionConfig
	cfg.StrictMode = true
	session := newTestSession(t, reg, testIndex(), cfg)

	items := []BatchItem{
		{Candidate: Candidate{ArtifactID: "s1", Key: lighthouseKey()}},
		{Candidate: Candidate{ArtifactID: "s2", Key: lighthouseKey()}},
	}
	report, err := NewBatchChecker(session, nil, 0, logger.Discard()).Run(context.Background(), items)
	require.NoError(t, err)

	assert.NoError(t, report.Items[0].Err)
	assert.ErrorIs(t, report.Items[1].Err, domain.ErrDuplicateDetected)
	assert.NotEmpty(t, report.Items[1].Error)
	assert.EqualValues(t, 1, report.Stats.Aborted)
	assert.Zero(t, report.Stats.Failed)
	assert.Equal(t, 1, reg.count())
}

func TestBatchChecker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	session := newTestSession(t, newFakeRegistry(), testIndex(), defaultSessionConfig)

	_, err := NewBatchChecker(session, nil, 1, logger.Discard()).Run(ctx, []BatchItem{{Candidate: Candidate{Key: lighthouseKey()}}})
	assert.ErrorIs(t, err, context.Canceled)
}
