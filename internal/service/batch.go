package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/timmy/storydedup/internal/domain"
	"github.com/timmy/storydedup/internal/logger"
)

// BatchItem is one candidate in a batch. Text is embedded when Candidate.Vector is empty.
type BatchItem struct {
	Candidate Candidate
	Text      string
}

// BatchItemResult pairs an item's position with its outcome.
type BatchItemResult struct {
	Index  int     `json:"index" yaml:"index"`
	Result *Result `json:"result,omitempty" yaml:"result,omitempty"`
	Err    error   `json:"-" yaml:"-"`
	Error  string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// BatchStats holds statistics for a batch run
type BatchStats struct {
	Total     int64     `json:"total" yaml:"total"`
	Unique    int64     `json:"unique" yaml:"unique"`
	Warned    int64     `json:"warned" yaml:"warned"`
	Aborted   int64     `json:"aborted" yaml:"aborted"`
	Failed    int64     `json:"failed" yaml:"failed"`
	Degraded  int64     `json:"degraded" yaml:"degraded"`
	Embedded  int64     `json:"embedded" yaml:"embedded"`
	StartTime time.Time `json:"start_time" yaml:"start_time"`
	EndTime   time.Time `json:"end_time" yaml:"end_time"`
}

// BatchReport is the outcome of BatchChecker.Run.
type BatchReport struct {
	BatchID string            `json:"batch_id" yaml:"batch_id"`
	Items   []BatchItemResult `json:"items" yaml:"items"`
	Stats   BatchStats        `json:"stats" yaml:"stats"`
}

// BatchChecker embeds candidates concurrently and evaluates them in input order,
// so earlier items win when two items in the same batch collide.
type BatchChecker struct {
	session  *DedupSession
	embedder TextEmbedder
	workers  int
	logger   *logger.Logger
}

// NewBatchChecker creates a batch checker. embedder may be nil when every item carries a vector.
func NewBatchChecker(session *DedupSession, embedder TextEmbedder, workers int, log *logger.Logger) *BatchChecker {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &BatchChecker{session: session, embedder: embedder, workers: workers, logger: log}
}

// Run never aborts on a per-item error; each error stays with its item.
// It returns an error only when ctx is cancelled.
func (b *BatchChecker) Run(ctx context.Context, items []BatchItem) (*BatchReport, error) {
	report := &BatchReport{
		BatchID: uuid.New().String(),
		Items:   make([]BatchItemResult, len(items)),
		Stats:   BatchStats{Total: int64(len(items)), StartTime: time.Now()},
	}
	ctx = logger.WithField(ctx, logger.FieldBatchID, report.BatchID)
	log := logger.FromContextOr(ctx, b.logger)
	log.WithFields(logger.Fields{
		logger.FieldCount: len(items),
		"workers":         b.workers,
	}).Info("Starting batch check")

	vectors := make([][]float32, len(items))
	var embedded atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i := range items {
		i := i
		if len(items[i].Candidate.Vector) > 0 {
			vectors[i] = items[i].Candidate.Vector
			continue
		}
		if b.embedder == nil || items[i].Text == "" {
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if vec := EmbedOrNil(gctx, b.embedder, items[i].Text); vec != nil {
				vectors[i] = vec
				embedded.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.Stats.Embedded = embedded.Load()

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := item.Candidate
		c.Vector = vectors[i]

		res, err := b.session.Evaluate(ctx, c)
		out := BatchItemResult{Index: i, Result: res, Err: err}
		if err != nil {
			out.Error = err.Error()
		}
		report.Items[i] = out
		b.tally(&report.Stats, res, err)
	}

	report.Stats.EndTime = time.Now()
	log.WithFields(logger.Fields{
		"unique":               report.Stats.Unique,
		"warned":               report.Stats.Warned,
		"aborted":              report.Stats.Aborted,
		"failed":               report.Stats.Failed,
		logger.FieldDurationMs: report.Stats.EndTime.Sub(report.Stats.StartTime).Milliseconds(),
	}).Info("Batch check completed")
	return report, nil
}

func (b *BatchChecker) tally(stats *BatchStats, res *Result, err error) {
	if res == nil {
		stats.Failed++
		return
	}
	if res.Degraded {
		stats.Degraded++
	}
	switch res.Outcome {
	case domain.OutcomeUnique:
		stats.Unique++
	case domain.OutcomeDuplicateWarned:
		stats.Warned++
	case domain.OutcomeDuplicateAborted:
		stats.Aborted++
	}
	if err != nil && !errors.Is(err, domain.ErrDuplicateDetected) {
		stats.Failed++
	}
}
