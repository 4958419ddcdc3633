package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/timmy/storydedup/internal/domain"
	"github.com/timmy/storydedup/internal/logger"
	"github.com/timmy/storydedup/internal/vectorindex"
)

// RebuildRegistry is what the rebuilder needs from the artifact registry.
type RebuildRegistry interface {
	ExistsByArtifactID(ctx context.Context, artifactID string) (bool, error)
	MarkIndexed(ctx context.Context, artifactID string, indexed bool) error
	// ClearIndexed resets the embedding-indexed flag on every record.
	ClearIndexed(ctx context.Context) (int64, error)
}

// similarityAnnotator is implemented by registries whose records can take refreshed
// similarity annotations.
type similarityAnnotator interface {
	GetByArtifactID(ctx context.Context, artifactID string) (*domain.DedupRecord, error)
	UpdateSimilarity(ctx context.Context, artifactID string, score float64, signal domain.Signal, nearestID string) error
}

// RebuildItem is an accepted artifact to put back in the index.
type RebuildItem struct {
	ArtifactID string
	Text       string
	Vector     []float32
}

// RebuildStats summarizes a rebuild.
type RebuildStats struct {
	Total    int `json:"total" yaml:"total"`
	Indexed  int `json:"indexed" yaml:"indexed"`
	Unknown  int `json:"unknown" yaml:"unknown"`
	NoVector int `json:"no_vector" yaml:"no_vector"`
	Rejected int `json:"rejected" yaml:"rejected"`
	// Dropped is how many fewer records are flagged indexed than before the rebuild.
	Dropped int `json:"dropped" yaml:"dropped"`
	// Reannotated counts records whose similarity annotations were refreshed.
	Reannotated int           `json:"reannotated" yaml:"reannotated"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
}

// IndexRebuilder repopulates a vector index from artifacts the registry already accepted.
type IndexRebuilder struct {
	index    vectorindex.Store
	registry RebuildRegistry
	embedder TextEmbedder
	workers  int
	logger   *logger.Logger
	checker  *SemanticChecker // non-nil when re-annotating
}

// NewIndexRebuilder creates a rebuilder. embedder may be nil when items carry vectors.
func NewIndexRebuilder(index vectorindex.Store, registry RebuildRegistry, embedder TextEmbedder, workers int, log *logger.Logger) *IndexRebuilder {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &IndexRebuilder{index: index, registry: registry, embedder: embedder, workers: workers, logger: log}
}

// WithReannotation makes Rebuild refresh each record's last-known similarity while
// re-adding it, scored against the artifacts re-added before it.
func (r *IndexRebuilder) WithReannotation(thresholds Thresholds) *IndexRebuilder {
	r.checker = NewSemanticChecker(r.index, thresholds, r.logger)
	return r
}

// Rebuild clears the index, re-adds every item the registry knows, and saves.
// Items unknown to the registry are skipped so the index never holds unaccepted artifacts.
func (r *IndexRebuilder) Rebuild(ctx context.Context, items []RebuildItem) (*RebuildStats, error) {
	start := time.Now()
	log := logger.FromContextOr(ctx, r.logger).WithField(logger.FieldComponent, "rebuild")
	stats := &RebuildStats{Total: len(items)}

	known := make([]bool, len(items))
	for i, item := range items {
		ok, err := r.registry.ExistsByArtifactID(ctx, item.ArtifactID)
		if err != nil {
			return nil, fmt.Errorf("registry lookup for %s: %w", item.ArtifactID, err)
		}
		known[i] = ok
	}

	vectors := make([][]float32, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range items {
		i := i
		if !known[i] {
			continue
		}
		if len(items[i].Vector) > 0 {
			vectors[i] = items[i].Vector
			continue
		}
		g.Go(func() error {
			vectors[i] = EmbedOrNil(gctx, r.embedder, items[i].Text)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Flags go first: a failure between the two steps leaves records unflagged, never
	// flagged without a vector.
	wasIndexed, err := r.registry.ClearIndexed(ctx)
	if err != nil {
		return nil, fmt.Errorf("reset embedding_indexed: %w", err)
	}
	if err := r.index.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clear index: %w", err)
	}

	for i, item := range items {
		itemLog := log.WithField(logger.FieldArtifactID, item.ArtifactID)
		if !known[i] {
			stats.Unknown++
			itemLog.Warn("Skipping artifact unknown to registry")
			continue
		}
		if len(vectors[i]) == 0 {
			stats.NoVector++
			r.markIndexed(ctx, itemLog, item.ArtifactID, false)
			continue
		}

		var semantic SemanticResult
		if r.checker != nil {
			semantic = r.checker.Check(ctx, vectors[i], item.ArtifactID)
		}
		if !r.index.Add(ctx, item.ArtifactID, vectors[i]) {
			stats.Rejected++
			r.markIndexed(ctx, itemLog, item.ArtifactID, false)
			continue
		}
		stats.Indexed++
		r.markIndexed(ctx, itemLog, item.ArtifactID, true)

		if r.checker != nil && semantic.Skipped == "" {
			ok, err := r.reannotate(ctx, item.ArtifactID, semantic)
			if err != nil {
				itemLog.WithError(err).Warn("Could not refresh similarity annotations")
			} else if ok {
				stats.Reannotated++
			}
		}
	}

	if dropped := int(wasIndexed) - stats.Indexed; dropped > 0 {
		stats.Dropped = dropped
		log.WithField("dropped", dropped).Warn("Some previously indexed records were not re-added")
	}

	if err := r.index.Save(ctx); err != nil {
		return stats, fmt.Errorf("save rebuilt index: %w", err)
	}

	stats.Duration = time.Since(start)
	log.WithFields(logger.Fields{
		logger.FieldCount: stats.Indexed,
		"unknown":         stats.Unknown,
		"no_vector":       stats.NoVector,
		"rejected":        stats.Rejected,
		"dropped":         stats.Dropped,
		"reannotated":     stats.Reannotated,
	}).Info("Vector index rebuilt")
	return stats, nil
}

func (r *IndexRebuilder) markIndexed(ctx context.Context, log *logger.Logger, artifactID string, indexed bool) {
	if err := r.registry.MarkIndexed(ctx, artifactID, indexed); err != nil {
		log.WithError(err).Warn("Could not update embedding_indexed")
	}
}

// reannotate stores the new score. The signal and nearest id are replaced only when the
// new signal ranks at least as high as the stored one.
func (r *IndexRebuilder) reannotate(ctx context.Context, artifactID string, semantic SemanticResult) (bool, error) {
	ann, ok := r.registry.(similarityAnnotator)
	if !ok {
		return false, nil
	}
	rec, err := ann.GetByArtifactID(ctx, artifactID)
	if err != nil {
		return false, err
	}

	signal, nearest := semantic.Signal, semantic.NearestID
	if rec != nil && rec.Signal != nil && rec.Signal.Rank() > semantic.Signal.Rank() {
		signal, nearest = *rec.Signal, rec.NearestArtifactID
	}
	if err := ann.UpdateSimilarity(ctx, artifactID, semantic.Similarity, signal, nearest); err != nil {
		return false, err
	}
	return true, nil
}
