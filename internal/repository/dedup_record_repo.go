package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/timmy/storydedup/internal/domain"
)

// DedupRecordRepository is the artifact registry backed by gorm.
type DedupRecordRepository struct {
	db *gorm.DB
}

// NewDedupRecordRepository creates a new DedupRecordRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *DedupRecordRepository: repository instance bound to db.
func NewDedupRecordRepository(db *gorm.DB) *DedupRecordRepository {
	return &DedupRecordRepository{db: db}
}

// FindBySignature returns the earliest accepted record with the given signature,
// skipping the record of excludeArtifactID so a resubmitted artifact never matches itself.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sig: artifact signature.
//   - excludeArtifactID: artifact id to ignore, may be empty.
//
// Returns:
//   - *domain.DedupRecord: matching record, or nil when none exists.
//   - error: non-nil if the lookup fails.
func (r *DedupRecordRepository) FindBySignature(ctx context.Context, sig domain.Signature, excludeArtifactID string) (*domain.DedupRecord, error) {
	var rec domain.DedupRecord
	query := r.db.WithContext(ctx).Where("signature = ?", sig)
	if excludeArtifactID != "" {
		query = query.Where("artifact_id <> ?", excludeArtifactID)
	}
	err := query.Order("created_at ASC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find record by signature: %w", err)
	}
	return &rec, nil
}

// Append inserts a newly accepted record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rec: record to persist; CreatedAt is filled when zero.
//
// Returns:
//   - error: non-nil if the insert fails, including a duplicate artifact id.
func (r *DedupRecordRepository) Append(ctx context.Context, rec *domain.DedupRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to append record %s: %w", rec.ArtifactID, err)
	}
	return nil
}

// GetByArtifactID retrieves a record by artifact id.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - artifactID: artifact id.
//
// Returns:
//   - *domain.DedupRecord: record if found, nil otherwise.
//   - error: non-nil if lookup fails.
func (r *DedupRecordRepository) GetByArtifactID(ctx context.Context, artifactID string) (*domain.DedupRecord, error) {
	var rec domain.DedupRecord
	err := r.db.WithContext(ctx).First(&rec, "artifact_id = ?", artifactID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ExistsByArtifactID checks if a record exists for the artifact id.
func (r *DedupRecordRepository) ExistsByArtifactID(ctx context.Context, artifactID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.DedupRecord{}).
		Where("artifact_id = ?", artifactID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateSimilarity rewrites the similarity annotations of an existing record.
// These are the only columns that change after a record is created.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - artifactID: artifact id.
//   - score: latest similarity score.
//   - signal: latest signal.
//   - nearestID: nearest neighbour, may be empty.
//
// Returns:
//   - error: gorm.ErrRecordNotFound when the record is missing.
func (r *DedupRecordRepository) UpdateSimilarity(ctx context.Context, artifactID string, score float64, signal domain.Signal, nearestID string) error {
	res := r.db.WithContext(ctx).Model(&domain.DedupRecord{}).
		Where("artifact_id = ?", artifactID).
		Updates(map[string]interface{}{
			"similarity_score":    score,
			"signal":              signal,
			"nearest_artifact_id": nearestID,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update similarity for %s: %w", artifactID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("record %s: %w", artifactID, gorm.ErrRecordNotFound)
	}
	return nil
}

// MarkIndexed sets the embedding-indexed flag after a rebuild put the vector back in the index.
func (r *DedupRecordRepository) MarkIndexed(ctx context.Context, artifactID string, indexed bool) error {
	return r.db.WithContext(ctx).Model(&domain.DedupRecord{}).
		Where("artifact_id = ?", artifactID).
		Update("embedding_indexed", indexed).Error
}

// ClearIndexed resets the embedding-indexed flag on every record and returns how many
// records were flagged. Rebuild calls it before emptying the vector index.
func (r *DedupRecordRepository) ClearIndexed(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Model(&domain.DedupRecord{}).
		Where("embedding_indexed = ?", true).
		Update("embedding_indexed", false)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Count returns the number of accepted records.
func (r *DedupRecordRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.DedupRecord{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CountIndexed returns the number of records whose embedding is in the vector index.
func (r *DedupRecordRepository) CountIndexed(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.DedupRecord{}).
		Where("embedding_indexed = ?", true).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// SignalCount is one row of CountBySignal.
type SignalCount struct {
	Signal *string
	Count  int64
}

// Label returns the signal name, or "UNSCORED" for records without one.
func (c SignalCount) Label() string {
	if c.Signal == nil || *c.Signal == "" {
		return "UNSCORED"
	}
	return *c.Signal
}

// CountBySignal groups records by their last-known signal. Records never scored have a nil Signal.
func (r *DedupRecordRepository) CountBySignal(ctx context.Context) ([]SignalCount, error) {
	var rows []SignalCount
	if err := r.db.WithContext(ctx).Model(&domain.DedupRecord{}).
		Select("signal, count(*) as count").
		Group("signal").
		Order("signal").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count by signal: %w", err)
	}
	return rows, nil
}

// ListSince retrieves records created at or after since, oldest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - since: lower bound on created_at; zero lists everything.
//   - limit: maximum number of records to return.
//   - offset: number of records to skip.
//
// Returns:
//   - []domain.DedupRecord: matching records.
//   - error: non-nil if the query fails.
func (r *DedupRecordRepository) ListSince(ctx context.Context, since time.Time, limit, offset int) ([]domain.DedupRecord, error) {
	var recs []domain.DedupRecord
	if err := r.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at ASC").
		Order("artifact_id ASC").
		Limit(limit).
		Offset(offset).
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
