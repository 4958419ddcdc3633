package domain

import "time"

// DedupRecord is the persisted trace of an accepted artifact.
// Records are created on acceptance and only their similarity annotations change afterwards.
type DedupRecord struct {
	ArtifactID        string    `gorm:"type:text;primaryKey" json:"artifact_id"`
	Signature         Signature `gorm:"type:text;not null;index:idx_dedup_records_signature" json:"signature"`
	EmbeddingIndexed  bool      `gorm:"default:false" json:"embedding_indexed"`
	SimilarityScore   *float64  `json:"similarity_score,omitempty"`
	Signal            *Signal   `gorm:"type:text" json:"signal,omitempty"`
	NearestArtifactID string    `gorm:"type:text" json:"nearest_artifact_id,omitempty"`
	CreatedAt         time.Time `gorm:"index:idx_dedup_records_created" json:"created_at"`
}

// TableName returns the database table name for DedupRecord.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (DedupRecord) TableName() string {
	return "dedup_records"
}

// Signature is a 64-character lowercase hex SHA-256 digest over a canonical key and its provenance.
type Signature string

// String returns the hex digest.
func (s Signature) String() string {
	return string(s)
}

// Short returns the first 12 hex characters for log lines.
func (s Signature) Short() string {
	if len(s) <= 12 {
		return string(s)
	}
	return string(s[:12])
}
