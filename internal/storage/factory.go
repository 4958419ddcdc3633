package storage

import (
	"strings"

	"github.com/timmy/storydedup/internal/config"
	"github.com/timmy/storydedup/internal/domain"
)

// NewStorage creates an ObjectStorage for index snapshots from the snapshot configuration.
// It returns a ConfigurationError when no bucket is configured.
func NewStorage(cfg *config.SnapshotConfig) (ObjectStorage, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, &domain.ConfigurationError{Key: "SNAPSHOT_BUCKET", Reason: "snapshot bucket is not configured"}
	}

	storeType := StorageType(strings.ToLower(cfg.Type))
	if storeType == "" {
		storeType = detectStorageType(cfg.Endpoint)
	}
	switch storeType {
	case StorageTypeR2, StorageTypeS3, StorageTypeS3Compatible:
	default:
		return nil, &domain.ConfigurationError{Key: "SNAPSHOT_TYPE", Value: cfg.Type, Reason: "must be r2, s3 or s3compatible"}
	}

	return NewS3Storage(&S3Config{
		Type:      storeType,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
	})
}

// detectStorageType attempts to detect the storage type from the endpoint
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case endpoint == "" || strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
