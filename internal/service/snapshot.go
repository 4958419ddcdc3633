package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"github.com/timmy/storydedup/internal/logger"
	"github.com/timmy/storydedup/internal/storage"
	"github.com/timmy/storydedup/internal/vectorindex"
)

const (
	vectorsContentType = "application/octet-stream"
	metaContentType    = "application/json"
)

// SnapshotIndex is an index whose persisted pair can be moved as a unit.
type SnapshotIndex interface {
	Export(ctx context.Context) (metaJSON, vectors []byte, err error)
	Import(ctx context.Context, metaJSON, vectors []byte) error
}

// SnapshotInfo describes a pushed or pulled snapshot.
type SnapshotInfo struct {
	MetaKey    string `json:"meta_key" yaml:"meta_key"`
	VectorsKey string `json:"vectors_key" yaml:"vectors_key"`
	Count      int    `json:"count" yaml:"count"`
	Dim        int    `json:"dim" yaml:"dim"`
	SavedAt    string `json:"saved_at" yaml:"saved_at"`
}

// SnapshotService copies the local index file pair to and from object storage.
// The sidecar is uploaded after the vectors and read before them, so a reader
// never sees a sidecar whose blob is missing.
type SnapshotService struct {
	store  storage.ObjectStorage
	prefix string
	logger *logger.Logger
}

// NewSnapshotService creates a snapshot service writing under prefix.
func NewSnapshotService(store storage.ObjectStorage, prefix string, log *logger.Logger) *SnapshotService {
	if log == nil {
		log = logger.GetDefault()
	}
	return &SnapshotService{store: store, prefix: prefix, logger: log}
}

func (s *SnapshotService) keys() (metaKey, vectorsKey string) {
	return path.Join(s.prefix, vectorindex.MetaFile), path.Join(s.prefix, vectorindex.VectorsFile)
}

// Push saves idx and uploads its pair.
func (s *SnapshotService) Push(ctx context.Context, idx SnapshotIndex) (*SnapshotInfo, error) {
	metaJSON, vectors, err := idx.Export(ctx)
	if err != nil {
		return nil, fmt.Errorf("export index: %w", err)
	}
	info, err := describe(metaJSON)
	if err != nil {
		return nil, err
	}
	info.MetaKey, info.VectorsKey = s.keys()

	if err := s.store.Upload(ctx, info.VectorsKey, bytes.NewReader(vectors), int64(len(vectors)), vectorsContentType); err != nil {
		return nil, err
	}
	if err := s.store.Upload(ctx, info.MetaKey, bytes.NewReader(metaJSON), int64(len(metaJSON)), metaContentType); err != nil {
		return nil, err
	}

	logger.FromContextOr(ctx, s.logger).WithFields(logger.Fields{
		logger.FieldComponent: "snapshot",
		logger.FieldCount:     info.Count,
		"key":                 info.MetaKey,
	}).Info("Index snapshot pushed")
	return info, nil
}

// Pull downloads the pair and installs it into idx. The blob size is checked against
// the sidecar before the blob is downloaded. A pair that fails validation is rejected
// and idx keeps its current contents.
func (s *SnapshotService) Pull(ctx context.Context, idx SnapshotIndex) (*SnapshotInfo, error) {
	metaKey, vectorsKey := s.keys()

	metaJSON, err := s.fetch(ctx, metaKey)
	if err != nil {
		return nil, err
	}
	info, err := describe(metaJSON)
	if err != nil {
		return nil, err
	}
	info.MetaKey, info.VectorsKey = metaKey, vectorsKey

	obj, err := s.store.Stat(ctx, vectorsKey)
	if err != nil {
		return nil, err
	}
	if want := int64(info.Count) * int64(info.Dim) * 4; obj.Size != want {
		return nil, fmt.Errorf("%w: snapshot %s is %d bytes, sidecar expects %d",
			vectorindex.ErrIndexCorrupt, vectorsKey, obj.Size, want)
	}

	vectors, err := s.fetch(ctx, vectorsKey)
	if err != nil {
		return nil, err
	}
	if err := idx.Import(ctx, metaJSON, vectors); err != nil {
		return nil, fmt.Errorf("import snapshot: %w", err)
	}

	logger.FromContextOr(ctx, s.logger).WithFields(logger.Fields{
		logger.FieldComponent: "snapshot",
		logger.FieldCount:     info.Count,
		"key":                 metaKey,
	}).Info("Index snapshot pulled")
	return info, nil
}

func (s *SnapshotService) fetch(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.store.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func describe(metaJSON []byte) (*SnapshotInfo, error) {
	var meta vectorindex.Meta
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, fmt.Errorf("%w: invalid metadata JSON: %v", vectorindex.ErrIndexCorrupt, err)
	}
	return &SnapshotInfo{Count: meta.Count, Dim: meta.Dim, SavedAt: meta.SavedAt}, nil
}
