package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned by Download and Stat when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo is what Stat reports about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStorage is the bucket a vector index snapshot is pushed to and pulled from.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download returns the object body. The caller closes it.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	Stat(ctx context.Context, key string) (*ObjectInfo, error)
}
