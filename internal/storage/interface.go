package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by Stat and Download when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Blobs are content-addressed, so a key always maps to the same bytes.
const immutableCacheControl = "public, max-age=31536000, immutable"

// ObjectInfo is the metadata returned by a head request.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// ObjectStorage defines the interface for object storage operations
type ObjectStorage interface {
	// Upload uploads an object to storage
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download downloads an object from storage
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Stat returns object metadata, or ErrObjectNotFound
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// GetURL returns the URL for accessing an object
	GetURL(key string) string

	// Delete deletes an object from storage
	Delete(ctx context.Context, key string) error

	// EnsureBucket creates the bucket when the backend allows it
	EnsureBucket(ctx context.Context) error
}
