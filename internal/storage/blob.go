package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// BlobStore keeps artwork payloads under content-addressed keys of the form
// "<sha256>.<ext>".
type BlobStore struct {
	backend ObjectStorage
}

// NewBlobStore wraps an object storage backend.
func NewBlobStore(backend ObjectStorage) *BlobStore {
	return &BlobStore{backend: backend}
}

// BlobKey returns the storage key for a payload hash and extension.
func BlobKey(hash, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		return hash
	}
	return hash + "." + ext
}

// Put uploads a payload and returns its blob reference.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - hash: SHA-256 hex of data.
//   - data: payload bytes.
//   - ext: file extension without the dot.
// Returns:
//   - string: blob reference to store on the record.
//   - error: non-nil if the upload fails.
func (b *BlobStore) Put(ctx context.Context, hash string, data []byte, ext string) (string, error) {
	key := BlobKey(hash, ext)
	if err := b.backend.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), http.DetectContentType(data)); err != nil {
		return "", err
	}
	return key, nil
}

// Head returns the stored size of a blob, or ErrObjectNotFound.
func (b *BlobStore) Head(ctx context.Context, ref string) (*ObjectInfo, error) {
	return b.backend.Stat(ctx, ref)
}

// Get downloads a blob fully into memory.
func (b *BlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	rc, err := b.backend.Download(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", ref, err)
	}
	return data, nil
}

// URL returns the public URL of a blob.
func (b *BlobStore) URL(ref string) string {
	return b.backend.GetURL(ref)
}

// Delete removes a blob.
func (b *BlobStore) Delete(ctx context.Context, ref string) error {
	return b.backend.Delete(ctx, ref)
}
