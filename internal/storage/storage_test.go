package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

type memoryStorage struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryStorage) Upload(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memoryStorage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStorage) Stat(_ context.Context, key string) (*ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return &ObjectInfo{Key: key, Size: int64(len(data)), ContentType: m.types[key]}, nil
}

func (m *memoryStorage) GetURL(key string) string { return "https://cdn.example/" + key }

func (m *memoryStorage) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memoryStorage) EnsureBucket(context.Context) error { return nil }

func TestBlobKey(t *testing.T) {
	tests := []struct {
		hash, ext, want string
	}{
		{"abc", "png", "abc.png"},
		{"abc", ".JPG", "abc.jpg"},
		{"abc", "", "abc"},
	}
	for _, tt := range tests {
		if got := BlobKey(tt.hash, tt.ext); got != tt.want {
			t.Errorf("BlobKey(%q, %q) = %q, want %q", tt.hash, tt.ext, got, tt.want)
		}
	}
}

func TestBlobStorePutHeadGet(t *testing.T) {
	ctx := context.Background()
	backend := newMemoryStorage()
	store := NewBlobStore(backend)

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 100)...)
	ref, err := store.Put(ctx, "hash", png, "png")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if ref != "hash.png" {
		t.Errorf("ref = %q, want hash.png", ref)
	}
	if backend.types[ref] != "image/png" {
		t.Errorf("content type = %q, want image/png", backend.types[ref])
	}

	info, err := store.Head(ctx, ref)
	if err != nil || info.Size != int64(len(png)) {
		t.Errorf("Head() = %+v, %v", info, err)
	}
	if _, err := store.Head(ctx, "missing.png"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Head(missing) error = %v, want ErrObjectNotFound", err)
	}

	data, err := store.Get(ctx, ref)
	if err != nil || !bytes.Equal(data, png) {
		t.Errorf("Get() mismatch, err = %v", err)
	}
	if got := store.URL(ref); got != "https://cdn.example/hash.png" {
		t.Errorf("URL() = %q", got)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := map[string]string{
		"https://account.r2.cloudflarestorage.com/bucket": "account.r2.cloudflarestorage.com",
		"http://localhost:9000/":                          "localhost:9000",
		"s3.amazonaws.com":                                "s3.amazonaws.com",
	}
	for in, want := range tests {
		if got := normalizeEndpoint(in); got != want {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDetectStorageType(t *testing.T) {
	tests := map[string]StorageType{
		"https://abc.r2.cloudflarestorage.com": StorageTypeR2,
		"s3.us-east-1.amazonaws.com":           StorageTypeS3,
		"localhost:9000":                       StorageTypeMinIO,
		"http://minio.internal":                StorageTypeMinIO,
		"storage.example.com":                  StorageTypeS3Compatible,
	}
	for endpoint, want := range tests {
		if got := detectStorageType(endpoint); got != want {
			t.Errorf("detectStorageType(%q) = %q, want %q", endpoint, got, want)
		}
	}
}
