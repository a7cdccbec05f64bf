package service

import (
	"context"
	"errors"
	"testing"

	"github.com/timmy/supaarchive/internal/config"
	"github.com/timmy/supaarchive/internal/domain"
	"github.com/timmy/supaarchive/internal/repository"
)

func newRepairFixture() (*RepairService, *memArtworks, *memBlobs, *memVectors, *memTranslations) {
	artworks, blobs, vectors, translations := newMemArtworks(), newMemBlobs(), newMemVectors(), newMemTranslations()
	svc := NewRepairService(artworks, blobs, vectors, translations, &config.RepairConfig{
		MinBlobSize:          2000,
		DisallowedExtensions: []string{".webm", "mp4"},
		BatchSize:            2,
	})
	return svc, artworks, blobs, vectors, translations
}

func withBlob(artworks *memArtworks, blobs *memBlobs, id string, size int, ext string) {
	a := domain.NewArtwork(id, nil, domain.SourceMetadata{}, 1)
	a.BlobRef, _ = blobs.Put(context.Background(), id, make([]byte, size), ext)
	artworks.put(a)
}

func TestRemoveBrokenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, artworks, blobs, vectors, translations := newRepairFixture()

	withBlob(artworks, blobs, "good", 3000, "png")
	withBlob(artworks, blobs, "small", 100, "png")
	withBlob(artworks, blobs, "flaky", 3000, "png")
	blobs.headErr["flaky.png"] = errors.New("connection reset")

	gone := domain.NewArtwork("gone", nil, domain.SourceMetadata{}, 1)
	gone.BlobRef = "gone.png"
	gone.Embedding = []float32{1}
	artworks.put(gone)
	vectors.Upsert(ctx, repository.PointID("gone"), []float32{1}, &repository.ArtworkPayload{ImageID: "gone"})
	translations.Upsert(ctx, []domain.Translation{{ID: "gone", Title: "t"}})

	artworks.put(domain.NewArtwork("placeholder", nil, domain.SourceMetadata{}, 1))

	first, err := svc.RemoveBroken(ctx)
	if err != nil {
		t.Fatalf("RemoveBroken() error = %v", err)
	}
	if first.Scanned != 5 || first.Deleted != 3 || first.Retained != 1 {
		t.Errorf("first run = %+v", first)
	}
	for _, id := range []string{"small", "gone", "placeholder"} {
		if _, err := artworks.GetByID(ctx, id); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("%s should be deleted", id)
		}
	}
	if vectors.len() != 0 {
		t.Error("vector point of a removed artwork should be deleted")
	}
	if n, _ := translations.Count(ctx); n != 0 {
		t.Error("translation of a removed artwork should be deleted")
	}

	second, err := svc.RemoveBroken(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second.Deleted != 0 || second.Scanned != 2 {
		t.Errorf("second run = %+v, want no deletions", second)
	}
}

func TestRemoveDisallowedMedia(t *testing.T) {
	ctx := context.Background()
	svc, artworks, blobs, _, _ := newRepairFixture()

	withBlob(artworks, blobs, "a", 5000, "webm")
	withBlob(artworks, blobs, "b", 5000, "png")
	withBlob(artworks, blobs, "c", 5000, "mp4")
	withBlob(artworks, blobs, "d", 5000, "jpg")

	stats, err := svc.RemoveDisallowedMedia(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Deleted != 2 || artworks.count() != 2 {
		t.Errorf("stats = %+v, remaining %d", stats, artworks.count())
	}
	if _, err := blobs.Head(ctx, "a.webm"); err == nil {
		t.Error("disallowed blob should be removed from storage")
	}

	again, _ := svc.RemoveDisallowedMedia(ctx)
	if again.Deleted != 0 {
		t.Errorf("second run deleted %d", again.Deleted)
	}
}
