package service

import (
	"context"
	"time"

	"github.com/timmy/supaarchive/internal/domain"
	"github.com/timmy/supaarchive/internal/repository"
	"github.com/timmy/supaarchive/internal/source"
	"github.com/timmy/supaarchive/internal/storage"
)

// ArtworkStore is the authoritative content store.
type ArtworkStore interface {
	GetByID(ctx context.Context, id string) (*domain.Artwork, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Artwork, error)
	CreateIfAbsent(ctx context.Context, artwork *domain.Artwork) (bool, error)
	UpdateMerged(ctx context.Context, artwork *domain.Artwork) (bool, error)
	SetBlob(ctx context.Context, id, blobRef string, width, height int) error
	SetEmbedding(ctx context.Context, id string, embedding []float32) error
	ExistsBySetPage(ctx context.Context, sourceSetID int64, pageNo int) (bool, error)
	ExistsBySet(ctx context.Context, sourceSetID int64) (bool, error)
	ExistsByExternalID(ctx context.Context, externalID int64) (bool, error)
	ListBySourceSet(ctx context.Context, sourceSetID int64, limit int) ([]domain.Artwork, error)
	SetMemberIDs(ctx context.Context, sourceSetID int64) ([]string, error)
	ScanAfter(ctx context.Context, afterID string, limit int) ([]domain.Artwork, error)
	ScanMissingEmbedding(ctx context.Context, afterID string, limit int) ([]domain.Artwork, error)
	ScanByBlobSuffix(ctx context.Context, suffixes []string, afterID string, limit int) ([]domain.Artwork, error)
	ListLatestPrimary(ctx context.Context, offset, limit int) ([]domain.Artwork, int64, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context, topN int) (*domain.Stats, error)
}

// TranslationStore keeps translated overlays keyed by artwork id.
type TranslationStore interface {
	Upsert(ctx context.Context, translations []domain.Translation) error
	GetByID(ctx context.Context, id string) (*domain.Translation, error)
	Count(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id string) error
}

// VectorIndex is the similarity index, one point per artwork.
type VectorIndex interface {
	Upsert(ctx context.Context, pointID string, vector []float32, payload *repository.ArtworkPayload) error
	Search(ctx context.Context, vector []float32, limit int) ([]repository.SearchResult, error)
	Scroll(ctx context.Context, filter repository.TagFilter, limit int, cursor string) ([]repository.SearchResult, string, error)
	Delete(ctx context.Context, pointID string) error
}

// BlobStore holds artwork payloads under content-addressed references.
type BlobStore interface {
	Put(ctx context.Context, hash string, data []byte, ext string) (string, error)
	Head(ctx context.Context, ref string) (*storage.ObjectInfo, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	URL(ref string) string
	Delete(ctx context.Context, ref string) error
}

// Embedder computes an image+tag embedding. Normalization is the caller's job.
type Embedder interface {
	Embed(ctx context.Context, image []byte, text string) ([]float32, error)
}

// Translator translates free text into a target language.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// ItemFetcher downloads the payload announced by a source item.
type ItemFetcher interface {
	Fetch(ctx context.Context, item source.Item) ([]byte, error)
}

// TaskQueue schedules pipeline stages as background jobs.
type TaskQueue interface {
	EnqueueIngestItem(ctx context.Context, sourceName string, item source.Item) error
	// EnqueueIndexEmbedding reports false when an index job for the artwork
	// is already pending.
	EnqueueIndexEmbedding(ctx context.Context, artworkID string, delay time.Duration) (bool, error)
}

// RunStore records pull-source ingest runs.
type RunStore interface {
	Create(ctx context.Context, run *domain.IngestRun) error
	Save(ctx context.Context, run *domain.IngestRun) error
}
