package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/timmy/supaarchive/internal/domain"
	"github.com/timmy/supaarchive/internal/logger"
	"github.com/timmy/supaarchive/internal/repository"
)

// IndexerService computes embeddings and mirrors them into the vector index.
type IndexerService struct {
	artworks  ArtworkStore
	blobs     BlobStore
	embedder  Embedder
	vectors   VectorIndex
	tasks     TaskQueue
	batchSize int
}

// NewIndexerService creates a new indexer.
func NewIndexerService(artworks ArtworkStore, blobs BlobStore, embedder Embedder, vectors VectorIndex, tasks TaskQueue, batchSize int) *IndexerService {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &IndexerService{
		artworks:  artworks,
		blobs:     blobs,
		embedder:  embedder,
		vectors:   vectors,
		tasks:     tasks,
		batchSize: batchSize,
	}
}

// IndexEmbedding embeds one artwork and upserts its vector point.
// Re-running replaces the point, since the point id is derived from the artwork id.
// Returns:
//   - error: domain.ErrNotFound if the record is gone, domain.ErrInferenceFailure
//     if the blob cannot be read or the model fails.
func (s *IndexerService) IndexEmbedding(ctx context.Context, id string) error {
	ctx = logger.SetArtworkID(ctx, id)

	artwork, err := s.artworks.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !artwork.HasBlob() {
		return fmt.Errorf("%w: blob for %s not uploaded yet", domain.ErrInferenceFailure, id)
	}

	image, err := s.blobs.Get(ctx, artwork.BlobRef)
	if err != nil {
		return fmt.Errorf("%w: failed to fetch blob %s: %v", domain.ErrInferenceFailure, artwork.BlobRef, err)
	}

	raw, err := s.embedder.Embed(ctx, image, strings.Join(artwork.Tags, ", "))
	if err != nil {
		if errors.Is(err, domain.ErrInferenceFailure) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrInferenceFailure, err)
	}
	vector, err := Normalize(raw)
	if err != nil {
		return err
	}

	if err := s.artworks.SetEmbedding(ctx, id, vector); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}

	payload := &repository.ArtworkPayload{
		ImageID: artwork.ID,
		Tags:    artwork.Tags,
		Title:   artwork.Title,
		AddedAt: artwork.AddedAt,
	}
	if m, ok := artwork.Membership().(domain.SetMember); ok {
		page := m.PageNo
		payload.PageNo = &page
	}
	if err := s.vectors.Upsert(ctx, repository.PointID(id), vector, payload); err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}

	logger.CtxDebug(ctx, "Artwork indexed")
	return nil
}

// Normalize scales a vector to unit length.
func Normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if len(v) == 0 || sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("%w: degenerate embedding", domain.ErrInferenceFailure)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// BackfillMissingEmbeddings enqueues one indexing job per record lacking an embedding.
// Returns the number of jobs enqueued; records whose job is still pending are
// not counted.
func (s *IndexerService) BackfillMissingEmbeddings(ctx context.Context) (int, error) {
	enqueued, pending := 0, 0
	after := ""
	for {
		batch, err := s.artworks.ScanMissingEmbedding(ctx, after, s.batchSize)
		if err != nil {
			return enqueued, fmt.Errorf("failed to scan artworks: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, a := range batch {
			if !a.HasBlob() {
				continue
			}
			ok, err := s.tasks.EnqueueIndexEmbedding(ctx, a.ID, 0)
			if err != nil {
				return enqueued, fmt.Errorf("failed to enqueue %s: %w", a.ID, err)
			}
			if ok {
				enqueued++
			} else {
				pending++
			}
		}
		after = batch[len(batch)-1].ID
	}

	logger.With(logger.Fields{
		logger.FieldCount: enqueued,
		"pending":         pending,
	}).Info(ctx, "Backfill enqueued")
	return enqueued, nil
}
