package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/timmy/supaarchive/internal/config"
	"github.com/timmy/supaarchive/internal/domain"
	"github.com/timmy/supaarchive/internal/logger"
	"github.com/timmy/supaarchive/internal/repository"
	"github.com/timmy/supaarchive/internal/storage"
)

// RepairService reconciles the content store against the blob store.
type RepairService struct {
	artworks     ArtworkStore
	blobs        BlobStore
	vectors      VectorIndex
	translations TranslationStore

	minBlobSize int64
	disallowed  []string
	batchSize   int
}

// RepairStats summarises one repair pass.
type RepairStats struct {
	Scanned  int `json:"scanned"`
	Deleted  int `json:"deleted"`
	Retained int `json:"retained"`
}

// NewRepairService creates a new repair service.
func NewRepairService(artworks ArtworkStore, blobs BlobStore, vectors VectorIndex, translations TranslationStore, cfg *config.RepairConfig) *RepairService {
	disallowed := make([]string, 0, len(cfg.DisallowedExtensions))
	for _, ext := range cfg.DisallowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		disallowed = append(disallowed, ext)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 500
	}
	return &RepairService{
		artworks:     artworks,
		blobs:        blobs,
		vectors:      vectors,
		translations: translations,
		minBlobSize:  cfg.MinBlobSize,
		disallowed:   disallowed,
		batchSize:    batch,
	}
}

// RemoveBroken deletes every record whose blob is missing, still the placeholder,
// or smaller than the minimum viable size. Records whose head check fails for
// any other reason are kept and reported as retained.
func (s *RepairService) RemoveBroken(ctx context.Context) (*RepairStats, error) {
	ctx = logger.SetComponent(ctx, "repair.remove_broken")
	stats := &RepairStats{}

	after := ""
	for {
		batch, err := s.artworks.ScanAfter(ctx, after, s.batchSize)
		if err != nil {
			return stats, fmt.Errorf("failed to scan artworks: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		after = batch[len(batch)-1].ID

		for i := range batch {
			artwork := &batch[i]
			stats.Scanned++

			reason, err := s.brokenReason(ctx, artwork)
			if err != nil {
				stats.Retained++
				logger.FromContext(ctx).WithField(logger.FieldArtworkID, artwork.ID).
					WithError(err).Warn("Blob head check failed, keeping record")
				continue
			}
			if reason == "" {
				continue
			}
			if err := s.remove(ctx, artwork, reason); err != nil {
				return stats, err
			}
			stats.Deleted++
		}
	}

	logger.With(logger.Fields{
		"scanned":  stats.Scanned,
		"deleted":  stats.Deleted,
		"retained": stats.Retained,
	}).Info(ctx, "Broken artwork scan completed")
	return stats, nil
}

// brokenReason returns a non-empty reason when the record must be deleted.
func (s *RepairService) brokenReason(ctx context.Context, artwork *domain.Artwork) (string, error) {
	if !artwork.HasBlob() {
		return "placeholder blob", nil
	}
	info, err := s.blobs.Head(ctx, artwork.BlobRef)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return "blob missing", nil
		}
		return "", err
	}
	if info.Size < s.minBlobSize {
		return fmt.Sprintf("blob too small (%d bytes)", info.Size), nil
	}
	return "", nil
}

// RemoveDisallowedMedia deletes every record whose blob reference ends in a
// disallowed extension.
func (s *RepairService) RemoveDisallowedMedia(ctx context.Context) (*RepairStats, error) {
	ctx = logger.SetComponent(ctx, "repair.remove_disallowed_media")
	stats := &RepairStats{}
	if len(s.disallowed) == 0 {
		return stats, nil
	}

	after := ""
	for {
		batch, err := s.artworks.ScanByBlobSuffix(ctx, s.disallowed, after, s.batchSize)
		if err != nil {
			return stats, fmt.Errorf("failed to scan artworks: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		after = batch[len(batch)-1].ID

		for i := range batch {
			stats.Scanned++
			if err := s.remove(ctx, &batch[i], "disallowed media type"); err != nil {
				return stats, err
			}
			if err := s.blobs.Delete(ctx, batch[i].BlobRef); err != nil {
				logger.FromContext(ctx).WithError(err).Warn("Failed to delete disallowed blob")
			}
			stats.Deleted++
		}
	}

	logger.With(logger.Fields{logger.FieldCount: stats.Deleted}).Info(ctx, "Disallowed media removed")
	return stats, nil
}

// remove deletes the record, then its vector point and translation on a best-effort basis.
func (s *RepairService) remove(ctx context.Context, artwork *domain.Artwork, reason string) error {
	if err := s.artworks.Delete(ctx, artwork.ID); err != nil {
		return fmt.Errorf("failed to delete artwork %s: %w", artwork.ID, err)
	}

	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldArtworkID: artwork.ID,
		"reason":              reason,
	})
	log.Info("Artwork removed")

	if artwork.IsIndexed() {
		if err := s.vectors.Delete(ctx, repository.PointID(artwork.ID)); err != nil {
			log.WithError(fmt.Errorf("%w: %v", domain.ErrIndexInconsistency, err)).Warn("Failed to delete vector point")
		}
	}
	if s.translations != nil {
		if err := s.translations.Delete(ctx, artwork.ID); err != nil {
			log.WithError(err).Warn("Failed to delete translation")
		}
	}
	return nil
}
