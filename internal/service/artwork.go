package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/supaarchive/internal/domain"
)

// ArtworkService serves single-artwork views, the gallery and archive stats.
type ArtworkService struct {
	artworks        ArtworkStore
	translations    TranslationStore
	blobs           BlobStore
	galleryPageSize int
	setPreviewLimit int
	topTags         int
}

// NewArtworkService creates a new artwork service.
func NewArtworkService(artworks ArtworkStore, translations TranslationStore, blobs BlobStore, galleryPageSize, setPreviewLimit int) *ArtworkService {
	if galleryPageSize <= 0 {
		galleryPageSize = 25
	}
	if setPreviewLimit <= 0 {
		setPreviewLimit = 10
	}
	return &ArtworkService{
		artworks:        artworks,
		translations:    translations,
		blobs:           blobs,
		galleryPageSize: galleryPageSize,
		setPreviewLimit: setPreviewLimit,
		topTags:         20,
	}
}

// ArtworkView is an artwork with its translation overlay and sibling pages.
type ArtworkView struct {
	domain.ArtworkSearchResult
	Translation *domain.Translation          `json:"translation,omitempty"`
	SetPages    []domain.ArtworkSearchResult `json:"set_pages,omitempty"`
}

// GetArtwork loads one artwork for display.
func (s *ArtworkService) GetArtwork(ctx context.Context, id string) (*ArtworkView, error) {
	artwork, err := s.artworks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &ArtworkView{ArtworkSearchResult: s.toResult(artwork)}

	translation, err := s.translations.GetByID(ctx, id)
	switch {
	case err == nil:
		view.Translation = translation
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("failed to load translation: %w", err)
	}

	if m, ok := artwork.Membership().(domain.SetMember); ok {
		pages, err := s.artworks.ListBySourceSet(ctx, m.SourceSetID, s.setPreviewLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to load set pages: %w", err)
		}
		for i := range pages {
			if pages[i].ID == artwork.ID {
				continue
			}
			view.SetPages = append(view.SetPages, s.toResult(&pages[i]))
		}
	}
	return view, nil
}

// GalleryPage is one page of the latest primary artworks.
type GalleryPage struct {
	Items      []domain.ArtworkSearchResult `json:"items"`
	Page       int                          `json:"page"`
	PageSize   int                          `json:"page_size"`
	Total      int64                        `json:"total"`
	TotalPages int64                        `json:"total_pages"`
}

// Gallery lists standalone artworks and first pages of sets, newest first.
func (s *ArtworkService) Gallery(ctx context.Context, page int) (*GalleryPage, error) {
	if page < 1 {
		page = 1
	}
	items, total, err := s.artworks.ListLatestPrimary(ctx, (page-1)*s.galleryPageSize, s.galleryPageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list gallery: %w", err)
	}

	result := &GalleryPage{
		Items:      make([]domain.ArtworkSearchResult, len(items)),
		Page:       page,
		PageSize:   s.galleryPageSize,
		Total:      total,
		TotalPages: (total + int64(s.galleryPageSize) - 1) / int64(s.galleryPageSize),
	}
	for i := range items {
		result.Items[i] = s.toResult(&items[i])
	}
	return result, nil
}

// Stats returns archive statistics.
func (s *ArtworkService) Stats(ctx context.Context) (*domain.Stats, error) {
	stats, err := s.artworks.Stats(ctx, s.topTags)
	if err != nil {
		return nil, err
	}
	count, err := s.translations.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count translations: %w", err)
	}
	stats.TotalTranslations = count
	return stats, nil
}

func (s *ArtworkService) toResult(a *domain.Artwork) domain.ArtworkSearchResult {
	r := domain.ArtworkSearchResult{Artwork: *a}
	if a.HasBlob() {
		r.URL = s.blobs.URL(a.BlobRef)
	}
	return r
}
