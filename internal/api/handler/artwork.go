package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/supaarchive/internal/domain"
	"github.com/timmy/supaarchive/internal/service"
)

// ArtworkReader serves artwork display endpoints.
type ArtworkReader interface {
	GetArtwork(ctx context.Context, id string) (*service.ArtworkView, error)
	Gallery(ctx context.Context, page int) (*service.GalleryPage, error)
	Stats(ctx context.Context) (*domain.Stats, error)
}

// ArtworkHandler handles artwork endpoints.
type ArtworkHandler struct {
	artworks ArtworkReader
}

// NewArtworkHandler creates a new artwork handler.
func NewArtworkHandler(artworks ArtworkReader) *ArtworkHandler {
	return &ArtworkHandler{artworks: artworks}
}

// GetArtwork handles GET /api/v1/artworks/:id.
func (h *ArtworkHandler) GetArtwork(c *gin.Context) {
	view, err := h.artworks.GetArtwork(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to get artwork", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Gallery handles GET /api/v1/gallery.
func (h *ArtworkHandler) Gallery(c *gin.Context) {
	page, err := h.artworks.Gallery(c.Request.Context(), queryInt(c, "page", 1))
	if err != nil {
		respondError(c, "Failed to list gallery", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetStats handles GET /api/v1/stats.
func (h *ArtworkHandler) GetStats(c *gin.Context) {
	stats, err := h.artworks.Stats(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to get stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
