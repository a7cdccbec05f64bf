package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/supaarchive/internal/domain"
	"github.com/timmy/supaarchive/internal/service"
)

// Searcher serves the search endpoints.
type Searcher interface {
	TagSearch(ctx context.Context, req *service.TagSearchRequest) (*service.TagSearchResponse, error)
	NeuralSearch(ctx context.Context, req *service.NeuralSearchRequest) ([]domain.ArtworkSearchResult, error)
	SimilaritySearch(ctx context.Context, id string, limit int) ([]domain.ArtworkSearchResult, error)
}

// SearchHandler handles search-related endpoints.
type SearchHandler struct {
	searchService Searcher
}

// NewSearchHandler creates a new search handler.
// Parameters:
//   - searchService: search service instance.
// Returns:
//   - *SearchHandler: initialized handler.
func NewSearchHandler(searchService Searcher) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

// Search handles GET /api/v1/search.
// Query parameters: q, page, page_size, group_sets, mode ("tags" or "neural").
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("q")
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 0)

	if c.Query("mode") == "neural" {
		results, err := h.searchService.NeuralSearch(c.Request.Context(), &service.NeuralSearchRequest{
			Query:    query,
			Page:     page,
			PageSize: pageSize,
		})
		if err != nil {
			respondError(c, "Search failed", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"results": results,
			"query":   query,
			"page":    page,
		})
		return
	}

	groupSets, _ := strconv.ParseBool(c.DefaultQuery("group_sets", "false"))
	result, err := h.searchService.TagSearch(c.Request.Context(), &service.TagSearchRequest{
		Query:     query,
		Page:      page,
		PageSize:  pageSize,
		GroupSets: groupSets,
	})
	if err != nil {
		respondError(c, "Search failed", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Similar handles GET /api/v1/artworks/:id/similar.
func (h *SearchHandler) Similar(c *gin.Context) {
	limit := queryInt(c, "limit", 10)
	if limit > 100 {
		limit = 100
	}

	results, err := h.searchService.SimilaritySearch(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, "Similarity search failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"total":   len(results),
	})
}

// queryInt reads an integer query parameter, falling back to def when absent or malformed.
func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
