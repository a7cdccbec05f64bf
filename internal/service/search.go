package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/timmy/supaarchive/internal/config"
	"github.com/timmy/supaarchive/internal/domain"
	"github.com/timmy/supaarchive/internal/logger"
	"github.com/timmy/supaarchive/internal/repository"
)

// exactIDPrefixes introduce a direct lookup by source set id.
var exactIDPrefixes = []string{"source_id:", "pixiv_id:"}

// SearchService serves similarity, tag and exact-id queries.
type SearchService struct {
	artworks ArtworkStore
	vectors  VectorIndex
	blobs    BlobStore
	embedder Embedder
	logger   *logger.Logger

	margin          int
	defaultPageSize int
	maxPageSize     int
	maxPageDepth    int
	strictPaging    bool
	exactIDLimit    int
}

// NewSearchService creates a new search service.
// Parameters:
//   - artworks: content store used for hydration and exact-id lookups.
//   - vectors: vector index.
//   - blobs: blob store, for public URLs.
//   - embedder: embedding client for free-text queries; may be nil.
//   - log: logger instance.
//   - cfg: search configuration.
//
// Returns:
//   - *SearchService: initialized search service.
func NewSearchService(
	artworks ArtworkStore,
	vectors VectorIndex,
	blobs BlobStore,
	embedder Embedder,
	log *logger.Logger,
	cfg *config.SearchConfig,
) *SearchService {
	s := &SearchService{
		artworks:        artworks,
		vectors:         vectors,
		blobs:           blobs,
		embedder:        embedder,
		logger:          log,
		margin:          cfg.SimilarityMargin,
		defaultPageSize: cfg.DefaultPageSize,
		maxPageSize:     cfg.MaxPageSize,
		maxPageDepth:    cfg.MaxPageDepth,
		strictPaging:    cfg.StrictPaging,
		exactIDLimit:    cfg.ExactIDLimit,
	}
	if s.margin < 0 {
		s.margin = 0
	}
	if s.defaultPageSize <= 0 {
		s.defaultPageSize = 25
	}
	if s.maxPageSize <= 0 {
		s.maxPageSize = 100
	}
	if s.exactIDLimit <= 0 {
		s.exactIDLimit = 100
	}
	return s
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *SearchService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// SimilaritySearch returns the artworks nearest to id, best first, excluding the
// query itself and other pages of its own set.
func (s *SearchService) SimilaritySearch(ctx context.Context, id string, limit int) ([]domain.ArtworkSearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	query, err := s.artworks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !query.IsIndexed() {
		return nil, fmt.Errorf("%w: artwork %s has no embedding", domain.ErrNotFound, id)
	}

	hits, err := s.vectors.Search(ctx, query.Embedding, limit+s.margin)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	selfPoint := repository.PointID(id)
	ids := make([]string, 0, len(hits))
	scores := make(map[string]float32, len(hits))
	for _, hit := range hits {
		if hit.Payload == nil || hit.ID == selfPoint || hit.Payload.ImageID == id {
			continue
		}
		ids = append(ids, hit.Payload.ImageID)
		scores[hit.Payload.ImageID] = hit.Score
	}

	// Set membership is checked on hydrated records; the payload does not carry the set id.
	hydrated, err := s.artworks.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate results: %w", err)
	}

	querySet, inSet := query.Membership().(domain.SetMember)
	results := make([]domain.ArtworkSearchResult, 0, limit)
	for _, hitID := range ids {
		artwork, ok := hydrated[hitID]
		if !ok {
			s.log(ctx).WithField(logger.FieldArtworkID, hitID).Warn("Vector hit without content record")
			continue
		}
		if m, ok := artwork.Membership().(domain.SetMember); ok && inSet && m.SourceSetID == querySet.SourceSetID {
			continue
		}
		results = append(results, s.toResult(artwork, scores[hitID]))
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// Query is a parsed search string.
type Query struct {
	Tags []string
	// SourceSetID is set for exact-id queries such as "source_id:42".
	SourceSetID *int64
}

// ParseQuery splits a search string into tags, or recognises an exact-id query.
func ParseQuery(raw string) (Query, error) {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	for _, prefix := range exactIDPrefixes {
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(raw[len(prefix):]), 10, 64)
		if err != nil {
			return Query{}, fmt.Errorf("%w: invalid set id in %q", domain.ErrValidation, raw)
		}
		return Query{SourceSetID: &id}, nil
	}
	return Query{Tags: domain.NormalizeTags(strings.Fields(raw))}, nil
}

// TagSearchRequest is a tag browse request.
type TagSearchRequest struct {
	Query     string
	Page      int
	PageSize  int
	GroupSets bool
}

// TagSearchResponse is one page of tag search results.
type TagSearchResponse struct {
	Results  []domain.ArtworkSearchResult `json:"results"`
	Query    string                       `json:"query"`
	Page     int                          `json:"page"`
	PageSize int                          `json:"page_size"`
	// Exact is true when the query bypassed the vector index.
	Exact bool `json:"exact"`
	// Reset is true when the requested page was past the end and page 1 was returned.
	Reset bool `json:"reset,omitempty"`
}

// TagSearch resolves a query to a page of artworks.
// An exact-id query returns every page of the set in page order, regardless of
// GroupSets. A tag query emulates offset paging over the forward-only scroll of
// the vector index; a page past the end falls back to page 1.
func (s *SearchService) TagSearch(ctx context.Context, req *TagSearchRequest) (*TagSearchResponse, error) {
	q, err := ParseQuery(req.Query)
	if err != nil {
		return nil, err
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = s.defaultPageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}

	resp := &TagSearchResponse{Query: req.Query, Page: page, PageSize: pageSize}

	if q.SourceSetID != nil {
		pages, err := s.artworks.ListBySourceSet(ctx, *q.SourceSetID, s.exactIDLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to list set %d: %w", *q.SourceSetID, err)
		}
		resp.Exact = true
		resp.Page = 1
		resp.Results = make([]domain.ArtworkSearchResult, len(pages))
		for i := range pages {
			resp.Results[i] = s.toResult(&pages[i], 0)
		}
		return resp, nil
	}

	filter := repository.TagFilter{Tags: q.Tags, GroupSets: req.GroupSets}
	hits, effectivePage, err := s.scrollToPage(ctx, filter, page, pageSize)
	if err != nil {
		return nil, err
	}
	resp.Page = effectivePage
	resp.Reset = effectivePage != page

	resp.Results, err = s.hydrate(ctx, hits)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// scrollToPage walks page-1 scroll calls, keeping only the cursor, then fetches
// the requested page. Exhaustion before the target resets to page 1, unless
// strict paging is enabled. The walk never exceeds maxPageDepth calls.
func (s *SearchService) scrollToPage(ctx context.Context, filter repository.TagFilter, page, pageSize int) ([]repository.SearchResult, int, error) {
	if s.maxPageDepth > 0 && page > s.maxPageDepth {
		if s.strictPaging {
			return nil, 0, fmt.Errorf("%w: page %d exceeds maximum depth %d", domain.ErrPageOutOfRange, page, s.maxPageDepth)
		}
		page = 1
	}

	cursor := ""
	reached := 1
	for reached < page {
		_, next, err := s.vectors.Scroll(ctx, filter, pageSize, cursor)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scroll: %w", err)
		}
		if next == "" {
			if s.strictPaging {
				return nil, 0, fmt.Errorf("%w: page %d requested, results end at page %d", domain.ErrPageOutOfRange, page, reached)
			}
			cursor = ""
			reached = 1
			page = 1
			break
		}
		cursor = next
		reached++
	}

	hits, _, err := s.vectors.Scroll(ctx, filter, pageSize, cursor)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scroll: %w", err)
	}
	return hits, page, nil
}

// NeuralSearchRequest is a free-text search over the embedding space.
type NeuralSearchRequest struct {
	Query    string
	Page     int
	PageSize int
}

// NeuralSearch embeds the query text and returns one page of nearest artworks.
func (s *SearchService) NeuralSearch(ctx context.Context, req *NeuralSearchRequest) ([]domain.ArtworkSearchResult, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("%w: text search is not configured", domain.ErrValidation)
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrValidation)
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > s.maxPageSize {
		pageSize = s.defaultPageSize
	}
	if s.maxPageDepth > 0 && page > s.maxPageDepth {
		page = 1
	}

	raw, err := s.embedder.Embed(ctx, nil, req.Query)
	if err != nil {
		return nil, err
	}
	vector, err := Normalize(raw)
	if err != nil {
		return nil, err
	}

	hits, err := s.vectors.Search(ctx, vector, page*pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	start := (page - 1) * pageSize
	if start >= len(hits) {
		return []domain.ArtworkSearchResult{}, nil
	}
	return s.hydrate(ctx, hits[start:])
}

// hydrate loads the records behind vector hits, keeping hit order and dropping
// hits whose record no longer exists.
func (s *SearchService) hydrate(ctx context.Context, hits []repository.SearchResult) ([]domain.ArtworkSearchResult, error) {
	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		if hit.Payload != nil && hit.Payload.ImageID != "" {
			ids = append(ids, hit.Payload.ImageID)
		}
	}

	records, err := s.artworks.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate results: %w", err)
	}

	results := make([]domain.ArtworkSearchResult, 0, len(ids))
	for _, hit := range hits {
		if hit.Payload == nil {
			continue
		}
		artwork, ok := records[hit.Payload.ImageID]
		if !ok {
			continue
		}
		results = append(results, s.toResult(artwork, hit.Score))
	}
	return results, nil
}

func (s *SearchService) toResult(a *domain.Artwork, score float32) domain.ArtworkSearchResult {
	r := domain.ArtworkSearchResult{Artwork: *a, Score: score}
	if a.HasBlob() && s.blobs != nil {
		r.URL = s.blobs.URL(a.BlobRef)
	}
	return r
}
