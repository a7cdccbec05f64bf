package source

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/timmy/supaarchive/internal/domain"
)

// Item is one payload announced by a source adapter, before download.
type Item struct {
	URL         string            `json:"url,omitempty"`        // Remote payload URL
	LocalPath   string            `json:"local_path,omitempty"` // Local file path (staging sources)
	Headers     map[string]string `json:"headers,omitempty"`    // Extra request headers, e.g. Referer
	Tags        []string          `json:"tags"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	AuthorID    *int64            `json:"author_id,omitempty"`
	AuthorName  string            `json:"author_name,omitempty"`
	SourceSetID *int64            `json:"source_set_id,omitempty"` // Multi-page set id, with PageNo
	PageNo      *int              `json:"page_no,omitempty"`
	ExternalID  *int64            `json:"external_id,omitempty"` // Secondary catalog id
}

// Validate rejects items that cannot be ingested.
func (it Item) Validate() error {
	if it.URL == "" && it.LocalPath == "" {
		return fmt.Errorf("%w: item has neither url nor local path", domain.ErrValidation)
	}
	if (it.SourceSetID == nil) != (it.PageNo == nil) {
		return fmt.Errorf("%w: source_set_id and page_no must be set together", domain.ErrValidation)
	}
	if it.PageNo != nil && *it.PageNo < 0 {
		return fmt.Errorf("%w: page_no must not be negative", domain.ErrValidation)
	}
	return nil
}

// Membership returns the set membership announced by the source.
func (it Item) Membership() domain.Membership {
	if it.SourceSetID != nil && it.PageNo != nil {
		return domain.SetMember{SourceSetID: *it.SourceSetID, PageNo: *it.PageNo}
	}
	return domain.Standalone{}
}

// Metadata converts the item into the metadata attached to its record.
func (it Item) Metadata() domain.SourceMetadata {
	return domain.SourceMetadata{
		Membership:  it.Membership(),
		ExternalID:  it.ExternalID,
		AuthorID:    it.AuthorID,
		AuthorName:  it.AuthorName,
		Title:       it.Title,
		Description: it.Description,
	}
}

// Extension returns the lowercase file extension of the payload location, without the dot.
func (it Item) Extension() string {
	if it.LocalPath != "" {
		return strings.ToLower(strings.TrimPrefix(filepath.Ext(it.LocalPath), "."))
	}
	p := it.URL
	if u, err := url.Parse(it.URL); err == nil {
		p = u.Path
	}
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}

// HasExtension reports whether the payload location ends in one of exts
// (given with or without the leading dot).
func (it Item) HasExtension(exts []string) bool {
	ext := it.Extension()
	if ext == "" {
		return false
	}
	for _, candidate := range exts {
		if strings.EqualFold(strings.TrimPrefix(candidate, "."), ext) {
			return true
		}
	}
	return false
}

// Source defines the interface for pull-based sources.
type Source interface {
	// Name returns the unique identifier for this source.
	Name() string

	// FetchBatch fetches a batch of items starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - query: source-specific query, e.g. space separated tags.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of items to fetch.
	// Returns:
	//   - items: batch of items.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, query, cursor string, limit int) (items []Item, nextCursor string, err error)
}
