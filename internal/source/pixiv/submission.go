package pixiv

import (
	"fmt"
	"strings"

	"github.com/timmy/supaarchive/internal/domain"
	"github.com/timmy/supaarchive/internal/source"
)

// SourceName identifies items produced by the pixiv push adapter.
const SourceName = "pixiv"

// Submission is the payload posted by the browser userscript for one illustration.
type Submission struct {
	IllustrationID int64    `json:"illustration_id"`
	Tags           []string `json:"tags"`
	AuthorID       int64    `json:"author_id"`
	AuthorName     string   `json:"author_name"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Pages          []string `json:"pages"`
}

// Validate rejects submissions that cannot be archived.
func (s *Submission) Validate() error {
	if s.IllustrationID <= 0 {
		return fmt.Errorf("%w: illustration_id is required", domain.ErrValidation)
	}
	if len(s.Pages) == 0 {
		return fmt.Errorf("%w: at least one page url is required", domain.ErrValidation)
	}
	for i, page := range s.Pages {
		if strings.TrimSpace(page) == "" {
			return fmt.Errorf("%w: page %d has an empty url", domain.ErrValidation, i)
		}
	}
	return nil
}

// Items expands the submission into one item per page, numbered from 0.
// Parameters:
//   - referer: Referer header required by the image CDN.
// Returns:
//   - []source.Item: items in page order.
func (s *Submission) Items(referer string) []source.Item {
	items := make([]source.Item, 0, len(s.Pages))
	for idx, url := range s.Pages {
		setID := s.IllustrationID
		page := idx
		item := source.Item{
			URL:         strings.TrimSpace(url),
			Tags:        s.Tags,
			Title:       s.Title,
			Description: s.Description,
			AuthorName:  s.AuthorName,
			SourceSetID: &setID,
			PageNo:      &page,
		}
		if s.AuthorID > 0 {
			authorID := s.AuthorID
			item.AuthorID = &authorID
		}
		if referer != "" {
			item.Headers = map[string]string{"Referer": referer}
		}
		items = append(items, item)
	}
	return items
}
