package gelbooru

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/supaarchive/internal/domain"
	"github.com/timmy/supaarchive/internal/source"
)

// SourceName identifies items produced by this adapter.
const SourceName = "gelbooru"

// maxPageSize is the largest page the dapi endpoint returns.
const maxPageSize = 100

// Config holds gelbooru API settings.
type Config struct {
	BaseURL string
	APIKey  string
	UserID  string
	Timeout time.Duration
}

// Adapter pulls posts from the gelbooru dapi JSON endpoint.
type Adapter struct {
	client *resty.Client
	cfg    Config
}

type postsResponse struct {
	Attributes struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
		Count  int `json:"count"`
	} `json:"@attributes"`
	Posts []post `json:"post"`
}

type post struct {
	ID      int64  `json:"id"`
	FileURL string `json:"file_url"`
	Tags    string `json:"tags"`
	Title   string `json:"title"`
	Owner   string `json:"owner"`
}

// NewAdapter creates a new gelbooru adapter.
func NewAdapter(cfg Config) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2)

	return &Adapter{client: client, cfg: cfg}
}

// Name returns the unique identifier for this source.
func (a *Adapter) Name() string {
	return SourceName
}

// FetchBatch fetches one page of posts matching the space separated tags in query.
// The cursor is the page index (pid) of the next request.
func (a *Adapter) FetchBatch(ctx context.Context, query, cursor string, limit int) ([]source.Item, string, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	pid := 0
	if cursor != "" {
		var err error
		if pid, err = strconv.Atoi(cursor); err != nil {
			return nil, "", fmt.Errorf("%w: invalid cursor %q", domain.ErrValidation, cursor)
		}
	}

	params := map[string]string{
		"page":  "dapi",
		"s":     "post",
		"q":     "index",
		"json":  "1",
		"tags":  strings.Join(strings.Fields(query), " "),
		"limit": strconv.Itoa(limit),
		"pid":   strconv.Itoa(pid),
	}
	if a.cfg.APIKey != "" {
		params["api_key"] = a.cfg.APIKey
		params["user_id"] = a.cfg.UserID
	}

	var result postsResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&result).
		Get("/index.php")
	if err != nil {
		return nil, "", fmt.Errorf("%w: gelbooru request failed: %v", domain.ErrUpstreamFetch, err)
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("%w: gelbooru returned status %d", domain.ErrUpstreamFetch, resp.StatusCode())
	}

	items := make([]source.Item, 0, len(result.Posts))
	for _, p := range result.Posts {
		if p.FileURL == "" {
			continue
		}
		id := p.ID
		items = append(items, source.Item{
			URL:        p.FileURL,
			Tags:       strings.Fields(p.Tags),
			Title:      p.Title,
			AuthorName: p.Owner,
			ExternalID: &id,
		})
	}

	next := ""
	if len(result.Posts) == limit && (pid+1)*limit < result.Attributes.Count {
		next = strconv.Itoa(pid + 1)
	}
	return items, next, nil
}
