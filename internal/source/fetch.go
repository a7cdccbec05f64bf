package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/supaarchive/internal/domain"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:123.0) Gecko/20100101 Firefox/123.0"

// Fetcher downloads item payloads from remote URLs or local paths.
type Fetcher struct {
	client  *resty.Client
	maxSize int
}

// NewFetcher creates a payload fetcher. maxSize <= 0 disables the size check.
// Remote bodies are cut off as soon as they pass maxSize.
func NewFetcher(timeout time.Duration, maxSize int) *Fetcher {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		AddRetryCondition(func(_ *resty.Response, err error) bool {
			return err != nil && !errors.Is(err, resty.ErrResponseBodyTooLarge)
		}).
		SetHeader("User-Agent", defaultUserAgent)
	if maxSize > 0 {
		client.SetResponseBodyLimit(maxSize)
	}

	return &Fetcher{client: client, maxSize: maxSize}
}

// Fetch returns the payload bytes of an item.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - item: item with a URL or local path.
// Returns:
//   - []byte: payload.
//   - error: wraps domain.ErrUpstreamFetch on any failure.
func (f *Fetcher) Fetch(ctx context.Context, item Item) ([]byte, error) {
	if item.LocalPath != "" {
		data, err := os.ReadFile(item.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamFetch, err)
		}
		return f.checkSize(data)
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetHeaders(item.Headers).
		Get(item.URL)
	if errors.Is(err, resty.ErrResponseBodyTooLarge) {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", domain.ErrUpstreamFetch, item.URL, f.maxSize)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamFetch, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("%w: %s returned status %d", domain.ErrUpstreamFetch, item.URL, resp.StatusCode())
	}
	return f.checkSize(resp.Body())
}

func (f *Fetcher) checkSize(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrUpstreamFetch)
	}
	if f.maxSize > 0 && len(data) > f.maxSize {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds limit", domain.ErrUpstreamFetch, len(data))
	}
	return data, nil
}
