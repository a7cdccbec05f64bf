package staging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/timmy/supaarchive/internal/domain"
	"github.com/timmy/supaarchive/internal/logger"
	"github.com/timmy/supaarchive/internal/source"
)

const (
	// ManifestFileName is the JSONL manifest file name in staging sources.
	ManifestFileName = "manifest.jsonl"
	// ImagesDir is the directory name for staged images.
	ImagesDir = "images"
	// NamePrefix prefixes the name of every staging source.
	NamePrefix = "staging:"
)

// ManifestItem represents an item in the manifest.jsonl file.
type ManifestItem struct {
	ID          string   `json:"id"`
	Filename    string   `json:"filename"`
	Tags        []string `json:"tags"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	SourceSetID *int64   `json:"source_set_id"`
	PageNo      *int     `json:"page_no"`
	ExternalID  *int64   `json:"external_id"`
	AuthorID    *int64   `json:"author_id"`
	Author      string   `json:"author"`
}

// Adapter implements source.Source for a prepared directory on disk.
type Adapter struct {
	basePath string
	sourceID string

	mu     sync.Mutex
	loaded bool
	items  []source.Item
}

// NewAdapter creates a new staging adapter.
// Parameters:
//   - basePath: base path to the staging directory.
//   - sourceID: directory name of the staging source.
// Returns:
//   - *Adapter: initialized staging adapter.
func NewAdapter(basePath, sourceID string) *Adapter {
	return &Adapter{
		basePath: basePath,
		sourceID: sourceID,
	}
}

// Name returns the source name with the "staging:" prefix.
func (a *Adapter) Name() string {
	return NamePrefix + a.sourceID
}

// FetchBatch returns manifest items starting at the index encoded in cursor.
// A non-empty query keeps only items carrying every listed tag.
func (a *Adapter) FetchBatch(ctx context.Context, query, cursor string, limit int) ([]source.Item, string, error) {
	all, err := a.ensureLoaded(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load staging items: %w", err)
	}

	items := filterByTags(all, strings.Fields(query))

	startIndex := 0
	if cursor != "" {
		var err error
		startIndex, err = strconv.Atoi(cursor)
		if err != nil || startIndex < 0 {
			return nil, "", fmt.Errorf("%w: invalid cursor %q", domain.ErrValidation, cursor)
		}
	}
	if startIndex >= len(items) {
		return []source.Item{}, "", nil
	}
	if limit <= 0 {
		limit = len(items)
	}

	endIndex := startIndex + limit
	if endIndex > len(items) {
		endIndex = len(items)
	}

	nextCursor := ""
	if endIndex < len(items) {
		nextCursor = strconv.Itoa(endIndex)
	}
	return items[startIndex:endIndex], nextCursor, nil
}

// Count returns the number of loadable items in the staging directory.
func (a *Adapter) Count(ctx context.Context) (int, error) {
	items, err := a.ensureLoaded(ctx)
	return len(items), err
}

// ensureLoaded reads the manifest on first use. A failed load is retried on
// the next call.
func (a *Adapter) ensureLoaded(ctx context.Context) ([]source.Item, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loaded {
		return a.items, nil
	}
	if err := a.loadItems(ctx); err != nil {
		return nil, err
	}
	a.loaded = true
	return a.items, nil
}

func filterByTags(items []source.Item, tags []string) []source.Item {
	if len(tags) == 0 {
		return items
	}
	out := make([]source.Item, 0, len(items))
	for _, it := range items {
		have := make(map[string]struct{}, len(it.Tags))
		for _, t := range it.Tags {
			have[t] = struct{}{}
		}
		all := true
		for _, t := range tags {
			if _, ok := have[t]; !ok {
				all = false
				break
			}
		}
		if all {
			out = append(out, it)
		}
	}
	return out
}

// loadItems reads the manifest, skipping malformed lines and missing files.
func (a *Adapter) loadItems(ctx context.Context) error {
	stagingPath := filepath.Join(a.basePath, a.sourceID)
	manifestPath := filepath.Join(stagingPath, ManifestFileName)
	imagesPath := filepath.Join(stagingPath, ImagesDir)

	file, err := os.Open(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	type keyed struct {
		id   string
		item source.Item
	}
	var loaded []keyed
	skipped := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var m ManifestItem
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			skipped++
			continue
		}

		localPath := filepath.Join(imagesPath, m.Filename)
		if _, err := os.Stat(localPath); err != nil {
			skipped++
			continue
		}

		item := source.Item{
			LocalPath:   localPath,
			Tags:        m.Tags,
			Title:       m.Title,
			Description: m.Description,
			AuthorID:    m.AuthorID,
			AuthorName:  m.Author,
			SourceSetID: m.SourceSetID,
			PageNo:      m.PageNo,
			ExternalID:  m.ExternalID,
		}
		if err := item.Validate(); err != nil {
			skipped++
			continue
		}
		loaded = append(loaded, keyed{id: m.ID, item: item})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading manifest: %w", err)
	}

	sort.SliceStable(loaded, func(i, j int) bool { return loaded[i].id < loaded[j].id })

	a.items = make([]source.Item, len(loaded))
	for i, k := range loaded {
		a.items[i] = k.item
	}

	if skipped > 0 {
		logger.With(logger.Fields{
			logger.FieldSource: a.Name(),
			logger.FieldCount:  skipped,
		}).Warn(ctx, "Skipped unusable manifest lines")
	}
	return nil
}

// ListStagingSources lists the directories under basePath that contain a manifest.
func ListStagingSources(basePath string) ([]string, error) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var sources []string
	for _, entry := range entries {
		if entry.IsDir() {
			manifestPath := filepath.Join(basePath, entry.Name(), ManifestFileName)
			if _, err := os.Stat(manifestPath); err == nil {
				sources = append(sources, entry.Name())
			}
		}
	}

	return sources, nil
}
