package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/supaarchive/internal/domain"
	"github.com/timmy/supaarchive/internal/logger"
	"github.com/timmy/supaarchive/internal/source"
	"github.com/timmy/supaarchive/internal/source/pixiv"
	_ "golang.org/x/image/webp"
)

// IngestService runs payloads through fetch, hash, dedup, store and schedules indexing.
type IngestService struct {
	artworks ArtworkStore
	blobs    BlobStore
	fetcher  ItemFetcher
	tasks    TaskQueue
	runs     RunStore
	logger   *logger.Logger

	workers              int
	mergeAttempts        int
	indexDelay           time.Duration
	disallowedExtensions []string
	pixivReferer         string
	now                  func() time.Time
}

// IngestConfig holds configuration for the ingest service
type IngestConfig struct {
	Workers              int
	MergeAttempts        int
	IndexDelay           time.Duration
	DisallowedExtensions []string
	PixivReferer         string
}

// NewIngestService creates a new ingest service
func NewIngestService(
	artworks ArtworkStore,
	blobs BlobStore,
	fetcher ItemFetcher,
	tasks TaskQueue,
	runs RunStore,
	log *logger.Logger,
	cfg *IngestConfig,
) *IngestService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	attempts := cfg.MergeAttempts
	if attempts <= 0 {
		attempts = 5
	}
	return &IngestService{
		artworks:             artworks,
		blobs:                blobs,
		fetcher:              fetcher,
		tasks:                tasks,
		runs:                 runs,
		logger:               log,
		workers:              workers,
		mergeAttempts:        attempts,
		indexDelay:           cfg.IndexDelay,
		disallowedExtensions: cfg.DisallowedExtensions,
		pixivReferer:         cfg.PixivReferer,
		now:                  time.Now,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *IngestService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// IngestResult is the outcome of one payload.
type IngestResult struct {
	ID      string         `json:"id,omitempty"`
	Outcome domain.Outcome `json:"outcome"`
}

// ContentHash returns the hex SHA-256 of a payload, which is the artwork id.
func ContentHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Ingest deduplicates a fetched payload against the content store.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - payload: raw bytes.
//   - extHint: extension announced by the source, used when the format cannot be sniffed.
//   - tags: tags attached by the source.
//   - meta: set membership, external id and descriptive fields.
// Returns:
//   - *IngestResult: created for a new hash, merged for a known one.
//   - error: non-nil on store or upload failure; the queue retries it.
func (s *IngestService) Ingest(ctx context.Context, payload []byte, extHint string, tags []string, meta domain.SourceMetadata) (*IngestResult, error) {
	id := ContentHash(payload)
	ctx = logger.SetArtworkID(ctx, id)

	existing, err := s.artworks.GetByID(ctx, id)
	switch {
	case err == nil:
		return s.mergeExisting(ctx, existing, payload, extHint, tags, meta)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("failed to look up artwork: %w", err)
	}

	artwork := domain.NewArtwork(id, tags, meta, s.now().Unix())
	created, err := s.artworks.CreateIfAbsent(ctx, artwork)
	if err != nil {
		return nil, fmt.Errorf("failed to create artwork: %w", err)
	}
	if !created {
		// Lost the insert race to a concurrent submission of the same bytes.
		existing, err := s.artworks.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to reload artwork: %w", err)
		}
		return s.mergeExisting(ctx, existing, payload, extHint, tags, meta)
	}

	if err := s.storeBlob(ctx, id, payload, extHint); err != nil {
		return nil, err
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldSize: len(payload),
		"tags":           len(artwork.Tags),
	}).Info("Artwork created")

	return &IngestResult{ID: id, Outcome: domain.OutcomeCreated}, nil
}

// mergeExisting folds a duplicate into the stored record. A record still holding
// the placeholder (its creator failed before upload) gets the upload completed here.
func (s *IngestService) mergeExisting(ctx context.Context, existing *domain.Artwork, payload []byte, extHint string, tags []string, meta domain.SourceMetadata) (*IngestResult, error) {
	if err := s.merge(ctx, existing, tags, meta); err != nil {
		return nil, err
	}
	if !existing.HasBlob() {
		if err := s.storeBlob(ctx, existing.ID, payload, extHint); err != nil {
			return nil, err
		}
	}
	return &IngestResult{ID: existing.ID, Outcome: domain.OutcomeMerged}, nil
}

// merge applies MergeInto with a compare-and-swap write, re-reading the record on conflict.
func (s *IngestService) merge(ctx context.Context, current *domain.Artwork, tags []string, meta domain.SourceMetadata) error {
	for attempt := 1; ; attempt++ {
		if !domain.MergeInto(current, tags, meta) {
			return nil
		}
		ok, err := s.artworks.UpdateMerged(ctx, current)
		if err != nil {
			return fmt.Errorf("failed to update artwork: %w", err)
		}
		if ok {
			return nil
		}
		if attempt >= s.mergeAttempts {
			return fmt.Errorf("failed to merge artwork %s: still conflicting after %d attempts", current.ID, attempt)
		}

		s.log(ctx).WithField(logger.FieldRetry, attempt).Debug("Merge conflict, re-reading artwork")
		reloaded, err := s.artworks.GetByID(ctx, current.ID)
		if err != nil {
			return fmt.Errorf("failed to reload artwork: %w", err)
		}
		*current = *reloaded
	}
}

// storeBlob uploads the payload, records its reference and schedules indexing.
func (s *IngestService) storeBlob(ctx context.Context, id string, payload []byte, extHint string) error {
	format, width, height := sniffImage(payload)
	ext := format
	if ext == "" {
		ext = extHint
	}

	ref, err := s.blobs.Put(ctx, id, payload, ext)
	if err != nil {
		return fmt.Errorf("failed to upload blob: %w", err)
	}
	if err := s.artworks.SetBlob(ctx, id, ref, width, height); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Row removed by a repair sweep while the upload was in flight.
			if delErr := s.blobs.Delete(ctx, ref); delErr != nil {
				s.log(ctx).WithError(delErr).Warn("Failed to delete orphaned blob")
			}
		}
		return fmt.Errorf("failed to record blob reference: %w", err)
	}
	if _, err := s.tasks.EnqueueIndexEmbedding(ctx, id, s.indexDelay); err != nil {
		// The backfill task picks up records that never got an index job.
		s.log(ctx).WithError(err).Warn("Failed to enqueue embedding job")
	}
	return nil
}

// sniffImage returns the extension and dimensions of an image payload, or
// an empty format when the payload is not a decodable image.
func sniffImage(data []byte) (string, int, int) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", 0, 0
	}
	if format == "jpeg" {
		format = "jpg"
	}
	return format, cfg.Width, cfg.Height
}

// IngestItem runs one source item through the pipeline.
// Items with disallowed extensions and items whose source identity is already
// archived are skipped before download.
func (s *IngestService) IngestItem(ctx context.Context, item source.Item) (*IngestResult, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}
	if item.HasExtension(s.disallowedExtensions) {
		return &IngestResult{Outcome: domain.OutcomeSkipped}, nil
	}

	seen, err := s.alreadyArchived(ctx, item)
	if err != nil {
		return nil, err
	}
	if seen {
		return &IngestResult{Outcome: domain.OutcomeSkipped}, nil
	}

	payload, err := s.fetcher.Fetch(ctx, item)
	if err != nil {
		return nil, err
	}
	return s.Ingest(ctx, payload, item.Extension(), item.Tags, item.Metadata())
}

// alreadyArchived is the source-level duplicate guard: a known set page or external id.
func (s *IngestService) alreadyArchived(ctx context.Context, item source.Item) (bool, error) {
	if m, ok := item.Membership().(domain.SetMember); ok {
		exists, err := s.artworks.ExistsBySetPage(ctx, m.SourceSetID, m.PageNo)
		if err != nil {
			return false, fmt.Errorf("failed to check set page: %w", err)
		}
		if exists {
			return true, nil
		}
	}
	if item.ExternalID != nil {
		exists, err := s.artworks.ExistsByExternalID(ctx, *item.ExternalID)
		if err != nil {
			return false, fmt.Errorf("failed to check external id: %w", err)
		}
		return exists, nil
	}
	return false, nil
}

// SubmitItems validates every item synchronously, then enqueues one ingest job per item.
// Nothing is enqueued when any item is invalid.
func (s *IngestService) SubmitItems(ctx context.Context, sourceName string, items []source.Item) (int, error) {
	for i, item := range items {
		if err := item.Validate(); err != nil {
			return 0, fmt.Errorf("item %d: %w", i, err)
		}
	}

	queued := 0
	for _, item := range items {
		if err := s.tasks.EnqueueIngestItem(ctx, sourceName, item); err != nil {
			return queued, fmt.Errorf("failed to enqueue item: %w", err)
		}
		queued++
	}
	return queued, nil
}

// SubmissionStatus is the acknowledgement returned to push clients.
type SubmissionStatus string

const (
	SubmissionQueued          SubmissionStatus = "queued"
	SubmissionAlreadyArchived SubmissionStatus = "already_archived"
)

// SubmissionResult acknowledges a push submission. It never carries the pipeline result.
type SubmissionResult struct {
	Status SubmissionStatus `json:"status"`
	Queued int              `json:"queued"`
}

// SubmitPixiv acknowledges a userscript submission, short-circuiting sets that are already archived.
func (s *IngestService) SubmitPixiv(ctx context.Context, sub *pixiv.Submission) (*SubmissionResult, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	exists, err := s.artworks.ExistsBySet(ctx, sub.IllustrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to check set: %w", err)
	}
	if exists {
		return &SubmissionResult{Status: SubmissionAlreadyArchived}, nil
	}

	queued, err := s.SubmitItems(ctx, pixiv.SourceName, sub.Items(s.pixivReferer))
	if err != nil {
		return nil, err
	}
	return &SubmissionResult{Status: SubmissionQueued, Queued: queued}, nil
}

// IngestStats holds statistics for an ingestion run
type IngestStats struct {
	TotalItems   int64
	CreatedItems int64
	MergedItems  int64
	SkippedItems int64
	FailedItems  int64
	StartTime    time.Time
	EndTime      time.Time
}

// PullOptions controls a pull-source run.
type PullOptions struct {
	Query     string
	Limit     int
	BatchSize int
	// Direct runs the pipeline in-process through the worker pool instead of enqueuing.
	Direct bool
}

// PullFromSource walks a pull source and either enqueues or directly ingests its items.
// The run and its counters are recorded in the run store.
func (s *IngestService) PullFromSource(ctx context.Context, src source.Source, opts PullOptions) (*domain.IngestRun, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}

	run := &domain.IngestRun{
		ID:        uuid.New().String(),
		Source:    src.Name(),
		Query:     opts.Query,
		Status:    domain.RunStatusRunning,
		StartedAt: s.now(),
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record ingest run: %w", err)
	}

	ctx = logger.SetRunID(logger.SetSource(ctx, src.Name()), run.ID)
	s.log(ctx).WithFields(logger.Fields{
		"query":  opts.Query,
		"limit":  opts.Limit,
		"direct": opts.Direct,
	}).Info("Starting ingestion")

	var items []source.Item
	cursor := ""
	var fetchErr error
	for opts.Limit <= 0 || len(items) < opts.Limit {
		if ctx.Err() != nil {
			fetchErr = ctx.Err()
			break
		}
		batchLimit := opts.BatchSize
		if opts.Limit > 0 && opts.Limit-len(items) < batchLimit {
			batchLimit = opts.Limit - len(items)
		}

		batch, next, err := src.FetchBatch(ctx, opts.Query, cursor, batchLimit)
		if err != nil {
			fetchErr = err
			s.log(ctx).WithError(err).Error("Failed to fetch batch")
			break
		}
		items = append(items, batch...)
		if next == "" || len(batch) == 0 {
			break
		}
		cursor = next
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}

	var stats *IngestStats
	if opts.Direct {
		stats = s.RunItems(ctx, items)
	} else {
		stats = s.enqueueItems(ctx, src.Name(), items)
	}

	completed := s.now()
	run.Total = int(stats.TotalItems)
	run.Created = int(stats.CreatedItems)
	run.Merged = int(stats.MergedItems)
	run.Skipped = int(stats.SkippedItems)
	run.Failed = int(stats.FailedItems)
	run.CompletedAt = &completed
	run.Status = domain.RunStatusCompleted
	if fetchErr != nil {
		run.Status = domain.RunStatusFailed
		run.ErrorLog = fetchErr.Error()
	}
	if err := s.runs.Save(ctx, run); err != nil {
		s.log(ctx).WithError(err).Error("Failed to save ingest run")
	}

	s.log(ctx).WithFields(logger.Fields{
		"total":   run.Total,
		"created": run.Created,
		"merged":  run.Merged,
		"skipped": run.Skipped,
		"failed":  run.Failed,
	}).Info("Ingestion completed")

	return run, nil
}

func (s *IngestService) enqueueItems(ctx context.Context, sourceName string, items []source.Item) *IngestStats {
	stats := &IngestStats{StartTime: s.now(), TotalItems: int64(len(items))}
	for _, item := range items {
		if err := item.Validate(); err != nil {
			stats.SkippedItems++
			continue
		}
		if err := s.tasks.EnqueueIngestItem(ctx, sourceName, item); err != nil {
			s.log(ctx).WithError(err).Error("Failed to enqueue item")
			stats.FailedItems++
		}
	}
	stats.EndTime = s.now()
	return stats
}

type processResult struct {
	result *IngestResult
	err    error
}

// RunItems ingests items in-process with a fixed pool of workers.
func (s *IngestService) RunItems(ctx context.Context, items []source.Item) *IngestStats {
	stats := &IngestStats{StartTime: s.now(), TotalItems: int64(len(items))}

	itemsChan := make(chan source.Item, s.workers*2)
	resultsChan := make(chan processResult, s.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range itemsChan {
				res, err := s.IngestItem(ctx, item)
				resultsChan <- processResult{result: res, err: err}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		for r := range resultsChan {
			switch {
			case r.err != nil:
				atomic.AddInt64(&stats.FailedItems, 1)
				s.log(ctx).WithError(r.err).Error("Failed to process item")
			case r.result.Outcome == domain.OutcomeCreated:
				atomic.AddInt64(&stats.CreatedItems, 1)
			case r.result.Outcome == domain.OutcomeMerged:
				atomic.AddInt64(&stats.MergedItems, 1)
			default:
				atomic.AddInt64(&stats.SkippedItems, 1)
			}
		}
		close(done)
	}()

feed:
	for _, item := range items {
		select {
		case itemsChan <- item:
		case <-ctx.Done():
			break feed
		}
	}
	close(itemsChan)
	wg.Wait()
	close(resultsChan)
	<-done

	stats.EndTime = s.now()
	return stats
}
