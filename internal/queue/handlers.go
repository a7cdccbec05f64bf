package queue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/timmy/supaarchive/internal/domain"
	"github.com/timmy/supaarchive/internal/logger"
	"github.com/timmy/supaarchive/internal/service"
	"github.com/timmy/supaarchive/internal/source"
)

// Ingester runs the ingestion pipeline.
type Ingester interface {
	IngestItem(ctx context.Context, item source.Item) (*service.IngestResult, error)
	PullFromSource(ctx context.Context, src source.Source, opts service.PullOptions) (*domain.IngestRun, error)
}

// Indexer embeds artworks into the vector index.
type Indexer interface {
	IndexEmbedding(ctx context.Context, id string) error
	BackfillMissingEmbeddings(ctx context.Context) (int, error)
}

// Repairer runs maintenance sweeps.
type Repairer interface {
	RemoveBroken(ctx context.Context) (*service.RepairStats, error)
	RemoveDisallowedMedia(ctx context.Context) (*service.RepairStats, error)
}

// MetadataTranslator translates artwork metadata.
type MetadataTranslator interface {
	TranslateArtwork(ctx context.Context, id string) (int, error)
}

// Handlers dispatches tasks to the services.
type Handlers struct {
	ingest     Ingester
	indexer    Indexer
	repair     Repairer
	translator MetadataTranslator
	sources    *source.Registry
}

// NewHandlers creates the task handlers. translator may be nil when translation
// is not configured.
func NewHandlers(ingest Ingester, indexer Indexer, repair Repairer, translator MetadataTranslator, sources *source.Registry) *Handlers {
	return &Handlers{
		ingest:     ingest,
		indexer:    indexer,
		repair:     repair,
		translator: translator,
		sources:    sources,
	}
}

// Register binds every task type on mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeIngestItem, h.HandleIngestItem)
	mux.HandleFunc(TypeFetchSource, h.HandleFetchSource)
	mux.HandleFunc(TypeIndexEmbedding, h.HandleIndexEmbedding)
	mux.HandleFunc(TypeBackfillEmbeddings, h.HandleBackfill)
	mux.HandleFunc(TypeRemoveBroken, h.HandleRemoveBroken)
	mux.HandleFunc(TypeRemoveDisallowedMedia, h.HandleRemoveDisallowedMedia)
	mux.HandleFunc(TypeTranslateMetadata, h.HandleTranslate)
}

// HandleIngestItem downloads and ingests one item.
func (h *Handlers) HandleIngestItem(ctx context.Context, t *asynq.Task) error {
	var p IngestItemPayload
	if err := decode(t, &p); err != nil {
		return err
	}
	ctx = logger.SetSource(ctx, p.Source)

	result, err := h.ingest.IngestItem(ctx, p.Item)
	if err != nil {
		return err
	}
	logger.With(logger.Fields{
		logger.FieldArtworkID: result.ID,
		logger.FieldStatus:    string(result.Outcome),
	}).Debug(ctx, "Item ingested")
	return nil
}

// HandleFetchSource walks a pull source and enqueues its items.
func (h *Handlers) HandleFetchSource(ctx context.Context, t *asynq.Task) error {
	var p FetchSourcePayload
	if err := decode(t, &p); err != nil {
		return err
	}
	src, err := h.sources.Get(p.Source)
	if err != nil {
		return err
	}
	ctx = logger.SetSource(ctx, p.Source)

	run, err := h.ingest.PullFromSource(ctx, src, service.PullOptions{Query: p.Query, Limit: p.Limit})
	if err != nil {
		return err
	}
	logger.With(logger.Fields{logger.FieldRunID: run.ID}).WithCount(run.Total).
		Info(ctx, "Source %s fetched: %d queued, %d skipped, %d failed", p.Source, run.Total-run.Skipped-run.Failed, run.Skipped, run.Failed)
	return nil
}

// HandleIndexEmbedding embeds one artwork.
func (h *Handlers) HandleIndexEmbedding(ctx context.Context, t *asynq.Task) error {
	var p ArtworkPayload
	if err := decode(t, &p); err != nil {
		return err
	}
	return h.indexer.IndexEmbedding(logger.SetArtworkID(ctx, p.ArtworkID), p.ArtworkID)
}

// HandleBackfill embeds every record that has no embedding yet.
func (h *Handlers) HandleBackfill(ctx context.Context, _ *asynq.Task) error {
	n, err := h.indexer.BackfillMissingEmbeddings(ctx)
	if err != nil {
		return err
	}
	logger.With(nil).WithCount(n).Info(ctx, "Embedding backfill finished")
	return nil
}

// HandleRemoveBroken runs the broken-record sweep.
func (h *Handlers) HandleRemoveBroken(ctx context.Context, _ *asynq.Task) error {
	stats, err := h.repair.RemoveBroken(ctx)
	if err != nil {
		return err
	}
	logRepair(ctx, "broken", stats)
	return nil
}

// HandleRemoveDisallowedMedia removes records with disallowed extensions.
func (h *Handlers) HandleRemoveDisallowedMedia(ctx context.Context, _ *asynq.Task) error {
	stats, err := h.repair.RemoveDisallowedMedia(ctx)
	if err != nil {
		return err
	}
	logRepair(ctx, "disallowed media", stats)
	return nil
}

// HandleTranslate translates the metadata of one artwork and its set.
func (h *Handlers) HandleTranslate(ctx context.Context, t *asynq.Task) error {
	if h.translator == nil {
		return fmt.Errorf("%w: translation is not configured", domain.ErrValidation)
	}
	var p ArtworkPayload
	if err := decode(t, &p); err != nil {
		return err
	}
	n, err := h.translator.TranslateArtwork(logger.SetArtworkID(ctx, p.ArtworkID), p.ArtworkID)
	if err != nil {
		return err
	}
	logger.With(logger.Fields{logger.FieldArtworkID: p.ArtworkID}).WithCount(n).Info(ctx, "Metadata translated")
	return nil
}

func logRepair(ctx context.Context, sweep string, stats *service.RepairStats) {
	logger.With(logger.Fields{
		"scanned":  stats.Scanned,
		"deleted":  stats.Deleted,
		"retained": stats.Retained,
	}).Info(ctx, "Repair sweep (%s) finished", sweep)
}
