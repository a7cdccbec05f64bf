// Package bootstrap wires configuration into repositories, services and the task queue.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/timmy/supaarchive/internal/config"
	"github.com/timmy/supaarchive/internal/logger"
	"github.com/timmy/supaarchive/internal/queue"
	"github.com/timmy/supaarchive/internal/repository"
	"github.com/timmy/supaarchive/internal/service"
	"github.com/timmy/supaarchive/internal/source"
	"github.com/timmy/supaarchive/internal/source/gelbooru"
	"github.com/timmy/supaarchive/internal/source/staging"
	"github.com/timmy/supaarchive/internal/storage"
	"gorm.io/gorm"
)

// App holds every long-lived component of a process.
type App struct {
	Config *config.Config
	Logger *logger.Logger

	DB           *gorm.DB
	Redis        *redis.Client
	Artworks     *repository.ArtworkRepository
	Translations *repository.TranslationRepository
	Runs         *repository.IngestRunRepository
	Vectors      *repository.QdrantRepository
	Blobs        *storage.BlobStore

	Tasks  *queue.Client
	Status *queue.StatusStore

	Ingest    *service.IngestService
	Indexer   *service.IndexerService
	Search    *service.SearchService
	Repair    *service.RepairService
	Artwork   *service.ArtworkService
	Translate *service.TranslationService // nil when translation is not configured

	Sources *source.Registry
}

// New builds the application from configuration.
// Parameters:
//   - ctx: context for startup checks.
//   - cfg: loaded configuration.
//   - log: process logger.
//
// Returns:
//   - *App: wired application; Close it on shutdown.
//   - error: non-nil if a required backend cannot be initialized.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: log}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.DB = db
	app.Artworks = repository.NewArtworkRepository(db)
	app.Translations = repository.NewTranslationRepository(db)
	app.Runs = repository.NewIngestRunRepository(db)

	cfg.Embedding.ResolveEnvVars()
	if err := cfg.Embedding.Validate(); err != nil {
		return nil, err
	}

	app.Vectors, err = repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
		Host:            cfg.Qdrant.Host,
		Port:            cfg.Qdrant.Port,
		Collection:      cfg.Qdrant.Collection,
		APIKey:          cfg.Qdrant.APIKey,
		UseTLS:          cfg.Qdrant.UseTLS,
		VectorDimension: cfg.Embedding.Dimensions,
	})
	if err != nil {
		return nil, err
	}

	// Supports MinIO, R2 and S3
	objectStorage, err := storage.NewStorage(&storage.S3Config{
		Type:      storage.StorageType(cfg.Storage.Type),
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := objectStorage.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure storage bucket: %w", err)
	}
	app.Blobs = storage.NewBlobStore(objectStorage)

	app.Redis = queue.NewRedisClient(&cfg.Redis)
	app.Status = queue.NewStatusStore(app.Redis, 0)
	app.Tasks = queue.NewClient(&cfg.Redis, &cfg.Queue, app.Status)

	embedder := service.NewEmbeddingService(&cfg.Embedding)
	fetcher := source.NewFetcher(60*time.Second, cfg.Ingest.MaxPayloadSize)

	app.Ingest = service.NewIngestService(app.Artworks, app.Blobs, fetcher, app.Tasks, app.Runs, log, &service.IngestConfig{
		Workers:              cfg.Ingest.Workers,
		MergeAttempts:        cfg.Ingest.MergeAttempts,
		IndexDelay:           cfg.Queue.IndexDelay,
		DisallowedExtensions: cfg.Repair.DisallowedExtensions,
		PixivReferer:         cfg.Sources.Pixiv.Referer,
	})
	app.Indexer = service.NewIndexerService(app.Artworks, app.Blobs, embedder, app.Vectors, app.Tasks, cfg.Ingest.BackfillBatchSize)
	app.Search = service.NewSearchService(app.Artworks, app.Vectors, app.Blobs, embedder, log, &cfg.Search)
	app.Repair = service.NewRepairService(app.Artworks, app.Blobs, app.Vectors, app.Translations, &cfg.Repair)
	app.Artwork = service.NewArtworkService(app.Artworks, app.Translations, app.Blobs, cfg.Search.GalleryPageSize, cfg.Search.SetPreviewLimit)

	if err := cfg.Translation.Validate(); err != nil {
		log.WithError(err).Warn("Translation disabled")
	} else {
		translator := service.NewDeepLTranslator(&cfg.Translation)
		app.Translate = service.NewTranslationService(app.Artworks, app.Translations, translator, cfg.Translation.TargetLang)
	}

	app.Sources, err = buildSources(&cfg.Sources)
	if err != nil {
		return nil, err
	}
	log.WithField("sources", app.Sources.Names()).Info("Application initialized")

	return app, nil
}

// buildSources registers every enabled pull source.
func buildSources(cfg *config.SourcesConfig) (*source.Registry, error) {
	registry := source.NewRegistry()

	if cfg.Gelbooru.Enabled {
		registry.Register(gelbooru.NewAdapter(gelbooru.Config{
			BaseURL: cfg.Gelbooru.BaseURL,
			APIKey:  cfg.Gelbooru.APIKey,
			UserID:  cfg.Gelbooru.UserID,
		}))
	}

	if cfg.Staging.Enabled {
		ids, err := staging.ListStagingSources(cfg.Staging.BasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to list staging sources: %w", err)
		}
		for _, id := range ids {
			registry.Register(staging.NewAdapter(cfg.Staging.BasePath, id))
		}
	}

	return registry, nil
}

// MetadataTranslator returns the translation service as a queue handler
// dependency, or nil when translation is disabled.
func (a *App) MetadataTranslator() queue.MetadataTranslator {
	if a.Translate == nil {
		return nil
	}
	return a.Translate
}

// PingDB checks the database connection.
func (a *App) PingDB(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// PingRedis checks the redis connection.
func (a *App) PingRedis(ctx context.Context) error {
	return a.Status.Ping(ctx)
}

// Close releases connections held by the application.
func (a *App) Close() {
	if a.Tasks != nil {
		_ = a.Tasks.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Vectors != nil {
		_ = a.Vectors.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
