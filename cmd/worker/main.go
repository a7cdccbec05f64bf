package main

import (
	"context"
	"os"

	"github.com/timmy/supaarchive/internal/bootstrap"
	"github.com/timmy/supaarchive/internal/config"
	"github.com/timmy/supaarchive/internal/logger"
	"github.com/timmy/supaarchive/internal/queue"
)

func main() {
	appLogger := logger.NewDefault().WithField(logger.FieldComponent, "worker")
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	app, err := bootstrap.New(context.Background(), cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer app.Close()

	handlers := queue.NewHandlers(app.Ingest, app.Indexer, app.Repair, app.MetadataTranslator(), app.Sources)
	srv := queue.NewServer(&cfg.Redis, &cfg.Queue, handlers, app.Status)

	appLogger.WithFields(logger.Fields{
		"queue":       cfg.Queue.Name,
		"concurrency": cfg.Queue.Concurrency,
		"max_retry":   cfg.Queue.MaxRetry,
	}).Info("Starting worker")

	// Run blocks until SIGINT/SIGTERM and drains active tasks.
	if err := srv.Run(); err != nil {
		appLogger.WithError(err).Fatal("Worker stopped")
	}
	appLogger.Info("Worker exited")
}
