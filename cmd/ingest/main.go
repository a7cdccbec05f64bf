package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/supaarchive/internal/bootstrap"
	"github.com/timmy/supaarchive/internal/config"
	"github.com/timmy/supaarchive/internal/logger"
	"github.com/timmy/supaarchive/internal/service"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "supaarchive-ingest",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	sourceName := flag.String("source", "gelbooru", "Pull source to ingest from (gelbooru or staging:<id>)")
	query := flag.String("query", "", "Source query, e.g. space separated tags")
	limit := flag.Int("limit", 100, "Maximum number of items to ingest")
	direct := flag.Bool("direct", false, "Run the pipeline in-process instead of enqueuing")
	task := flag.String("task", "", "Enqueue a maintenance task instead: backfill, remove-broken, remove-disallowed-media")
	listSources := flag.Bool("list", false, "List registered sources and exit")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer app.Close()

	if *listSources {
		for _, name := range app.Sources.Names() {
			appLogger.WithField("source", name).Info("Registered source")
		}
		return
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	if *task != "" {
		var taskID string
		switch *task {
		case "backfill":
			taskID, err = app.Tasks.EnqueueBackfill(ctx)
		case "remove-broken":
			taskID, err = app.Tasks.EnqueueRemoveBroken(ctx)
		case "remove-disallowed-media":
			taskID, err = app.Tasks.EnqueueRemoveDisallowedMedia(ctx)
		default:
			appLogger.WithField("task", *task).Fatal("Unknown task")
		}
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to enqueue task")
		}
		appLogger.WithFields(logger.Fields{"task": *task, "task_id": taskID}).Info("Task enqueued")
		return
	}

	src, err := app.Sources.Get(*sourceName)
	if err != nil {
		appLogger.WithError(err).WithField("available", app.Sources.Names()).Fatal("Unknown source")
	}

	appLogger.WithFields(logger.Fields{
		"source": *sourceName,
		"query":  *query,
		"limit":  *limit,
		"direct": *direct,
	}).Info("Starting ingestion")

	run, err := app.Ingest.PullFromSource(ctx, src, service.PullOptions{
		Query:  *query,
		Limit:  *limit,
		Direct: *direct,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to ingest from source")
	}
	appLogger.WithFields(logger.Fields{
		"run_id":  run.ID,
		"total":   run.Total,
		"created": run.Created,
		"merged":  run.Merged,
		"skipped": run.Skipped,
		"failed":  run.Failed,
	}).Info("Ingestion completed")
}
