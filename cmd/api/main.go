package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/supaarchive/internal/api"
	"github.com/timmy/supaarchive/internal/api/handler"
	"github.com/timmy/supaarchive/internal/bootstrap"
	"github.com/timmy/supaarchive/internal/config"
	"github.com/timmy/supaarchive/internal/logger"
	"github.com/timmy/supaarchive/internal/queue"
)

func main() {
	appLogger := logger.NewDefault().WithField(logger.FieldComponent, "api")
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx := context.Background()
	app, err := bootstrap.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer app.Close()

	inspector := queue.NewInspector(&cfg.Redis, &cfg.Queue)
	defer inspector.Close()

	router := api.SetupRouter(&api.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"database": app.PingDB,
			"redis":    app.PingRedis,
		}),
		Search:     handler.NewSearchHandler(app.Search),
		Artwork:    handler.NewArtworkHandler(app.Artwork),
		Submission: handler.NewSubmissionHandler(app.Ingest),
		Admin:      handler.NewAdminHandler(app.Tasks, inspector, app.Status, app.Sources, app.Runs),
	}, &cfg.Server, appLogger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
