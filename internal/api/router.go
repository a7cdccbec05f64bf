package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/supaarchive/internal/api/handler"
	"github.com/timmy/supaarchive/internal/api/middleware"
	"github.com/timmy/supaarchive/internal/config"
	"github.com/timmy/supaarchive/internal/logger"
)

// Handlers groups the HTTP handlers mounted by the router.
type Handlers struct {
	Health     *handler.HealthHandler
	Search     *handler.SearchHandler
	Artwork    *handler.ArtworkHandler
	Submission *handler.SubmissionHandler
	Admin      *handler.AdminHandler
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(h *Handlers, cfg *config.ServerConfig, log *logger.Logger) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))

	// Health check
	r.GET("/health", h.Health.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Push submissions
		v1.POST("/submissions/pixiv", h.Submission.SubmitPixiv)

		// Pull sources
		v1.GET("/sources", h.Admin.ListSources)
		v1.POST("/sources/:source/fetch", h.Admin.TriggerFetch)

		// Search
		v1.GET("/search", h.Search.Search)

		// Artworks
		v1.GET("/artworks/:id", h.Artwork.GetArtwork)
		v1.GET("/artworks/:id/similar", h.Search.Similar)
		v1.GET("/gallery", h.Artwork.Gallery)

		// Stats
		v1.GET("/stats", h.Artwork.GetStats)
	}

	admin := v1.Group("/admin")
	{
		admin.POST("/artworks/:id/translate", h.Admin.TriggerTranslate)
		admin.POST("/embeddings/backfill", h.Admin.TriggerBackfill)
		admin.POST("/repair/broken", h.Admin.TriggerRemoveBroken)
		admin.POST("/repair/disallowed-media", h.Admin.TriggerRemoveDisallowedMedia)
		admin.GET("/dead-letters", h.Admin.ListDeadLetters)
		admin.POST("/dead-letters/:id/requeue", h.Admin.RequeueDeadLetter)
		admin.GET("/tasks", h.Admin.ListRecentTasks)
		admin.GET("/tasks/:id", h.Admin.GetTaskStatus)
		admin.GET("/runs", h.Admin.ListRuns)
	}

	return r
}
