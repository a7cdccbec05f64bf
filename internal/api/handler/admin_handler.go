package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/supaarchive/internal/domain"
	"github.com/timmy/supaarchive/internal/logger"
	"github.com/timmy/supaarchive/internal/queue"
)

// TaskEnqueuer schedules background tasks.
type TaskEnqueuer interface {
	EnqueueFetchSource(ctx context.Context, sourceName, query string, limit int) (string, error)
	EnqueueTranslate(ctx context.Context, artworkID string) (string, error)
	EnqueueBackfill(ctx context.Context) (string, error)
	EnqueueRemoveBroken(ctx context.Context) (string, error)
	EnqueueRemoveDisallowedMedia(ctx context.Context) (string, error)
}

// DeadLetterQueue lists and requeues tasks that exhausted their retries.
type DeadLetterQueue interface {
	DeadLetters(page, pageSize int) ([]queue.DeadLetter, error)
	Requeue(taskID string) error
}

// TaskStatusReader reads recorded task states.
type TaskStatusReader interface {
	Get(ctx context.Context, taskID string) (*queue.TaskStatus, bool, error)
	Recent(ctx context.Context, n int) ([]string, error)
}

// RunLister lists recorded pull-source runs.
type RunLister interface {
	ListRecent(ctx context.Context, limit int) ([]domain.IngestRun, error)
}

// SourceLister resolves registered pull sources.
type SourceLister interface {
	Names() []string
}

// AdminHandler handles admin operations.
type AdminHandler struct {
	tasks       TaskEnqueuer
	deadLetters DeadLetterQueue
	statuses    TaskStatusReader
	sources     SourceLister
	runs        RunLister
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - tasks: task client used to schedule work.
//   - deadLetters: dead-letter inspector.
//   - statuses: task status store.
//   - sources: registered pull sources.
//   - runs: ingest run history.
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(tasks TaskEnqueuer, deadLetters DeadLetterQueue, statuses TaskStatusReader, sources SourceLister, runs RunLister) *AdminHandler {
	return &AdminHandler{
		tasks:       tasks,
		deadLetters: deadLetters,
		statuses:    statuses,
		sources:     sources,
		runs:        runs,
	}
}

// FetchRequest represents a pull-source fetch request.
type FetchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit" binding:"omitempty,min=1,max=100000"`
}

// TaskResponse acknowledges a scheduled task.
type TaskResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id,omitempty"`
}

// ListSources handles GET /api/v1/sources.
func (h *AdminHandler) ListSources(c *gin.Context) {
	names := h.sources.Names()
	c.JSON(http.StatusOK, gin.H{
		"sources": names,
		"total":   len(names),
	})
}

// TriggerFetch handles POST /api/v1/sources/:source/fetch.
func (h *AdminHandler) TriggerFetch(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("source")

	var req FetchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.CtxWarn(ctx, "Invalid fetch request: client_ip=%s, error=%v", c.ClientIP(), err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if !h.hasSource(name) {
		logger.CtxWarn(ctx, "Unknown source requested: source=%s, client_ip=%s", name, c.ClientIP())
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown source: " + name})
		return
	}

	taskID, err := h.tasks.EnqueueFetchSource(ctx, name, req.Query, req.Limit)
	if err != nil {
		respondError(c, "Failed to schedule fetch", err)
		return
	}

	logger.CtxInfo(ctx, "Fetch scheduled: source=%s, query=%q, limit=%d, task_id=%s", name, req.Query, req.Limit, taskID)
	c.JSON(http.StatusAccepted, TaskResponse{Message: "Fetch scheduled", TaskID: taskID})
}

func (h *AdminHandler) hasSource(name string) bool {
	for _, n := range h.sources.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// TriggerTranslate handles POST /api/v1/admin/artworks/:id/translate.
func (h *AdminHandler) TriggerTranslate(c *gin.Context) {
	h.schedule(c, "Translation scheduled", func(ctx context.Context) (string, error) {
		return h.tasks.EnqueueTranslate(ctx, c.Param("id"))
	})
}

// TriggerBackfill handles POST /api/v1/admin/embeddings/backfill.
func (h *AdminHandler) TriggerBackfill(c *gin.Context) {
	h.schedule(c, "Embedding backfill scheduled", h.tasks.EnqueueBackfill)
}

// TriggerRemoveBroken handles POST /api/v1/admin/repair/broken.
func (h *AdminHandler) TriggerRemoveBroken(c *gin.Context) {
	h.schedule(c, "Broken record sweep scheduled", h.tasks.EnqueueRemoveBroken)
}

// TriggerRemoveDisallowedMedia handles POST /api/v1/admin/repair/disallowed-media.
func (h *AdminHandler) TriggerRemoveDisallowedMedia(c *gin.Context) {
	h.schedule(c, "Disallowed media sweep scheduled", h.tasks.EnqueueRemoveDisallowedMedia)
}

func (h *AdminHandler) schedule(c *gin.Context, msg string, enqueue func(ctx context.Context) (string, error)) {
	ctx := c.Request.Context()
	taskID, err := enqueue(ctx)
	if err != nil {
		respondError(c, "Failed to schedule task", err)
		return
	}
	logger.CtxInfo(ctx, "%s: task_id=%s, client_ip=%s", msg, taskID, c.ClientIP())
	c.JSON(http.StatusAccepted, TaskResponse{Message: msg, TaskID: taskID})
}

// ListDeadLetters handles GET /api/v1/admin/dead-letters.
func (h *AdminHandler) ListDeadLetters(c *gin.Context) {
	page := queryInt(c, "page", 1)
	tasks, err := h.deadLetters.DeadLetters(page, queryInt(c, "page_size", 30))
	if err != nil {
		respondError(c, "Failed to list dead letters", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"page":  page,
	})
}

// RequeueDeadLetter handles POST /api/v1/admin/dead-letters/:id/requeue.
func (h *AdminHandler) RequeueDeadLetter(c *gin.Context) {
	taskID := c.Param("id")
	if err := h.deadLetters.Requeue(taskID); err != nil {
		respondError(c, "Failed to requeue task", err)
		return
	}
	logger.CtxInfo(c.Request.Context(), "Dead letter requeued: task_id=%s", taskID)
	c.JSON(http.StatusAccepted, TaskResponse{Message: "Task requeued", TaskID: taskID})
}

// GetTaskStatus handles GET /api/v1/admin/tasks/:id.
func (h *AdminHandler) GetTaskStatus(c *gin.Context) {
	taskID := c.Param("id")
	st, ok, err := h.statuses.Get(c.Request.Context(), taskID)
	if err != nil {
		respondError(c, "Failed to read task status", err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"task_id": taskID, "state": "NOT_FOUND"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// ListRecentTasks handles GET /api/v1/admin/tasks.
func (h *AdminHandler) ListRecentTasks(c *gin.Context) {
	ctx := c.Request.Context()
	ids, err := h.statuses.Recent(ctx, queryInt(c, "limit", 30))
	if err != nil {
		respondError(c, "Failed to list tasks", err)
		return
	}

	tasks := make([]*queue.TaskStatus, 0, len(ids))
	for _, id := range ids {
		st, ok, err := h.statuses.Get(ctx, id)
		if err != nil {
			respondError(c, "Failed to read task status", err)
			return
		}
		if !ok {
			st = &queue.TaskStatus{TaskID: id, State: queue.StatePending}
		}
		tasks = append(tasks, st)
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"total": len(tasks),
	})
}

// ListRuns handles GET /api/v1/admin/runs.
func (h *AdminHandler) ListRuns(c *gin.Context) {
	runs, err := h.runs.ListRecent(c.Request.Context(), queryInt(c, "limit", 20))
	if err != nil {
		respondError(c, "Failed to list ingest runs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"total": len(runs),
	})
}
