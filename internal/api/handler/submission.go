package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/supaarchive/internal/logger"
	"github.com/timmy/supaarchive/internal/service"
	"github.com/timmy/supaarchive/internal/source/pixiv"
)

// Submitter acknowledges push submissions.
type Submitter interface {
	SubmitPixiv(ctx context.Context, sub *pixiv.Submission) (*service.SubmissionResult, error)
}

// SubmissionHandler handles push submissions from the browser userscript.
type SubmissionHandler struct {
	ingest Submitter
}

// NewSubmissionHandler creates a new submission handler.
func NewSubmissionHandler(ingest Submitter) *SubmissionHandler {
	return &SubmissionHandler{ingest: ingest}
}

// SubmitPixiv handles POST /api/v1/submissions/pixiv. The response only
// acknowledges scheduling; ingestion runs in the worker.
func (h *SubmissionHandler) SubmitPixiv(c *gin.Context) {
	ctx := c.Request.Context()

	var sub pixiv.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	result, err := h.ingest.SubmitPixiv(ctx, &sub)
	if err != nil {
		respondError(c, "Submission rejected", err)
		return
	}

	logger.CtxInfo(ctx, "Pixiv submission: illustration_id=%d, pages=%d, status=%s",
		sub.IllustrationID, len(sub.Pages), result.Status)
	status := http.StatusAccepted
	if result.Status == service.SubmissionAlreadyArchived {
		status = http.StatusOK
	}
	c.JSON(status, result)
}
