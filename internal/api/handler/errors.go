package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/supaarchive/internal/domain"
	"github.com/timmy/supaarchive/internal/logger"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrPageOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUpstreamFetch), errors.Is(err, domain.ErrInferenceFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body. Server errors are logged.
func respondError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).WithError(err).Error(msg)
	}
	c.JSON(status, gin.H{
		"error": msg + ": " + err.Error(),
	})
}
