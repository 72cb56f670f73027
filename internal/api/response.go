package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/iBekzod/next-gen-being-sub006/internal/job"
	"github.com/iBekzod/next-gen-being-sub006/internal/store"
)

type APIError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func writeData(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"data":     data,
		"trace_id": traceIDFromContext(c),
	})
}

func writeError(c *gin.Context, status int, code, message string, retryable bool, details map[string]any) {
	c.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			Retryable: retryable,
			Details:   details,
		},
		"trace_id": traceIDFromContext(c),
	})
}

func writeUnauthorized(c *gin.Context) {
	writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", false, nil)
}

// writeServiceError maps orchestrator and repository errors onto the API
// envelope. notFoundCode names the missing resource.
func writeServiceError(c *gin.Context, err error, notFoundCode, notFoundMessage string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(c, http.StatusNotFound, notFoundCode, notFoundMessage, false, nil)
	case errors.Is(err, store.ErrForbidden):
		writeError(c, http.StatusForbidden, "FORBIDDEN", "No access to resource", false, nil)
	case errors.Is(err, job.ErrQuotaExceeded):
		writeError(c, http.StatusPaymentRequired, "QUOTA_EXCEEDED", "Video generation quota exceeded for your plan", false, nil)
	case errors.Is(err, job.ErrInvalidFormat):
		writeError(c, http.StatusBadRequest, "INVALID_FORMAT", err.Error(), false, nil)
	case errors.Is(err, job.ErrInvalidState), errors.Is(err, store.ErrConflict):
		writeError(c, http.StatusConflict, "INVALID_STATE", err.Error(), false, nil)
	default:
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error", true, nil)
	}
}
