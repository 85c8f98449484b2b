package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/easeaico/agent-chat/internal/types"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func invalidBody(err error) error {
	return fmt.Errorf("%w: %v", types.ErrInvalidRequest, err)
}

// respondError maps service errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status, code := statusOf(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err.Error())
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{Message: err.Error(), Code: code}})
}

func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, types.ErrEmbeddingNotConfigured):
		return http.StatusUnprocessableEntity, "embedding_not_configured"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
