package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
)

// respondError maps classified service errors to their HTTP status. Anything unclassified is a 500
// whose cause is attached to the context for the request logger.
func respondError(c *gin.Context, err error) {
	e, ok := domain.AsError(err)
	if !ok {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "internal server error"})
		return
	}
	c.JSON(statusOf(e), gin.H{"error": e.Code, "error_description": e.Detail})
}

func statusOf(e *domain.Error) int {
	switch {
	case errors.Is(e.Kind, domain.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(e.Kind, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(e.Kind, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(e.Kind, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, description string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": description})
}
