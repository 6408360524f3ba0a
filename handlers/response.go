package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"geocompliance-backend/identity"
	"geocompliance-backend/service"
	"geocompliance-backend/storage"
)

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// respondServiceError maps pipeline errors onto HTTP status codes
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyFeatureText),
		errors.Is(err, service.ErrEmptyDocument),
		errors.Is(err, identity.ErrInvalidRegion):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, service.ErrClarificationNotFound):
		respondError(c, http.StatusNotFound, "CLARIFICATION_NOT_FOUND", err.Error())
	case errors.Is(err, storage.ErrPathNotAllowed):
		respondError(c, http.StatusBadRequest, "INVALID_SOURCE", err.Error())
	case errors.Is(err, storage.ErrNotFound):
		respondError(c, http.StatusNotFound, "DOCUMENT_NOT_FOUND", err.Error())
	case errors.Is(err, storage.ErrUnsupportedFormat):
		respondError(c, http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT", err.Error())
	case errors.Is(err, storage.ErrDocumentTooLarge):
		respondError(c, http.StatusRequestEntityTooLarge, "DOCUMENT_TOO_LARGE", err.Error())
	case errors.Is(err, service.ErrUpsertConflict):
		respondError(c, http.StatusConflict, "UPSERT_CONFLICT", err.Error())
	case errors.Is(err, service.ErrEmbeddingUnavailable):
		respondError(c, http.StatusServiceUnavailable, "EMBEDDING_UNAVAILABLE", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
