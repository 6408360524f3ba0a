package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"geocompliance-backend/service"
	"geocompliance-backend/storage"
)

// IngestHandler handles HTTP requests that load regulatory documents
type IngestHandler struct {
	ingest      *service.IngestionService
	storage     storage.Storage
	maxFileSize int64
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(ingest *service.IngestionService, storage storage.Storage) *IngestHandler {
	return &IngestHandler{
		ingest:      ingest,
		storage:     storage,
		maxFileSize: 20 * 1024 * 1024, // 20MB
	}
}

// Ingest handles POST /api/ingest
func (h *IngestHandler) Ingest(c *gin.Context) {
	var req service.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := h.ingest.Ingest(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

// IngestBatchRequest represents the request body for batch ingestion
type IngestBatchRequest struct {
	Documents []service.IngestRequest `json:"documents" binding:"required,min=1,dive"`
}

type batchItemResponse struct {
	Request service.IngestRequest `json:"request"`
	Result  *service.IngestResult `json:"result,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// IngestBatch handles POST /api/ingest/batch
func (h *IngestHandler) IngestBatch(c *gin.Context) {
	var req IngestBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	items := h.ingest.IngestBatch(c.Request.Context(), req.Documents)
	out := make([]batchItemResponse, len(items))
	for i, item := range items {
		out[i] = batchItemResponse{Request: item.Request, Result: item.Result}
		if item.Err != nil {
			out[i].Error = item.Err.Error()
		}
	}
	respondOK(c, http.StatusOK, out)
}

// Upload handles POST /api/ingest/upload
func (h *IngestHandler) Upload(c *gin.Context) {
	region := strings.TrimSpace(c.PostForm("region"))
	statute := strings.TrimSpace(c.PostForm("statute"))
	if region == "" || statute == "" {
		respondError(c, http.StatusBadRequest, "MISSING_FIELDS", "region and statute are required")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "MISSING_FILE", "File is required")
		return
	}
	if fileHeader.Size > h.maxFileSize {
		respondError(c, http.StatusBadRequest, "FILE_TOO_LARGE",
			fmt.Sprintf("File size exceeds maximum of %d bytes", h.maxFileSize))
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		switch strings.ToLower(filepath.Ext(fileHeader.Filename)) {
		case ".txt", ".md":
			mimeType = "text/plain"
		}
	}
	if !strings.HasPrefix(mimeType, "text/") {
		respondError(c, http.StatusBadRequest, "INVALID_FILE_TYPE", "File type not allowed. Upload extracted text (TXT)")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "FILE_OPEN_ERROR", err.Error())
		return
	}
	defer file.Close()

	source, err := h.storage.Upload(c.Request.Context(), uuid.New(), fileHeader.Filename, file)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "UPLOAD_FAILED", fmt.Sprintf("Failed to upload file: %v", err))
		return
	}

	result, err := h.ingest.Ingest(c.Request.Context(), service.IngestRequest{
		Region:  region,
		Statute: statute,
		Source:  source,
	})
	if err != nil {
		// the document is kept only when it was ingested
		_ = h.storage.Delete(c.Request.Context(), source)
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, result)
}
