package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"geocompliance-backend/models"
	"geocompliance-backend/service"
)

const maxBatchAssessments = 50

// AssessmentHandler handles feature assessment and clarification requests
type AssessmentHandler struct {
	matcher     *service.MatchingService
	coordinator *service.Coordinator
}

// NewAssessmentHandler creates a new assessment handler
func NewAssessmentHandler(matcher *service.MatchingService, coordinator *service.Coordinator) *AssessmentHandler {
	return &AssessmentHandler{
		matcher:     matcher,
		coordinator: coordinator,
	}
}

// Assess handles POST /api/assess. The response carries either an
// assessment or a clarification to answer through the resume endpoint.
func (h *AssessmentHandler) Assess(c *gin.Context) {
	var req service.AssessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	outcome, err := h.coordinator.Analyze(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, statusFor(outcome), outcome)
}

// AssessBatchRequest represents the request body for batch assessment
type AssessBatchRequest struct {
	Features []service.AssessRequest `json:"features" binding:"required,min=1,dive"`
}

// AssessBatch handles POST /api/assess/batch. Batch assessments never
// suspend for clarification.
func (h *AssessmentHandler) AssessBatch(c *gin.Context) {
	var req AssessBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if len(req.Features) > maxBatchAssessments {
		respondError(c, http.StatusBadRequest, "BATCH_TOO_LARGE", "At most 50 features per batch")
		return
	}

	out := make([]*models.ComplianceAssessment, len(req.Features))
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.SetLimit(4)
	for i, f := range req.Features {
		g.Go(func() error {
			a, err := h.matcher.Assess(ctx, f)
			out[i] = a
			return err
		})
	}
	if err := g.Wait(); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, out)
}

// GetClarification handles GET /api/clarifications/:id
func (h *AssessmentHandler) GetClarification(c *gin.Context) {
	pending, err := h.coordinator.Pending(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"state":         service.StateAwaitingResponse,
		"clarification": pending,
	})
}

// ResumeRequest represents the answer to a clarification
type ResumeRequest struct {
	Answer string `json:"answer" binding:"required"`
}

// Resume handles POST /api/clarifications/:id/resume
func (h *AssessmentHandler) Resume(c *gin.Context) {
	var req ResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	outcome, err := h.coordinator.Resume(c.Request.Context(), c.Param("id"), req.Answer)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, statusFor(outcome), outcome)
}

// CancelClarification handles DELETE /api/clarifications/:id
func (h *AssessmentHandler) CancelClarification(c *gin.Context) {
	if err := h.coordinator.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"state": service.StateIdle})
}

func statusFor(outcome *service.Outcome) int {
	if outcome.Clarification != nil {
		return http.StatusAccepted
	}
	return http.StatusOK
}
