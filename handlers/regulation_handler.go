package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"geocompliance-backend/identity"
	"geocompliance-backend/repository"
)

// RegulationHandler serves exact lookups against the relational store
type RegulationHandler struct {
	records *repository.RecordRepository
}

// NewRegulationHandler creates a new regulation handler
func NewRegulationHandler(records *repository.RecordRepository) *RegulationHandler {
	return &RegulationHandler{records: records}
}

// ListRegulations handles GET /api/regions/:region/regulations?statute=
func (h *RegulationHandler) ListRegulations(c *gin.Context) {
	regs, err := h.records.ListRegulations(c.Request.Context(), c.Param("region"), c.Query("statute"))
	if err != nil {
		h.respondLookupError(c, err)
		return
	}
	respondOK(c, http.StatusOK, regs)
}

// ListDefinitions handles GET /api/regions/:region/definitions?statute=
func (h *RegulationHandler) ListDefinitions(c *gin.Context) {
	defs, err := h.records.ListDefinitions(c.Request.Context(), c.Param("region"), c.Query("statute"))
	if err != nil {
		h.respondLookupError(c, err)
		return
	}
	respondOK(c, http.StatusOK, defs)
}

// GetRegulation handles GET /api/regions/:region/regulations/:statute/:law_id
func (h *RegulationHandler) GetRegulation(c *gin.Context) {
	reg, err := h.records.GetRegulation(c.Request.Context(), c.Param("region"), c.Param("statute"), c.Param("law_id"))
	if err != nil {
		h.respondLookupError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"regulation_name": identity.RegulationName(reg.Region, reg.Statute, reg.LawID),
		"regulation":      reg,
	})
}

// Stats handles GET /api/regions/:region/stats
func (h *RegulationHandler) Stats(c *gin.Context) {
	defs, regs, err := h.records.CountRecords(c.Request.Context(), c.Param("region"))
	if err != nil {
		h.respondLookupError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"definitions": defs,
		"regulations": regs,
	})
}

func (h *RegulationHandler) respondLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidRegion):
		respondError(c, http.StatusBadRequest, "INVALID_REGION", err.Error())
	case errors.Is(err, repository.ErrRecordNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "Regulation not found")
	default:
		respondError(c, http.StatusInternalServerError, "LOOKUP_FAILED", err.Error())
	}
}
