package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers groups everything NewRouter mounts
type Handlers struct {
	Ingest       *IngestHandler
	Assessment   *AssessmentHandler
	Regulation   *RegulationHandler
	APITokenHash string
}

// NewRouter builds the HTTP API
func NewRouter(h Handlers) *gin.Engine {
	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		ingest := api.Group("/ingest", RequireAPIToken(h.APITokenHash))
		{
			ingest.POST("", h.Ingest.Ingest)
			ingest.POST("/batch", h.Ingest.IngestBatch)
			ingest.POST("/upload", h.Ingest.Upload)
		}

		api.POST("/assess", h.Assessment.Assess)
		api.POST("/assess/batch", h.Assessment.AssessBatch)

		clarifications := api.Group("/clarifications")
		{
			clarifications.GET("/:id", h.Assessment.GetClarification)
			clarifications.POST("/:id/resume", h.Assessment.Resume)
			clarifications.DELETE("/:id", h.Assessment.CancelClarification)
		}

		if h.Regulation != nil {
			regions := api.Group("/regions/:region")
			{
				regions.GET("/stats", h.Regulation.Stats)
				regions.GET("/definitions", h.Regulation.ListDefinitions)
				regions.GET("/regulations", h.Regulation.ListRegulations)
				regions.GET("/regulations/:statute/:law_id", h.Regulation.GetRegulation)
			}
		}
	}

	return r
}
