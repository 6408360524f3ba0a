package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"geocompliance-backend/config"
)

func TestNewThrottles_SeparateDeadlines(t *testing.T) {
	cfg := config.Default()
	cfg.Ingestion.ExtractionTimeoutSecs = 90
	cfg.Ingestion.EmbeddingTimeoutSecs = 10

	completions, embeddings := newThrottles(cfg)

	assert.Equal(t, 90*time.Second, completions.Timeout())
	assert.Equal(t, 10*time.Second, embeddings.Timeout())
	assert.Equal(t, cfg.ExtractionTimeout(), completions.Timeout())
	assert.Equal(t, cfg.EmbeddingTimeout(), embeddings.Timeout())
}
