package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 2000, cfg.Chunker.Size)
	assert.Equal(t, 200, cfg.Chunker.Overlap)
	assert.Equal(t, 4, cfg.Ingestion.Concurrency)
	assert.InDelta(t, 0.7, cfg.Matching.SimilarityThreshold, 1e-9)
	assert.InDelta(t, 0.8, cfg.Matching.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 3, cfg.Matching.MaxClarificationRounds)
	assert.NotEmpty(t, cfg.Jurisdictions)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
chunker:
  size: 1000
  overlap: 900
matching:
  top_k: 5
vector_index:
  type: qdrant
jurisdictions:
  - code: UT
    name: Utah
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("VECTOR_INDEX", "pgvector")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Chunker.Size)
	assert.Equal(t, 500, cfg.Chunker.Overlap, "overlap is clamped to half the budget")
	assert.Equal(t, 5, cfg.Matching.TopK)
	assert.Equal(t, "pgvector", cfg.VectorIndex.Type)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	require.Len(t, cfg.Jurisdictions, 1)
	assert.Equal(t, "Utah", cfg.Jurisdictions[0].Name)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunker: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDurations(t *testing.T) {
	cfg := Default()
	cfg.Ingestion.ExtractionTimeoutSecs = 90
	cfg.Ingestion.EmbeddingTimeoutSecs = 15
	cfg.Session.TTLMinutes = 45

	assert.Equal(t, 90*time.Second, cfg.ExtractionTimeout())
	assert.Equal(t, 15*time.Second, cfg.EmbeddingTimeout())
	assert.Equal(t, 45*time.Minute, cfg.SessionTTL())
}
