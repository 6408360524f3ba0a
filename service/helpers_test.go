package service

import (
	"context"
	"database/sql"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"geocompliance-backend/config"
	"geocompliance-backend/extractor"
	"geocompliance-backend/identity"
	"geocompliance-backend/llm"
	"geocompliance-backend/models"
	"geocompliance-backend/repository"
	"geocompliance-backend/vectorindex"
)

const hb311 = `H.B. 311
Enrolled Copy
Section 1. Section 13-63-101 is enacted to read:
13-63-101. Definitions.
As used in this part, "minor" means an individual under 18.
A social media company shall obtain parental consent before a minor opens an account.
This bill takes effect on May 1, 2024.
`

const hb311Extraction = `{"definitions": {"Minor": "an individual under 18"},
"regulations": [{"law_id": "13-63-101", "regulation_text": "minors under 18 require parental consent"}]}`

// constEmbedder embeds every text as the same vector
type constEmbedder []float32

func (c constEmbedder) Embed(context.Context, string) ([]float32, error) {
	return append([]float32(nil), c...), nil
}

func (c constEmbedder) Dimension() int { return len(c) }

type failingEmbedder struct{ err error }

func (f failingEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, f.err }
func (f failingEmbedder) Dimension() int                                   { return 768 }

// unitAt returns a 2-d unit vector whose cosine with (1, 0) is sim
func unitAt(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

func regulationEntry(region, statute, lawID, text string, vec []float32) models.EmbeddingEntry {
	rec := models.RegulationRecord{Region: region, Statute: statute, LawID: lawID, RegulationText: text}
	return models.EmbeddingEntry{
		StableID: identity.RegulationID(rec),
		Vector:   vec,
		Metadata: models.EntryMetadata{
			Kind:    models.KindRegulation,
			Name:    identity.RegulationName(region, statute, lawID),
			Region:  region,
			Statute: statute,
			LawID:   lawID,
			Text:    text,
		},
	}
}

func fixedCompleter(reply string) (llm.Completer, *atomic.Int32) {
	var calls atomic.Int32
	return llm.CompleterFunc(func(ctx context.Context, req llm.CompletionRequest) (string, error) {
		calls.Add(1)
		return reply, nil
	}), &calls
}

func newExtractor(t *testing.T, c llm.Completer) *extractor.Extractor {
	t.Helper()
	e, err := extractor.New(c)
	require.NoError(t, err)
	return e
}

func openSQLite(t *testing.T) (*sql.DB, repository.Dialect) {
	t.Helper()
	db, dialect, err := repository.Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", URL: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, dialect
}

// countingSchema records how often each region's schema is ensured
type countingSchema struct {
	inner repository.SchemaProvider
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingSchema) EnsureSchema(ctx context.Context, region string) error {
	c.mu.Lock()
	c.calls[region]++
	c.mu.Unlock()
	return c.inner.EnsureSchema(ctx, region)
}

type pipeline struct {
	ingest   *IngestionService
	matcher  *MatchingService
	records  *repository.RecordRepository
	index    *vectorindex.MemoryIndex
	schema   *countingSchema
	embedder llm.Embedder
}

func newPipeline(t *testing.T, completer llm.Completer) *pipeline {
	t.Helper()
	db, dialect := openSQLite(t)
	schema := &countingSchema{inner: repository.NewSQLSchemaProvider(db), calls: map[string]int{}}
	records := repository.NewRecordRepository(db, dialect, repository.RecordWithSchemaProvider(schema))
	embedder := llm.NewHashingEmbedder(768)
	index := vectorindex.NewMemoryIndex(768)

	return &pipeline{
		ingest: NewIngestionService(
			IngestWithExtractor(newExtractor(t, completer)),
			IngestWithRecordStore(records),
			IngestWithEmbedder(embedder),
			IngestWithIndex(index),
		),
		matcher: NewMatchingService(
			MatchWithEmbedder(embedder),
			MatchWithIndex(index),
		),
		records:  records,
		index:    index,
		schema:   schema,
		embedder: embedder,
	}
}

func hb311Doc() models.RegulatoryDocument {
	return models.RegulatoryDocument{Region: "UT", Statute: "HB311", RawText: hb311, SourcePath: "hb311.txt"}
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
