package vectorindex

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"geocompliance-backend/models"
)

// SchemaStep is one DDL statement of the embeddings table
type SchemaStep struct {
	Name string
	SQL  string
}

// PgVectorSchema returns the DDL for the regulation_embeddings table
func PgVectorSchema(dim int) []SchemaStep {
	return []SchemaStep{
		{Name: "pgvector extension", SQL: `CREATE EXTENSION IF NOT EXISTS vector`},
		{Name: "regulation_embeddings table", SQL: fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS regulation_embeddings (
    stable_id UUID PRIMARY KEY,
    seq BIGSERIAL NOT NULL,
    kind VARCHAR(20) NOT NULL CHECK (kind IN ('definition', 'regulation')),
    name TEXT NOT NULL,
    region VARCHAR(32) NOT NULL,
    statute VARCHAR(64) NOT NULL,
    law_id TEXT NOT NULL DEFAULT '',
    term TEXT NOT NULL DEFAULT '',
    text TEXT NOT NULL,
    source_file TEXT NOT NULL DEFAULT '',
    embedding vector(%d) NOT NULL,
    created_at TIMESTAMP DEFAULT NOW(),
    updated_at TIMESTAMP DEFAULT NOW()
)`, dim)},
		{Name: "Vector similarity search (HNSW)", SQL: `CREATE INDEX IF NOT EXISTS idx_regulation_embeddings_hnsw ON regulation_embeddings
USING hnsw (embedding vector_cosine_ops)
WITH (m = 16, ef_construction = 64)`},
		{Name: "Region filtering", SQL: `CREATE INDEX IF NOT EXISTS idx_regulation_embeddings_region ON regulation_embeddings(region, statute)`},
		{Name: "Kind filtering", SQL: `CREATE INDEX IF NOT EXISTS idx_regulation_embeddings_kind ON regulation_embeddings(kind)`},
	}
}

// PgVectorIndex stores embeddings in Postgres with the pgvector extension
type PgVectorIndex struct {
	db  *pgxpool.Pool
	dim int
}

// NewPgVectorIndex creates a new pgvector-backed index
func NewPgVectorIndex(db *pgxpool.Pool, dim int) *PgVectorIndex {
	return &PgVectorIndex{db: db, dim: dim}
}

// EnsureSchema creates the extension, table and indexes if missing
func (p *PgVectorIndex) EnsureSchema(ctx context.Context) error {
	for _, step := range PgVectorSchema(p.dim) {
		if _, err := p.db.Exec(ctx, step.SQL); err != nil {
			return fmt.Errorf("failed to create %s: %w", step.Name, err)
		}
	}
	return nil
}

func (p *PgVectorIndex) Upsert(ctx context.Context, entries []models.EmbeddingEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if len(e.Vector) != p.dim {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(e.Vector), p.dim)
		}
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", ErrEmbeddingUnavailable, err)
	}
	defer tx.Rollback(ctx)

	const query = `
		INSERT INTO regulation_embeddings
			(stable_id, kind, name, region, statute, law_id, term, text, source_file, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::vector, NOW())
		ON CONFLICT (stable_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			name = EXCLUDED.name,
			region = EXCLUDED.region,
			statute = EXCLUDED.statute,
			law_id = EXCLUDED.law_id,
			term = EXCLUDED.term,
			text = EXCLUDED.text,
			source_file = EXCLUDED.source_file,
			embedding = EXCLUDED.embedding,
			updated_at = NOW()`

	for _, e := range entries {
		m := e.Metadata
		_, err := tx.Exec(ctx, query,
			e.StableID, string(m.Kind), m.Name, m.Region, m.Statute, m.LawID, m.Term, m.Text, m.SourceFile,
			pgvector.NewVector(e.Vector))
		if err != nil {
			return fmt.Errorf("%w: failed to upsert %s: %w", ErrEmbeddingUnavailable, m.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %w", ErrEmbeddingUnavailable, err)
	}
	return nil
}

func (p *PgVectorIndex) Query(ctx context.Context, vector []float32, filter Filter, k int) ([]Candidate, error) {
	if len(vector) != p.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), p.dim)
	}
	if k <= 0 {
		k = 20
	}

	var kinds []string
	for _, kind := range filter.Kinds {
		kinds = append(kinds, string(kind))
	}

	const query = `
		SELECT stable_id, seq, kind, name, region, statute, law_id, term, text, source_file,
			1 - (embedding <=> $1::vector) AS similarity
		FROM regulation_embeddings
		WHERE ($2::text[] IS NULL OR region = ANY($2::text[]))
			AND ($3::text[] IS NULL OR statute = ANY($3::text[]))
			AND ($4::text[] IS NULL OR kind = ANY($4::text[]))
		ORDER BY embedding <=> $1::vector, seq
		LIMIT $5`

	rows, err := p.db.Query(ctx, query,
		pgvector.NewVector(vector), upperAll(filter.Regions), upperAll(filter.Statutes), kinds, k)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query embeddings: %w", ErrEmbeddingUnavailable, err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var (
			c    Candidate
			id   uuid.UUID
			kind string
			m    models.EntryMetadata
		)
		if err := rows.Scan(&id, &c.Seq, &kind, &m.Name, &m.Region, &m.Statute, &m.LawID, &m.Term, &m.Text, &m.SourceFile, &c.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		m.Kind = models.RecordKind(kind)
		c.Entry = models.EmbeddingEntry{StableID: id, Metadata: m}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}

	sortCandidates(out)
	return out, nil
}
