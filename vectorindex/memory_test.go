package vectorindex

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geocompliance-backend/models"
)

func entry(name, region string, kind models.RecordKind, vec ...float32) models.EmbeddingEntry {
	return models.EmbeddingEntry{
		StableID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)),
		Vector:   vec,
		Metadata: models.EntryMetadata{Kind: kind, Name: name, Region: region, Statute: "HB311", Text: name},
	}
}

func TestMemoryIndex_QueryRanksBySimilarity(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []models.EmbeddingEntry{
		entry("far", "UT", models.KindRegulation, 0, 1),
		entry("near", "UT", models.KindRegulation, 1, 0.1),
		entry("exact", "UT", models.KindRegulation, 1, 0),
	}))

	got, err := idx.Query(ctx, []float32{1, 0}, Filter{}, 2)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "exact", got[0].Entry.Metadata.Name)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-6)
	assert.Equal(t, "near", got[1].Entry.Metadata.Name)
}

func TestMemoryIndex_FilterBeforeRanking(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []models.EmbeddingEntry{
		entry("ut-best", "UT", models.KindRegulation, 1, 0),
		entry("ca-only", "CA", models.KindRegulation, 0, 1),
		entry("ca-def", "CA", models.KindDefinition, 1, 0),
	}))

	got, err := idx.Query(ctx, []float32{1, 0}, Filter{Regions: []string{"ca"}, Kinds: []models.RecordKind{models.KindRegulation}}, 1)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "ca-only", got[0].Entry.Metadata.Name)
}

func TestMemoryIndex_OverwriteKeepsSeq(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()
	first := entry("a", "UT", models.KindRegulation, 1, 0)
	second := entry("b", "UT", models.KindRegulation, 1, 0)
	require.NoError(t, idx.Upsert(ctx, []models.EmbeddingEntry{first, second}))

	updated := first
	updated.Metadata.Text = "amended"
	require.NoError(t, idx.Upsert(ctx, []models.EmbeddingEntry{updated}))

	got, err := idx.Query(ctx, []float32{1, 0}, Filter{}, 10)
	require.NoError(t, err)

	assert.Equal(t, 2, idx.Len())
	require.Len(t, got, 2)
	// equal similarity: first-ingested wins the tie
	assert.Equal(t, "a", got[0].Entry.Metadata.Name)
	assert.Equal(t, "amended", got[0].Entry.Metadata.Text)
	assert.Less(t, got[0].Seq, got[1].Seq)
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	idx := NewMemoryIndex(3)
	err := idx.Upsert(context.Background(), []models.EmbeddingEntry{entry("x", "UT", models.KindRegulation, 1, 0)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = idx.Query(context.Background(), []float32{1}, Filter{}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFilter_Matches(t *testing.T) {
	meta := models.EntryMetadata{Kind: models.KindDefinition, Region: "UT", Statute: "HB311"}

	assert.True(t, Filter{}.Matches(meta))
	assert.True(t, Filter{Regions: []string{"ut"}, Statutes: []string{"hb311"}}.Matches(meta))
	assert.False(t, Filter{Statutes: []string{"SB976"}}.Matches(meta))
	assert.False(t, Filter{Kinds: []models.RecordKind{models.KindRegulation}}.Matches(meta))
}
