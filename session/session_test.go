package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geocompliance-backend/models"
)

func pending(id string) *PendingClarification {
	return &PendingClarification{
		ID: id,
		Request: &models.GeographicScopeRequest{
			Prompt:     "Which jurisdiction does this feature target?",
			Regions:    []string{"UT", "CA"},
			Candidates: []string{"UT_HB311_13_63_101", "CA_SB976_27000"},
		},
		Context:   models.AnalysisContext{FeatureText: "age gate", Asked: []models.ClarificationType{models.ClarifyGeographicScope}},
		CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMemoryStore_TakeConsumesOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, pending("c1"), time.Minute))

	peeked, err := s.Peek(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", peeked.ID)

	got, err := s.Take(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.ClarifyGeographicScope, got.Request.Type())

	_, err = s.Take(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, pending("c1"), 15*time.Minute))

	now = now.Add(16 * time.Minute)

	_, err := s.Peek(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, s.Len())
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, pending("c1"), time.Minute))
	require.NoError(t, s.Delete(ctx, "c1"))

	_, err := s.Take(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPendingClarification_JSON(t *testing.T) {
	retry := pending("c2")
	retry.Request = &models.ClarifyResponseRequest{
		Prompt:   "Please choose one of the listed options.",
		Original: retry.Request,
		Rejected: "mars",
	}

	data, err := json.Marshal(retry)
	require.NoError(t, err)

	var back PendingClarification
	require.NoError(t, json.Unmarshal(data, &back))

	assert.Equal(t, "c2", back.ID)
	assert.Equal(t, retry.Context, back.Context)
	assert.True(t, retry.CreatedAt.Equal(back.CreatedAt))
	cr, ok := back.Request.(*models.ClarifyResponseRequest)
	require.True(t, ok)
	assert.Equal(t, "mars", cr.Rejected)
	assert.Equal(t, []string{"UT", "CA", "multiple", "all"}, cr.Options())
	value, ok := cr.Resolve("ca")
	assert.True(t, ok)
	assert.Equal(t, "CA", value)
}
