package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geocompliance-backend/config"
	"geocompliance-backend/models"
	"geocompliance-backend/session"
)

func tiedEntries() []models.EmbeddingEntry {
	return []models.EmbeddingEntry{
		regulationEntry("UT", "HB311", "13-63-101", "Operators file reports.", unitAt(0.9)),
		regulationEntry("CA", "SB976", "27001", "Operators file reports.", unitAt(0.9)),
	}
}

func newCoordinator(t *testing.T, cfg config.MatchingConfig, entries ...models.EmbeddingEntry) (*Coordinator, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore()
	return NewCoordinator(matcherWith(t, cfg, entries...), CoordWithStore(store)), store
}

func requireClarification(t *testing.T, out *Outcome, want models.ClarificationType) *models.Clarification {
	t.Helper()
	require.NotNil(t, out)
	require.Nil(t, out.Assessment)
	require.NotNil(t, out.Clarification)
	require.Equal(t, want, out.Clarification.Request.Type())
	return out.Clarification
}

func TestAnalyze_GeographicScopeOnTie(t *testing.T) {
	c, _ := newCoordinator(t, config.Default().Matching, tiedEntries()...)
	ctx := context.Background()

	out, err := c.Analyze(ctx, AssessRequest{FeatureText: neutralFeature})
	require.NoError(t, err)

	cl := requireClarification(t, out, models.ClarifyGeographicScope)
	assert.Equal(t, []string{"UT", "CA", models.ScopeMultiple, models.ScopeAll}, cl.Request.Options())

	state, err := c.State(ctx, cl.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingResponse, state)
}

func TestAnalyze_GeographicScopeOnSameRegionTie(t *testing.T) {
	c, _ := newCoordinator(t, config.Default().Matching,
		regulationEntry("UT", "HB311", "13-63-101", "Operators file reports.", unitAt(0.9)),
		regulationEntry("UT", "SB152", "13-63-201", "Operators file reports.", unitAt(0.9)),
	)
	ctx := context.Background()

	out, err := c.Analyze(ctx, AssessRequest{FeatureText: neutralFeature})
	require.NoError(t, err)

	cl := requireClarification(t, out, models.ClarifyGeographicScope)
	opts := cl.Request.Options()
	assert.Equal(t, "UT", opts[0])
	assert.Contains(t, opts, "CA")
	assert.Contains(t, opts, "EU")
	assert.Equal(t, []string{models.ScopeMultiple, models.ScopeAll}, opts[len(opts)-2:])
	assert.Equal(t, 1, countOf(opts, "UT"))

	// the region is known now but the statutes still tie
	out, err = c.Resume(ctx, cl.ID, "UT")
	require.NoError(t, err)
	cl = requireClarification(t, out, models.ClarifyFeatureCategory)

	out, err = c.Resume(ctx, cl.ID, CategoryDataPrivacy)
	require.NoError(t, err)
	require.NotNil(t, out.Assessment)
	assert.Equal(t, []string{"UT"}, out.Assessment.Jurisdictions)
	assert.Equal(t, 2, out.Assessment.ClarificationRounds)
}

func countOf(values []string, want string) int {
	n := 0
	for _, v := range values {
		if v == want {
			n++
		}
	}
	return n
}

func TestAnalyze_NoTieWhenJurisdictionGiven(t *testing.T) {
	c, _ := newCoordinator(t, config.Default().Matching, tiedEntries()...)

	out, err := c.Analyze(context.Background(), AssessRequest{FeatureText: neutralFeature, Jurisdictions: []string{"ut"}})
	require.NoError(t, err)
	require.NotNil(t, out.Assessment)
	assert.True(t, out.Assessment.RequiresCompliance)
	assert.Equal(t, []string{"UT"}, out.Assessment.Jurisdictions)
}

func TestResume_RoundTripReturnsToIdle(t *testing.T) {
	c, store := newCoordinator(t, config.Default().Matching, tiedEntries()...)
	ctx := context.Background()

	out, err := c.Analyze(ctx, AssessRequest{FeatureText: neutralFeature})
	require.NoError(t, err)
	id := requireClarification(t, out, models.ClarifyGeographicScope).ID

	out, err = c.Resume(ctx, id, "ut")
	require.NoError(t, err)
	require.NotNil(t, out.Assessment)
	require.Nil(t, out.Clarification)
	assert.True(t, out.Assessment.RequiresCompliance)
	assert.Equal(t, "UT_HB311_13_63_101", out.Assessment.MatchedRegulations[0].RegulationName)
	assert.Equal(t, 1, out.Assessment.ClarificationRounds)
	assert.False(t, out.Assessment.ClarificationExhausted)

	state, err := c.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, state)
	assert.Zero(t, store.Len())

	_, err = c.Resume(ctx, id, "ut")
	assert.ErrorIs(t, err, ErrClarificationNotFound)
}

func TestResume_InvalidAnswerReprompts(t *testing.T) {
	c, _ := newCoordinator(t, config.Default().Matching, tiedEntries()...)
	ctx := context.Background()

	out, err := c.Analyze(ctx, AssessRequest{FeatureText: neutralFeature})
	require.NoError(t, err)
	first := requireClarification(t, out, models.ClarifyGeographicScope)

	out, err = c.Resume(ctx, first.ID, "mars")
	require.NoError(t, err)
	retry := requireClarification(t, out, models.ClarifyResponse)
	assert.NotEqual(t, first.ID, retry.ID)
	assert.Equal(t, first.Request.Options(), retry.Request.Options())
	assert.Contains(t, retry.Request.Question(), "mars")

	out, err = c.Resume(ctx, retry.ID, "CA")
	require.NoError(t, err)
	require.NotNil(t, out.Assessment)
	assert.Equal(t, []string{"CA"}, out.Assessment.Jurisdictions)
	assert.Equal(t, 2, out.Assessment.ClarificationRounds)
}

func TestResume_MultipleRegionsThenCategory(t *testing.T) {
	c, _ := newCoordinator(t, config.Default().Matching, tiedEntries()...)
	ctx := context.Background()

	out, err := c.Analyze(ctx, AssessRequest{FeatureText: neutralFeature})
	require.NoError(t, err)
	id := requireClarification(t, out, models.ClarifyGeographicScope).ID

	out, err = c.Resume(ctx, id, "Multiple")
	require.NoError(t, err)
	id = requireClarification(t, out, models.ClarifySpecificRegions).ID

	out, err = c.Resume(ctx, id, "ut, ca")
	require.NoError(t, err)
	cl := requireClarification(t, out, models.ClarifyFeatureCategory)
	assert.Equal(t, IndicatorCategories(), cl.Request.Options())

	out, err = c.Resume(ctx, cl.ID, CategoryDataPrivacy)
	require.NoError(t, err)
	require.NotNil(t, out.Assessment)
	assert.Equal(t, []string{"UT", "CA"}, out.Assessment.Jurisdictions)
	assert.Equal(t, 3, out.Assessment.ClarificationRounds)
	assert.False(t, out.Assessment.ClarificationExhausted)
}

func TestAnalyze_GeneralForShortDescription(t *testing.T) {
	c, _ := newCoordinator(t, config.Default().Matching, tiedEntries()...)
	ctx := context.Background()

	out, err := c.Analyze(ctx, AssessRequest{FeatureText: "age gate"})
	require.NoError(t, err)
	id := requireClarification(t, out, models.ClarifyGeneral).ID

	out, err = c.Resume(ctx, id, "Blocks users under 18 from opening chat rooms")
	require.NoError(t, err)
	requireClarification(t, out, models.ClarifyGeographicScope)
}

func TestResume_RiskAssessment(t *testing.T) {
	borderline := regulationEntry("UT", "HB311", "13-63-101", "Operators file reports.", unitAt(0.77))

	for answer, want := range map[string]bool{"high": true, "LOW": false, "medium": false} {
		t.Run(answer, func(t *testing.T) {
			c, _ := newCoordinator(t, config.Default().Matching, borderline)
			ctx := context.Background()

			out, err := c.Analyze(ctx, AssessRequest{FeatureText: neutralFeature})
			require.NoError(t, err)
			cl := requireClarification(t, out, models.ClarifyRiskAssessment)
			assert.Equal(t, models.RiskLevels, cl.Request.Options())

			out, err = c.Resume(ctx, cl.ID, answer)
			require.NoError(t, err)
			require.NotNil(t, out.Assessment)
			assert.Equal(t, want, out.Assessment.RequiresCompliance)
		})
	}
}

func TestClarification_ExhaustedAfterMaxRounds(t *testing.T) {
	cfg := config.Default().Matching
	cfg.MaxClarificationRounds = 1
	c, _ := newCoordinator(t, cfg, tiedEntries()...)
	ctx := context.Background()

	out, err := c.Analyze(ctx, AssessRequest{FeatureText: neutralFeature})
	require.NoError(t, err)
	id := requireClarification(t, out, models.ClarifyGeographicScope).ID

	out, err = c.Resume(ctx, id, "mars")
	require.NoError(t, err)
	require.NotNil(t, out.Assessment)
	assert.True(t, out.Assessment.ClarificationExhausted)
	assert.InDelta(t, 0.9*0.75, out.Assessment.Confidence, 1e-6)
	assert.Contains(t, out.Assessment.Reasoning, "Clarification limit")
}

func TestCancel_ReleasesState(t *testing.T) {
	c, _ := newCoordinator(t, config.Default().Matching, tiedEntries()...)
	ctx := context.Background()

	out, err := c.Analyze(ctx, AssessRequest{FeatureText: neutralFeature})
	require.NoError(t, err)
	id := out.Clarification.ID

	require.NoError(t, c.Cancel(ctx, id))
	state, err := c.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, state)

	assert.ErrorIs(t, c.Cancel(ctx, id), ErrClarificationNotFound)
	_, err = c.Resume(ctx, id, "UT")
	assert.ErrorIs(t, err, ErrClarificationNotFound)
}

func TestResume_CancelledContextDropsState(t *testing.T) {
	c, _ := newCoordinator(t, config.Default().Matching, tiedEntries()...)

	out, err := c.Analyze(context.Background(), AssessRequest{FeatureText: neutralFeature})
	require.NoError(t, err)
	id := out.Clarification.ID

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Resume(ctx, id, "UT")
	assert.ErrorIs(t, err, context.Canceled)

	state, err := c.State(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, state)
}

func TestResume_EmbeddingFailureKeepsClarification(t *testing.T) {
	c, _ := newCoordinator(t, config.Default().Matching, tiedEntries()...)
	ctx := context.Background()

	out, err := c.Analyze(ctx, AssessRequest{FeatureText: neutralFeature})
	require.NoError(t, err)
	id := requireClarification(t, out, models.ClarifyGeographicScope).ID

	c.matcher.embedder = failingEmbedder{err: errors.New("connection refused")}
	_, err = c.Resume(ctx, id, "UT")
	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)

	state, err := c.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingResponse, state)

	c.matcher.embedder = constEmbedder{1, 0}
	out, err = c.Resume(ctx, id, "UT")
	require.NoError(t, err)
	require.NotNil(t, out.Assessment)
	assert.Equal(t, []string{"UT"}, out.Assessment.Jurisdictions)
	assert.Equal(t, 1, out.Assessment.ClarificationRounds)

	state, err = c.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, state)
}

func TestAnalyze_ConcurrentAnalysesAreIndependent(t *testing.T) {
	c, _ := newCoordinator(t, config.Default().Matching, tiedEntries()...)
	ctx := context.Background()

	a, err := c.Analyze(ctx, AssessRequest{FeatureText: neutralFeature})
	require.NoError(t, err)
	b, err := c.Analyze(ctx, AssessRequest{FeatureText: neutralFeature + " reporting"})
	require.NoError(t, err)
	require.NotEqual(t, a.Clarification.ID, b.Clarification.ID)

	_, err = c.Resume(ctx, a.Clarification.ID, "UT")
	require.NoError(t, err)

	state, err := c.State(ctx, b.Clarification.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingResponse, state)

	pending, err := c.Pending(ctx, b.Clarification.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClarifyGeographicScope, pending.Request.Type())
}

func TestAnalyze_EmptyFeatureText(t *testing.T) {
	c, _ := newCoordinator(t, config.Default().Matching)
	_, err := c.Analyze(context.Background(), AssessRequest{FeatureText: " "})
	assert.ErrorIs(t, err, ErrEmptyFeatureText)
}
