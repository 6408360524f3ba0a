package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashingEmbedder_Deterministic(t *testing.T) {
	e := NewHashingEmbedder(0)
	require.Equal(t, 768, e.Dimension())

	a, err := e.Embed(context.Background(), "Minors under 18 require parental consent")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "minors UNDER 18 require parental consent")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, Cosine(a, a), 1e-6)
}

func TestHashingEmbedder_SimilarTextScoresHigher(t *testing.T) {
	e := NewHashingEmbedder(768)
	ctx := context.Background()

	reg, _ := e.Embed(ctx, "minors under 18 require parental consent")
	feature, _ := e.Embed(ctx, "This feature requires parental consent for users under 18")
	unrelated, _ := e.Embed(ctx, "Dark mode toggle for the settings page")

	sim := Cosine(reg, feature)
	assert.InDelta(t, 0.7303, sim, 0.001)
	assert.Less(t, Cosine(reg, unrelated), 0.1)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"minor", "18", "require", "parental", "consent", "access"},
		Tokenize("The minors under 18 require parental consent, access"))
	assert.Empty(t, Tokenize("the and of"))
}

func TestNormalizeAndFitDimension(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)

	fitted := fitDimension([]float32{3, 4, 12}, 2)
	require.Len(t, fitted, 2)
	assert.InDelta(t, 1.0, Cosine(fitted, []float32{3, 4}), 1e-6)
}

func TestThrottle_TimeoutBoundsCall(t *testing.T) {
	th := NewThrottle(0, 1, 20*time.Millisecond)

	err := th.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestThrottle_WithTimeoutSharesLimiter(t *testing.T) {
	embed := NewThrottle(0.001, 1, 50*time.Millisecond)
	complete := embed.WithTimeout(time.Second)
	assert.Equal(t, 50*time.Millisecond, embed.Timeout())
	assert.Equal(t, time.Second, complete.Timeout())

	slowCall := func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	require.NoError(t, complete.Do(context.Background(), slowCall))

	// the single token was spent by the completion
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, embed.Do(ctx, slowCall))
}

func TestThrottle_CancelledWhileWaiting(t *testing.T) {
	th := NewThrottle(0.001, 1, 0)
	require.NoError(t, th.Do(context.Background(), func(context.Context) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := th.Do(ctx, func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestRetry_StopsOnMissingKey(t *testing.T) {
	calls := 0
	err := retry(context.Background(), func() error {
		calls++
		return ErrMissingAPIKey
	})
	assert.True(t, errors.Is(err, ErrMissingAPIKey))
	assert.Equal(t, 1, calls)
}

func TestCompleterFunc(t *testing.T) {
	var c Completer = CompleterFunc(func(_ context.Context, req CompletionRequest) (string, error) {
		return req.Prompt + "!", nil
	})
	out, err := c.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi!", out)
}
