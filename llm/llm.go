// Package llm wraps the completion and embedding providers used by the pipeline.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
)

var (
	ErrMissingAPIKey = errors.New("api key not set")
	ErrEmptyResponse = errors.New("provider returned empty content")
)

// CompletionRequest is one prompt sent to a completion model
type CompletionRequest struct {
	Prompt      string
	SchemaHint  string // JSON schema the answer must satisfy, if any
	MaxTokens   int
	Temperature float32
}

// Completer produces text for a prompt
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Embedder maps text to a fixed-dimension vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// CompleterFunc adapts a function to Completer
type CompleterFunc func(ctx context.Context, req CompletionRequest) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return f(ctx, req)
}

// Throttle rate limits provider calls and bounds each one with a timeout
type Throttle struct {
	limiter *rate.Limiter
	timeout time.Duration
}

// NewThrottle allows rps calls per second with the given burst.
// A non-positive rps disables limiting; a non-positive timeout disables the deadline.
func NewThrottle(rps float64, burst int, timeout time.Duration) *Throttle {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(limit, burst), timeout: timeout}
}

// WithTimeout returns a throttle that shares t's rate limit but bounds each
// call by d instead
func (t *Throttle) WithTimeout(d time.Duration) *Throttle {
	if t == nil {
		return nil
	}
	return &Throttle{limiter: t.limiter, timeout: d}
}

// Timeout returns the per-call deadline, zero when unbounded
func (t *Throttle) Timeout() time.Duration {
	if t == nil {
		return 0
	}
	return t.timeout
}

// Do waits for a token and runs fn under the call timeout
func (t *Throttle) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if t == nil {
		return fn(ctx)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return fn(ctx)
}

// retry runs fn up to maxRetries times with exponential backoff
func retry(ctx context.Context, fn func() error) error {
	var lastErr error
	backoff := initialBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(ctx.Err(), lastErr)
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrMissingAPIKey) {
			return lastErr
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

// Normalize scales v to unit length in place
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// fitDimension truncates or zero-pads v to dim and renormalizes
func fitDimension(v []float32, dim int) []float32 {
	if dim <= 0 || len(v) == dim {
		return Normalize(v)
	}
	out := make([]float32, dim)
	copy(out, v)
	return Normalize(out)
}

// Cosine returns the cosine similarity of a and b
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
