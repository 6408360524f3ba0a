package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// OllamaClient calls a self-hosted Ollama server
type OllamaClient struct {
	client     *api.Client
	model      string
	embedModel string
	dimension  int
	throttle   *Throttle // embeddings
	completer  *Throttle
}

// NewOllamaClient creates a client for the server at rawURL. Completions and
// embeddings are bounded by their own throttles; call deadlines come from them.
func NewOllamaClient(rawURL, model, embedModel string, dimension int, completions, embeddings *Throttle) (*OllamaClient, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}
	return &OllamaClient{
		client:     api.NewClient(u, &http.Client{}),
		model:      model,
		embedModel: embedModel,
		dimension:  dimension,
		throttle:   embeddings,
		completer:  completions,
	}, nil
}

// Complete runs a non-streaming generation; JSON mode is requested when a schema is given
func (o *OllamaClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	stream := false
	genReq := &api.GenerateRequest{
		Model:  o.model,
		Prompt: req.Prompt,
		Stream: &stream,
		Options: map[string]interface{}{
			"temperature": req.Temperature,
		},
	}
	if req.MaxTokens > 0 {
		genReq.Options["num_predict"] = req.MaxTokens
	}
	if req.SchemaHint != "" {
		genReq.Format = json.RawMessage(`"json"`)
	}

	var sb strings.Builder
	err := o.completer.Do(ctx, func(ctx context.Context) error {
		return o.client.Generate(ctx, genReq, func(resp api.GenerateResponse) error {
			sb.WriteString(resp.Response)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

// Dimension returns the configured embedding size
func (o *OllamaClient) Dimension() int { return o.dimension }

// Embed returns a unit-length embedding for text
func (o *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	req := &api.EmbeddingRequest{
		Model:  o.embedModel,
		Prompt: text,
	}

	var values []float64
	err := retry(ctx, func() error {
		return o.throttle.Do(ctx, func(ctx context.Context) error {
			resp, err := o.client.Embeddings(ctx, req)
			if err != nil {
				return fmt.Errorf("ollama embed: %w", err)
			}
			if len(resp.Embedding) == 0 {
				return ErrEmptyResponse
			}
			values = resp.Embedding
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v)
	}
	return fitDimension(vec, o.dimension), nil
}
