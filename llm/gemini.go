package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	DefaultGeminiModel      = "gemini-2.5-flash"
	DefaultGeminiEmbedModel = "gemini-embedding-001"
)

// GeminiClient calls Gemini for completions and embeddings
type GeminiClient struct {
	client     *genai.Client
	model      string
	embedModel string
	dimension  int
	throttle   *Throttle // embeddings
	completer  *Throttle
	logger     *slog.Logger
}

// GeminiOption configures a GeminiClient
type GeminiOption func(*GeminiClient)

// GeminiWithModel sets the completion model
func GeminiWithModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		if model != "" {
			g.model = model
		}
	}
}

// GeminiWithEmbeddingModel sets the embedding model and output dimension
func GeminiWithEmbeddingModel(model string, dimension int) GeminiOption {
	return func(g *GeminiClient) {
		if model != "" {
			g.embedModel = model
		}
		if dimension > 0 {
			g.dimension = dimension
		}
	}
}

// GeminiWithThrottle sets the rate limit and per-call timeout of embedding
// calls, and of completions unless GeminiWithCompletionThrottle is also given
func GeminiWithThrottle(t *Throttle) GeminiOption {
	return func(g *GeminiClient) {
		g.throttle = t
		if g.completer == nil {
			g.completer = t
		}
	}
}

// GeminiWithCompletionThrottle sets the rate limit and per-call timeout of completions
func GeminiWithCompletionThrottle(t *Throttle) GeminiOption {
	return func(g *GeminiClient) {
		g.completer = t
	}
}

// NewGeminiClient connects to the Gemini API
func NewGeminiClient(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY: %w", ErrMissingAPIKey)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g := &GeminiClient{
		client:     client,
		model:      DefaultGeminiModel,
		embedModel: DefaultGeminiEmbedModel,
		dimension:  768,
		logger:     slog.Default().With("component", "gemini"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Close releases the underlying connection
func (g *GeminiClient) Close() error {
	return g.client.Close()
}

// Complete sends one prompt and returns the concatenated text parts
func (g *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(req.Temperature)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.SchemaHint != "" {
		model.ResponseMIMEType = "application/json"
	}

	var text string
	err := g.completer.Do(ctx, func(ctx context.Context) error {
		resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
		if err != nil {
			return fmt.Errorf("gemini generate: %w", err)
		}
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return fmt.Errorf("gemini blocked prompt: %s", resp.PromptFeedback.BlockReason)
		}

		var sb strings.Builder
		for i, cand := range resp.Candidates {
			if cand.FinishReason != genai.FinishReasonStop && cand.FinishReason != genai.FinishReasonUnspecified {
				g.logger.WarnContext(ctx, "candidate finished early", "candidate", i, "reason", cand.FinishReason.String())
			}
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					sb.WriteString(string(t))
				}
			}
		}
		text = sb.String()
		return nil
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// DocumentEmbedder embeds text for storage in the index
func (g *GeminiClient) DocumentEmbedder() Embedder {
	return &geminiEmbedder{g: g, taskType: genai.TaskTypeRetrievalDocument}
}

// QueryEmbedder embeds feature descriptions for retrieval
func (g *GeminiClient) QueryEmbedder() Embedder {
	return &geminiEmbedder{g: g, taskType: genai.TaskTypeRetrievalQuery}
}

type geminiEmbedder struct {
	g        *GeminiClient
	taskType genai.TaskType
}

func (e *geminiEmbedder) Dimension() int { return e.g.dimension }

func (e *geminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	em := e.g.client.EmbeddingModel(e.g.embedModel)
	em.TaskType = e.taskType

	var values []float32
	err := retry(ctx, func() error {
		return e.g.throttle.Do(ctx, func(ctx context.Context) error {
			res, err := em.EmbedContent(ctx, genai.Text(text))
			if err != nil {
				return fmt.Errorf("gemini embed: %w", err)
			}
			if res.Embedding == nil || len(res.Embedding.Values) == 0 {
				return ErrEmptyResponse
			}
			values = res.Embedding.Values
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// gemini-embedding-001 vectors may be truncated to a prefix and renormalized
	return fitDimension(values, e.g.dimension), nil
}
