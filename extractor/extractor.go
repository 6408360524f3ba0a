// Package extractor turns chunk text into definitions and regulations using a
// completion model constrained to a fixed JSON schema.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"geocompliance-backend/llm"
	"geocompliance-backend/models"
)

const (
	schemaURL          = "https://geocompliance.local/schemas/extraction.schema.json"
	defaultTimeout     = 60 * time.Second
	defaultMaxTokens   = 8192
	extractTemperature = 0.1
)

// Schema is the JSON schema every completion must satisfy
const Schema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["definitions", "regulations"],
  "properties": {
    "definitions": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    },
    "regulations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["law_id", "regulation_text"],
        "properties": {
          "law_id": {"type": "string", "minLength": 1},
          "regulation_text": {"type": "string"}
        }
      }
    }
  }
}`

var ErrExtractionFailed = errors.New("extraction failed")

// ExtractionError reports a chunk whose output could not be used after the retry
type ExtractionError struct {
	SectionRef string
	Sequence   int
	Attempts   int
	Err        error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s#%d after %d attempts: %v", e.SectionRef, e.Sequence, e.Attempts, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtractionFailed }

// Definition is one defined term
type Definition struct {
	Term    string
	Meaning string
}

// Regulation is one citation-addressed obligation
type Regulation struct {
	LawID string `json:"law_id"`
	Text  string `json:"regulation_text"`
}

// Extraction is the validated content of one chunk
type Extraction struct {
	Definitions []Definition
	Regulations []Regulation
}

type wireExtraction struct {
	Definitions map[string]string `json:"definitions"`
	Regulations []Regulation      `json:"regulations"`
}

// parseError marks output that was received but unusable
type parseError struct{ err error }

func (p *parseError) Error() string { return p.err.Error() }
func (p *parseError) Unwrap() error { return p.err }

// Extractor validates model output against Schema
type Extractor struct {
	completer llm.Completer
	schema    *jsonschema.Schema
	timeout   time.Duration
	maxTokens int
	logger    *slog.Logger
}

// Option configures an Extractor
type Option func(*Extractor)

// WithTimeout bounds each completion call
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxTokens caps the completion length
func WithMaxTokens(n int) Option {
	return func(e *Extractor) {
		e.maxTokens = n
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = l
	}
}

// New compiles the extraction schema and returns an Extractor
func New(completer llm.Completer, opts ...Option) (*Extractor, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(Schema)); err != nil {
		return nil, fmt.Errorf("extraction schema load failed: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("extraction schema compile failed: %w", err)
	}

	e := &Extractor{
		completer: completer,
		schema:    compiled,
		timeout:   defaultTimeout,
		maxTokens: defaultMaxTokens,
		logger:    slog.Default().With("component", "extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Extract runs one completion for the chunk, retrying once on failure.
// A parse or schema failure is retried with a correction prompt; a timeout
// or provider error resends the original prompt.
func (e *Extractor) Extract(ctx context.Context, chunk models.Chunk) (*Extraction, error) {
	prompt := buildPrompt(chunk)

	out, raw, err := e.attempt(ctx, prompt)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, &ExtractionError{SectionRef: chunk.SectionRef, Sequence: chunk.Sequence, Attempts: 1, Err: errors.Join(err, ctx.Err())}
	}

	e.logger.WarnContext(ctx, "retrying extraction",
		"section", chunk.SectionRef,
		"sequence", chunk.Sequence,
		"error", err)

	retryPrompt := prompt
	var pe *parseError
	if errors.As(err, &pe) {
		retryPrompt = buildFixPrompt(prompt, raw, err)
	}
	out, _, err = e.attempt(ctx, retryPrompt)
	if err != nil {
		return nil, &ExtractionError{SectionRef: chunk.SectionRef, Sequence: chunk.Sequence, Attempts: 2, Err: err}
	}
	return out, nil
}

func (e *Extractor) attempt(ctx context.Context, prompt string) (*Extraction, string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.completer.Complete(callCtx, llm.CompletionRequest{
		Prompt:      prompt,
		SchemaHint:  Schema,
		MaxTokens:   e.maxTokens,
		Temperature: extractTemperature,
	})
	if err != nil {
		return nil, "", fmt.Errorf("completion: %w", err)
	}
	out, err := e.Parse(raw)
	if err != nil {
		return nil, raw, err
	}
	return out, raw, nil
}

// Parse validates a raw completion and normalizes its content
func (e *Extractor) Parse(raw string) (*Extraction, error) {
	body, err := locateJSON(raw)
	if err != nil {
		return nil, &parseError{err}
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, &parseError{fmt.Errorf("invalid JSON: %w", err)}
	}
	if err := e.schema.Validate(doc); err != nil {
		return nil, &parseError{fmt.Errorf("schema validation failed: %w", err)}
	}

	var wire wireExtraction
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return nil, &parseError{fmt.Errorf("invalid extraction: %w", err)}
	}
	return normalize(wire), nil
}

func normalize(wire wireExtraction) *Extraction {
	out := &Extraction{}
	for term, meaning := range wire.Definitions {
		term, meaning = strings.TrimSpace(term), strings.TrimSpace(meaning)
		if term == "" || meaning == "" {
			continue
		}
		out.Definitions = append(out.Definitions, Definition{Term: term, Meaning: meaning})
	}
	sort.Slice(out.Definitions, func(i, j int) bool {
		return out.Definitions[i].Term < out.Definitions[j].Term
	})
	for _, r := range wire.Regulations {
		r.LawID = strings.TrimSuffix(strings.TrimSpace(r.LawID), ".")
		r.Text = strings.TrimSpace(r.Text)
		if r.LawID == "" || r.Text == "" {
			continue
		}
		out.Regulations = append(out.Regulations, r)
	}
	return out
}

// locateJSON strips markdown fences and returns the outermost JSON object
func locateJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", errors.New("no JSON object in response")
	}
	return s[start : end+1], nil
}

func buildPrompt(chunk models.Chunk) string {
	return fmt.Sprintf(`You are extracting structured data from a regulatory text excerpt (%s).

Return ONLY a JSON object with this exact shape, no prose and no markdown:
{"definitions": {"<term>": "<meaning>"}, "regulations": [{"law_id": "<citation, e.g. 13-63-101>", "regulation_text": "<obligation text>"}]}

Rules:
- "definitions" holds every term the excerpt defines ("X" means ...). Use an empty object if none.
- "regulations" holds every obligation, prohibition or requirement, keyed by the citation it appears under. Use an empty array if none.
- Copy text from the excerpt; do not summarize or invent citations.

Excerpt:
%s`, chunk.SectionRef, chunk.Text)
}

func buildFixPrompt(original, previous string, cause error) string {
	return fmt.Sprintf(`%s

Your previous answer could not be used: %v

Previous answer:
%s

Fix your JSON. Return ONLY the corrected JSON object.`, original, cause, previous)
}
