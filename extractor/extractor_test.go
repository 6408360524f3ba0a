package extractor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geocompliance-backend/llm"
	"geocompliance-backend/models"
)

type scriptedCompleter struct {
	mu      sync.Mutex
	replies []func(ctx context.Context) (string, error)
	prompts []string
}

func (s *scriptedCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	s.mu.Lock()
	i := len(s.prompts)
	s.prompts = append(s.prompts, req.Prompt)
	s.mu.Unlock()
	if i >= len(s.replies) {
		return "", errors.New("unexpected call")
	}
	return s.replies[i](ctx)
}

func reply(text string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return text, nil }
}

var testChunk = models.Chunk{SectionRef: "UT/HB311/citation/13-63-101", Sequence: 0, Text: "13-63-101. \"Minor\" means an individual under 18."}

const validJSON = `{"definitions": {"minor": "an individual under 18", " ": "dropped"}, "regulations": [{"law_id": "13-63-102.", "regulation_text": "A social media company shall obtain parental consent."}]}`

func TestExtract_FencedResponse(t *testing.T) {
	c := &scriptedCompleter{replies: []func(context.Context) (string, error){reply("```json\n" + validJSON + "\n```")}}
	e, err := New(c)
	require.NoError(t, err)

	out, err := e.Extract(context.Background(), testChunk)
	require.NoError(t, err)

	require.Len(t, out.Definitions, 1)
	assert.Equal(t, Definition{Term: "minor", Meaning: "an individual under 18"}, out.Definitions[0])
	require.Len(t, out.Regulations, 1)
	assert.Equal(t, "13-63-102", out.Regulations[0].LawID)
	assert.Len(t, c.prompts, 1)
	assert.Contains(t, c.prompts[0], testChunk.Text)
}

func TestExtract_SchemaFailureRetriesWithFixPrompt(t *testing.T) {
	c := &scriptedCompleter{replies: []func(context.Context) (string, error){
		reply(`{"definitions": {}, "regulations": [{"regulation_text": "missing id"}]}`),
		reply(validJSON),
	}}
	e, err := New(c)
	require.NoError(t, err)

	out, err := e.Extract(context.Background(), testChunk)
	require.NoError(t, err)

	assert.Len(t, out.Regulations, 1)
	require.Len(t, c.prompts, 2)
	assert.Contains(t, c.prompts[1], "Fix your JSON")
	assert.Contains(t, c.prompts[1], "missing id")
}

func TestExtract_ProviderErrorResendsOriginal(t *testing.T) {
	c := &scriptedCompleter{replies: []func(context.Context) (string, error){
		func(context.Context) (string, error) { return "", errors.New("503 unavailable") },
		reply(validJSON),
	}}
	e, err := New(c)
	require.NoError(t, err)

	_, err = e.Extract(context.Background(), testChunk)
	require.NoError(t, err)

	require.Len(t, c.prompts, 2)
	assert.Equal(t, c.prompts[0], c.prompts[1])
}

func TestExtract_FailsAfterOneRetry(t *testing.T) {
	c := &scriptedCompleter{replies: []func(context.Context) (string, error){
		reply("not json at all"),
		reply(`{"definitions": "wrong type", "regulations": []}`),
	}}
	e, err := New(c)
	require.NoError(t, err)

	_, err = e.Extract(context.Background(), testChunk)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExtractionFailed))
	var xerr *ExtractionError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, 2, xerr.Attempts)
	assert.Equal(t, testChunk.SectionRef, xerr.SectionRef)
	assert.Len(t, c.prompts, 2)
}

func TestExtract_TimeoutIsRetriedThenFails(t *testing.T) {
	hang := func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	c := &scriptedCompleter{replies: []func(context.Context) (string, error){hang, hang}}
	e, err := New(c, WithTimeout(10*time.Millisecond))
	require.NoError(t, err)

	_, err = e.Extract(context.Background(), testChunk)

	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, c.prompts, 2)
}

func TestParse_EmptyResult(t *testing.T) {
	e, err := New(&scriptedCompleter{})
	require.NoError(t, err)

	out, err := e.Parse(`Here you go: {"definitions": {}, "regulations": []} thanks`)
	require.NoError(t, err)
	assert.Empty(t, out.Definitions)
	assert.Empty(t, out.Regulations)
}

func TestParse_DefinitionsSorted(t *testing.T) {
	e, err := New(&scriptedCompleter{})
	require.NoError(t, err)

	out, err := e.Parse(`{"definitions": {"social media company": "x", "account holder": "y", "minor": "z"}, "regulations": []}`)
	require.NoError(t, err)

	var terms []string
	for _, d := range out.Definitions {
		terms = append(terms, d.Term)
	}
	assert.Equal(t, "account holder,minor,social media company", strings.Join(terms, ","))
}
