package chunker

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reconstruct(c *Chunker, text string) (string, bool) {
	var b strings.Builder
	for _, ch := range c.Split("s", text) {
		if len(ch.Text) > c.Size() {
			return "", false
		}
		b.WriteString(ch.Fresh())
	}
	return b.String(), true
}

func TestChunker_BudgetAndReconstruction(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	words := gen.OneConstOf("minor", "consent", "means", "18.", "§", "a", "shall;", "\n\n", "\n", "réglementation", "未成年", "data  ")

	properties.Property("chunks fit the budget and rebuild the input", prop.ForAll(
		func(parts []string, size, overlap int) bool {
			text := strings.Join(parts, " ")
			got, ok := reconstruct(New(Config{Size: size, Overlap: overlap, MinSize: -1}), text)
			return ok && got == text
		},
		gen.SliceOf(words),
		gen.IntRange(8, 120),
		gen.IntRange(-1, 80),
	))

	properties.Property("arbitrary unicode text is rebuilt exactly", prop.ForAll(
		func(text string, size int) bool {
			got, ok := reconstruct(New(Config{Size: size, Overlap: size / 3, MinSize: size / 5}), text)
			return ok && got == text
		},
		gen.AnyString(),
		gen.IntRange(8, 64),
	))

	properties.TestingRun(t)
}

func TestChunker_SequenceAndOverlap(t *testing.T) {
	text := strings.Repeat("A social media company shall verify age. ", 100)
	c := New(Config{Size: 300, Overlap: 50, MinSize: 60})

	chunks := c.Split("UT/HB311/citation/13-63-101", text)
	require.Greater(t, len(chunks), 1)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Sequence)
		assert.Equal(t, "UT/HB311/citation/13-63-101", ch.SectionRef)
		assert.LessOrEqual(t, len(ch.Text), 300)
		assert.Equal(t, text[ch.Span.Start:ch.Span.End], ch.Text)
		if i == 0 {
			assert.Zero(t, ch.Overlap)
			continue
		}
		assert.Equal(t, 50, ch.Overlap)
		prev := chunks[i-1]
		assert.True(t, strings.HasSuffix(prev.Text, ch.Text[:ch.Overlap]))
	}
}

func TestChunker_PrefersParagraphThenSentence(t *testing.T) {
	para1 := strings.Repeat("x", 150) + ".\n\n"
	para2 := strings.Repeat("y", 150) + ". " + strings.Repeat("z", 100)
	c := New(Config{Size: 200, Overlap: -1, MinSize: 20})

	chunks := c.Split("s", para1+para2)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, para1, chunks[0].Text)
	assert.Equal(t, strings.Repeat("y", 150)+". ", chunks[1].Text)
}

func TestChunker_SmallPiecesMergeForward(t *testing.T) {
	// the paragraph break at byte 12 would leave a core under MinSize
	text := "Short para.\n\n" + strings.Repeat("word ", 60)
	c := New(Config{Size: 100, Overlap: -1, MinSize: 40})

	chunks := c.Split("s", text)

	require.NotEmpty(t, chunks)
	assert.True(t, strings.HasPrefix(chunks[0].Text, "Short para.\n\nword"))
	for _, ch := range chunks[:len(chunks)-1] {
		assert.GreaterOrEqual(t, len(ch.Fresh()), 40)
	}
}

func TestChunker_LazyAndRestartable(t *testing.T) {
	text := strings.Repeat("Definitions apply. ", 50)
	c := New(Config{Size: 100, Overlap: 20})
	seq := c.Chunks("s", text)

	first := 0
	for range seq {
		first++
		if first == 2 {
			break
		}
	}
	assert.Equal(t, 2, first)

	var a, b []string
	for ch := range seq {
		a = append(a, ch.Text)
	}
	for ch := range seq {
		b = append(b, ch.Text)
	}
	assert.Equal(t, a, b)
	assert.Greater(t, len(a), 2)
}

func TestChunker_ShortAndEmptyInput(t *testing.T) {
	c := New(Config{})
	assert.Empty(t, c.Split("s", ""))

	chunks := c.Split("s", "13-63-101. Some obligation text")
	require.Len(t, chunks, 1)
	assert.Equal(t, "13-63-101. Some obligation text", chunks[0].Text)
}

func TestNew_ClampsOverlap(t *testing.T) {
	c := New(Config{Size: 100, Overlap: 90, MinSize: 500})
	assert.Equal(t, 50, c.overlap)
	assert.Equal(t, 25, c.minSize)
}
