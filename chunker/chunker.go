// Package chunker splits section text into bounded, overlapping chunks.
package chunker

import (
	"iter"
	"slices"
	"strings"
	"unicode/utf8"

	"geocompliance-backend/models"
)

const (
	DefaultSize    = 2000
	DefaultOverlap = 200
	DefaultMinSize = 200

	minBudget = 8
)

// Config bounds chunk sizes in bytes. Zero fields take the defaults; a negative
// Overlap or MinSize disables it.
type Config struct {
	Size    int
	Overlap int
	MinSize int
}

// Chunker emits chunks no longer than Size bytes. Each chunk after the first
// starts with up to Overlap bytes copied from the end of its predecessor.
type Chunker struct {
	size    int
	overlap int
	minSize int
}

// New creates a Chunker, clamping Overlap to half of Size
func New(cfg Config) *Chunker {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	cfg.Size = max(cfg.Size, minBudget)
	if cfg.Overlap == 0 {
		cfg.Overlap = min(DefaultOverlap, cfg.Size/2)
	}
	cfg.Overlap = min(max(cfg.Overlap, 0), cfg.Size/2)
	if cfg.MinSize == 0 {
		cfg.MinSize = DefaultMinSize
	}
	cfg.MinSize = min(max(cfg.MinSize, 0), (cfg.Size-cfg.Overlap)/2)
	return &Chunker{size: cfg.Size, overlap: cfg.Overlap, minSize: cfg.MinSize}
}

// Size returns the byte budget per chunk
func (c *Chunker) Size() int { return c.size }

// Chunks lazily yields the chunks of text. Each range over the sequence
// re-splits from the start.
func (c *Chunker) Chunks(sectionRef, text string) iter.Seq[models.Chunk] {
	return func(yield func(models.Chunk) bool) {
		pos, seq := 0, 0
		for pos < len(text) {
			start := max(pos-c.overlap, 0)
			for start < pos && !utf8.RuneStart(text[start]) {
				start++
			}
			end := pos + c.size - (pos - start)
			if end >= len(text) {
				end = len(text)
			} else {
				end = c.cut(text, pos, end)
			}
			chunk := models.Chunk{
				SectionRef: sectionRef,
				Sequence:   seq,
				Text:       text[start:end],
				Span:       models.Span{Start: start, End: end},
				Overlap:    pos - start,
			}
			if !yield(chunk) {
				return
			}
			pos = end
			seq++
		}
	}
}

// Split collects every chunk of text
func (c *Chunker) Split(sectionRef, text string) []models.Chunk {
	return slices.Collect(c.Chunks(sectionRef, text))
}

// cut picks the end of the core starting at pos, no later than limit.
// Preference: paragraph break, sentence end, whitespace, rune boundary.
func (c *Chunker) cut(text string, pos, limit int) int {
	lo := min(pos+c.minSize, limit)
	window := text[lo:limit]

	if i := strings.LastIndex(window, "\n\n"); i >= 0 {
		return lo + i + 2
	}
	for i := limit - 2; i >= lo; i-- {
		if isSentenceEnd(text[i]) && isSpace(text[i+1]) {
			return i + 2
		}
	}
	for i := limit - 1; i >= lo; i-- {
		if isSpace(text[i]) {
			return i + 1
		}
	}

	end := limit
	for end > pos && !utf8.RuneStart(text[end]) {
		end--
	}
	if end == pos {
		end = limit
		for end < len(text) && !utf8.RuneStart(text[end]) {
			end++
		}
	}
	return end
}

func isSentenceEnd(b byte) bool {
	return b == '.' || b == '!' || b == '?' || b == ';'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
