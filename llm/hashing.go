package llm

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an the and or but if then else for to of in on at by with as
		is are was were be been being it this that these those from up down over under so such
		into about than its their our your any all each per may must shall should will`) {
		stopWords[w] = struct{}{}
	}
}

// HashingEmbedder is a deterministic bag-of-words embedder. Tokens are folded
// to a crude stem and hashed into Dimension buckets; the term-frequency vector
// is L2 normalized. It needs no network and is used offline and in tests.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder creates an embedder with dim buckets (768 if dim <= 0)
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = 768
	}
	return &HashingEmbedder{dim: dim}
}

func (h *HashingEmbedder) Dimension() int { return h.dim }

func (h *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	for _, tok := range Tokenize(text) {
		f := fnv.New32a()
		f.Write([]byte(tok))
		vec[f.Sum32()%uint32(h.dim)]++
	}
	return Normalize(vec), nil
}

// Tokenize lowercases text and returns its content words with plurals folded
func Tokenize(text string) []string {
	var out []string
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopWords[tok]; stop {
			continue
		}
		out = append(out, fold(tok))
	}
	return out
}

func fold(tok string) string {
	if len(tok) > 3 && strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss") {
		return tok[:len(tok)-1]
	}
	return tok
}
