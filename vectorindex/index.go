// Package vectorindex stores embedding entries and answers filtered
// nearest-neighbour queries by cosine similarity.
package vectorindex

import (
	"context"
	"errors"
	"slices"
	"strings"

	"geocompliance-backend/models"
)

var (
	ErrEmbeddingUnavailable = errors.New("embedding store unavailable")
	ErrDimensionMismatch    = errors.New("vector dimension mismatch")
)

// Filter restricts a query by metadata. Empty fields match everything.
type Filter struct {
	Regions  []string
	Statutes []string
	Kinds    []models.RecordKind
}

// Matches reports whether meta passes the filter
func (f Filter) Matches(meta models.EntryMetadata) bool {
	if len(f.Regions) > 0 && !containsFold(f.Regions, meta.Region) {
		return false
	}
	if len(f.Statutes) > 0 && !containsFold(f.Statutes, meta.Statute) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, meta.Kind) {
		return false
	}
	return true
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func upperAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(s)
	}
	return out
}

// Candidate is one query hit
type Candidate struct {
	Entry      models.EmbeddingEntry
	Similarity float64
	Seq        int64 // first-ingestion order, kept across overwrites
}

// Index is a vector store keyed by stable id. Upserting an existing id
// replaces its vector and metadata.
type Index interface {
	Upsert(ctx context.Context, entries []models.EmbeddingEntry) error
	Query(ctx context.Context, vector []float32, filter Filter, k int) ([]Candidate, error)
}

// sortCandidates orders by similarity desc, then ingestion order
func sortCandidates(c []Candidate) {
	slices.SortStableFunc(c, func(a, b Candidate) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
}
