package vectorindex

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"geocompliance-backend/llm"
	"geocompliance-backend/models"
)

type memoryItem struct {
	entry models.EmbeddingEntry
	seq   int64
}

// MemoryIndex is an in-process brute-force index
type MemoryIndex struct {
	mu      sync.RWMutex
	dim     int
	items   map[uuid.UUID]*memoryItem
	nextSeq int64
}

// NewMemoryIndex creates an index for vectors of size dim (any size if dim <= 0)
func NewMemoryIndex(dim int) *MemoryIndex {
	return &MemoryIndex{dim: dim, items: make(map[uuid.UUID]*memoryItem)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, entries []models.EmbeddingEntry) error {
	for _, e := range entries {
		if m.dim > 0 && len(e.Vector) != m.dim {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(e.Vector), m.dim)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		e.Vector = append([]float32(nil), e.Vector...)
		if item, ok := m.items[e.StableID]; ok {
			item.entry = e
			continue
		}
		m.nextSeq++
		m.items[e.StableID] = &memoryItem{entry: e, seq: m.nextSeq}
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, vector []float32, filter Filter, k int) ([]Candidate, error) {
	if m.dim > 0 && len(vector) != m.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), m.dim)
	}

	m.mu.RLock()
	out := make([]Candidate, 0, len(m.items))
	for _, item := range m.items {
		if !filter.Matches(item.entry.Metadata) {
			continue
		}
		out = append(out, Candidate{
			Entry:      item.entry,
			Similarity: llm.Cosine(vector, item.entry.Vector),
			Seq:        item.seq,
		})
	}
	m.mu.RUnlock()

	sortCandidates(out)
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Len returns the number of stored entries
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
