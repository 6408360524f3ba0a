package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	pending   *PendingClarification
	expiresAt time.Time
}

// MemoryStore keeps pending clarifications in process memory
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, p *PendingClarification, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	s.entries[p.ID] = memoryEntry{pending: p, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Take(_ context.Context, id string) (*PendingClarification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(id)
	delete(s.entries, id)
	if !ok {
		return nil, ErrNotFound
	}
	return e.pending, nil
}

func (s *MemoryStore) Peek(_ context.Context, id string) (*PendingClarification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(id)
	if !ok {
		return nil, ErrNotFound
	}
	return e.pending, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// Len returns the number of unexpired entries
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	return len(s.entries)
}

func (s *MemoryStore) live(id string) (memoryEntry, bool) {
	e, ok := s.entries[id]
	if !ok || !s.now().Before(e.expiresAt) {
		return memoryEntry{}, false
	}
	return e, true
}

// sweep drops expired entries; callers hold mu
func (s *MemoryStore) sweep() {
	now := s.now()
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
		}
	}
}
