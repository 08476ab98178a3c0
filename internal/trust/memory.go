package trust

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps scores in process memory. It is the single-instance
// backend and the degraded-mode fallback of ResilientStore.
type MemoryStore struct {
	mu     sync.Mutex
	bounds Bounds
	scores map[string]int
	closed bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(bounds Bounds) *MemoryStore {
	return &MemoryStore{
		bounds: bounds,
		scores: make(map[string]int),
	}
}

func (s *MemoryStore) Get(_ context.Context, clientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if v, ok := s.scores[clientID]; ok {
		return v, nil
	}
	return s.bounds.Initial, nil
}

func (s *MemoryStore) Set(_ context.Context, clientID string, score int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	v := s.bounds.Clamp(score)
	s.scores[clientID] = v
	return v, nil
}

func (s *MemoryStore) Adjust(_ context.Context, clientID string, delta int) (Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Change{}, ErrClosed
	}
	before, ok := s.scores[clientID]
	if !ok {
		before = s.bounds.Initial
	}
	after := s.bounds.Clamp(before + delta)
	s.scores[clientID] = after
	return Change{Before: before, After: after}, nil
}

func (s *MemoryStore) Delete(_ context.Context, clientIDs ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	removed := 0
	for _, id := range clientIDs {
		if _, ok := s.scores[id]; ok {
			delete(s.scores, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) ScanPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var ids []string
	for id := range s.scores {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Backend() string { return "memory" }

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
