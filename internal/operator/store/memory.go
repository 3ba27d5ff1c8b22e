package store

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	resp      Response
	expiresAt time.Time
}

// MemoryStore keeps responses for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[uint32]memoryEntry
	now     func() time.Time
}

var _ ResponseStore = (*MemoryStore)(nil)

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultResponseTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[uint32]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) MarkResponded(ctx context.Context, resp Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[resp.TaskIndex] = memoryEntry{resp: resp, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) HasResponded(ctx context.Context, taskIndex uint32) (bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[taskIndex]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, taskIndex)
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// Get returns the stored response for taskIndex, if any.
func (s *MemoryStore) Get(taskIndex uint32) (Response, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[taskIndex]
	if !ok || s.now().After(entry.expiresAt) {
		return Response{}, false
	}
	return entry.resp, true
}

func (s *MemoryStore) Close() error { return nil }
