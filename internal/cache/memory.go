package cache

import (
	"context"
	"sync"
)

// InMemoryStore implements Store with a map guarded by a RWMutex.
// Entries live for the process lifetime; concurrent writers to the same key are
// last-writer-wins.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[Key]Entry
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[Key]Entry)}
}

// Get returns the entry for key. The error is always nil.
func (s *InMemoryStore) Get(ctx context.Context, key Key) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key]
	return e, ok, nil
}

// Put stores entry under entry.Key(), replacing any previous entry.
func (s *InMemoryStore) Put(ctx context.Context, entry Entry) error {
	key := entry.Key()
	entry.Station = key.Station
	s.mu.Lock()
	s.data[key] = entry
	s.mu.Unlock()
	return nil
}

// Clear removes every entry.
func (s *InMemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.data = make(map[Key]Entry)
	s.mu.Unlock()
	return nil
}

// Len returns the number of cached entries.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
