package adapters

import (
	"context"
	"sync"
)

// MemoryKVStore is an in-process key-value store used in tests and as a
// fallback when no redis is configured.
type MemoryKVStore struct {
	values map[string]string
	mu     sync.RWMutex
}

func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{
		values: make(map[string]string),
	}
}

func (s *MemoryKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *MemoryKVStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryKVStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *MemoryKVStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string)
	return nil
}
