package statestore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// MemoryStore implements Store using an in-memory map. It is the
// development fallback when no external state store is configured; data
// does not survive a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

// NewMemoryStore creates an in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]json.RawMessage)}
}

// Get returns the stored value, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, tenant, key string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[CompositeKey(tenant, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

// Set stores or overwrites the value.
func (s *MemoryStore) Set(_ context.Context, tenant, key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[CompositeKey(tenant, key)] = value
	return nil
}

// Delete removes the value.
func (s *MemoryStore) Delete(_ context.Context, tenant, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, CompositeKey(tenant, key))
	return nil
}

// Keys lists all keys stored for a tenant.
func (s *MemoryStore) Keys(_ context.Context, tenant string) ([]string, error) {
	prefix := CompositeKey(tenant, "")

	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}
	return keys, nil
}

// Close is a no-op for the in-memory store.
func (*MemoryStore) Close() error { return nil }

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
