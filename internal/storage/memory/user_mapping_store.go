package memory

import (
	"context"
	"sync"

	"shares-market/internal/domain"
	"shares-market/internal/storage"
)

// UserMappingStore is an in-memory implementation of storage.UserMappingStore.
type UserMappingStore struct {
	mu   sync.RWMutex
	data map[domain.Address]*domain.UserMapping
}

// NewUserMappingStore creates a new in-memory user mapping store.
func NewUserMappingStore() *UserMappingStore {
	return &UserMappingStore{
		data: make(map[domain.Address]*domain.UserMapping),
	}
}

// Upsert creates or replaces the mapping for an address. Banned mappings
// keep their flag across re-binding.
func (s *UserMappingStore) Upsert(_ context.Context, m *domain.UserMapping) error {
	if m == nil || m.Address == "" || m.ExternalID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *m
	if existing, exists := s.data[m.Address]; exists {
		copy.Banned = copy.Banned || existing.Banned
		copy.CreatedAt = existing.CreatedAt
	}
	s.data[m.Address] = &copy
	return nil
}

// GetByAddress retrieves a mapping. Returns ErrNotFound if not exists.
func (s *UserMappingStore) GetByAddress(_ context.Context, addr domain.Address) (*domain.UserMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.data[addr]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *m
	return &copy, nil
}

// SetBanned flips the banned flag. Returns ErrNotFound if no mapping exists.
func (s *UserMappingStore) SetBanned(_ context.Context, addr domain.Address, banned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.data[addr]
	if !exists {
		return storage.ErrNotFound
	}
	m.Banned = banned
	return nil
}

var _ storage.UserMappingStore = (*UserMappingStore)(nil)
