package memory

import (
	"context"
	"sync"

	"shares-market/internal/storage"
)

// SyncProgressStore is an in-memory implementation of storage.SyncProgressStore.
type SyncProgressStore struct {
	mu      sync.RWMutex
	lastSeq uint64
	saved   bool
}

// NewSyncProgressStore creates a new in-memory sync progress store.
func NewSyncProgressStore() *SyncProgressStore {
	return &SyncProgressStore{}
}

// GetLastSeq returns the last applied sequence number.
// Returns ErrNotFound if no progress has been saved yet.
func (s *SyncProgressStore) GetLastSeq(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.saved {
		return 0, storage.ErrNotFound
	}
	return s.lastSeq, nil
}

// SetLastSeq saves the last applied sequence number.
func (s *SyncProgressStore) SetLastSeq(_ context.Context, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeq = seq
	s.saved = true
	return nil
}

var _ storage.SyncProgressStore = (*SyncProgressStore)(nil)
