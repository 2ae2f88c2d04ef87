package memory

import (
	"context"
	"sort"
	"sync"

	"shares-market/internal/domain"
	"shares-market/internal/storage"
)

// holdingKey identifies one mirrored balance row.
type holdingKey struct {
	trader  domain.Address
	subject domain.Address
}

// HoldingStore is an in-memory implementation of storage.HoldingStore.
type HoldingStore struct {
	mu   sync.RWMutex
	data map[holdingKey]*domain.Holding
}

// NewHoldingStore creates a new in-memory holding store.
func NewHoldingStore() *HoldingStore {
	return &HoldingStore{
		data: make(map[holdingKey]*domain.Holding),
	}
}

// ApplyBuy adds amount to the (trader, subject) holding, creating the row
// lazily at zero.
func (s *HoldingStore) ApplyBuy(_ context.Context, trader, subject domain.Address, amount uint64, ts int64) error {
	if trader == "" || subject == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := holdingKey{trader, subject}
	h, exists := s.data[key]
	if !exists {
		h = &domain.Holding{Trader: trader, Subject: subject}
		s.data[key] = h
	}
	h.ShareAmount += amount
	h.UpdatedAt = ts
	return nil
}

// ApplySell subtracts amount from the holding. Returns
// ErrInsufficientBalance if the row is missing or too small.
func (s *HoldingStore) ApplySell(_ context.Context, trader, subject domain.Address, amount uint64, ts int64) error {
	if trader == "" || subject == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, exists := s.data[holdingKey{trader, subject}]
	if !exists || h.ShareAmount < amount {
		return storage.ErrInsufficientBalance
	}
	h.ShareAmount -= amount
	h.UpdatedAt = ts
	return nil
}

// Get retrieves one holding. Returns ErrNotFound if no row exists.
func (s *HoldingStore) Get(_ context.Context, trader, subject domain.Address) (*domain.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, exists := s.data[holdingKey{trader, subject}]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *h
	return &copy, nil
}

// GetByTrader retrieves all holdings of a trader, ordered by subject.
func (s *HoldingStore) GetByTrader(_ context.Context, trader domain.Address) ([]*domain.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Holding
	for _, h := range s.data {
		if h.Trader == trader {
			copy := *h
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Subject < result[j].Subject
	})

	return result, nil
}

// GetBySubject retrieves all holdings under a subject, ordered by trader.
func (s *HoldingStore) GetBySubject(_ context.Context, subject domain.Address) ([]*domain.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Holding
	for _, h := range s.data {
		if h.Subject == subject {
			copy := *h
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Trader < result[j].Trader
	})

	return result, nil
}

var _ storage.HoldingStore = (*HoldingStore)(nil)
