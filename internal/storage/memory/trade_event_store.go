package memory

import (
	"context"
	"sort"
	"sync"

	"shares-market/internal/domain"
	"shares-market/internal/storage"
)

// TradeEventStore is an in-memory implementation of storage.TradeEventStore.
type TradeEventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TradeEvent // keyed by trade_id
}

// NewTradeEventStore creates a new in-memory trade event store.
func NewTradeEventStore() *TradeEventStore {
	return &TradeEventStore{
		data: make(map[string]*domain.TradeEvent),
	}
}

// Insert adds an event under tradeID. Returns ErrDuplicateKey if the ID
// was already recorded.
func (s *TradeEventStore) Insert(_ context.Context, tradeID string, ev *domain.TradeEvent) error {
	if tradeID == "" || ev == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[tradeID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *ev
	s.data[tradeID] = &copy
	return nil
}

// GetByID retrieves an event by trade ID. Returns ErrNotFound if not exists.
func (s *TradeEventStore) GetByID(_ context.Context, tradeID string) (*domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, exists := s.data[tradeID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *ev
	return &copy, nil
}

// GetBySubject retrieves all events for a subject, ordered by seq ASC.
func (s *TradeEventStore) GetBySubject(_ context.Context, subject domain.Address) ([]*domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeEvent
	for _, ev := range s.data {
		if ev.Subject == subject {
			copy := *ev
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})

	return result, nil
}

// GetByTrader retrieves all events for a trader, ordered by seq ASC.
func (s *TradeEventStore) GetByTrader(_ context.Context, trader domain.Address) ([]*domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeEvent
	for _, ev := range s.data {
		if ev.Trader == trader {
			copy := *ev
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})

	return result, nil
}

var _ storage.TradeEventStore = (*TradeEventStore)(nil)
