package memory

import (
	"context"
	"sync"

	"shares-market/internal/domain"
	"shares-market/internal/storage"
)

// TradeAnalyticsStore is an in-memory implementation of
// storage.TradeAnalyticsStore.
type TradeAnalyticsStore struct {
	mu     sync.RWMutex
	events []*domain.TradeEvent
}

// NewTradeAnalyticsStore creates a new in-memory trade analytics store.
func NewTradeAnalyticsStore() *TradeAnalyticsStore {
	return &TradeAnalyticsStore{}
}

// InsertBulk appends a batch of events.
func (s *TradeAnalyticsStore) InsertBulk(_ context.Context, events []*domain.TradeEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		if ev == nil {
			return storage.ErrInvalidInput
		}
		copy := *ev
		s.events = append(s.events, &copy)
	}
	return nil
}

// VolumeBySubject aggregates events for a subject within [startMs, endMs].
func (s *TradeAnalyticsStore) VolumeBySubject(_ context.Context, subject domain.Address, startMs, endMs int64) (*domain.VolumeStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.VolumeStats{Subject: subject}
	for _, ev := range s.events {
		if ev.Subject != subject || ev.TimestampMs < startMs || ev.TimestampMs > endMs {
			continue
		}
		stats.TradeCount++
		if ev.IsBuy {
			stats.BuyVolume += ev.Amount
		} else {
			stats.SellVolume += ev.Amount
		}
		stats.GrossValue += ev.Price
		stats.ProtocolFee += ev.ProtocolFee
		stats.SubjectFee += ev.SubjectFee
	}
	return stats, nil
}

var _ storage.TradeAnalyticsStore = (*TradeAnalyticsStore)(nil)
