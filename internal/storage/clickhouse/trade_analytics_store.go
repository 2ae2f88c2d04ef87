package clickhouse

import (
	"context"
	"fmt"

	"shares-market/internal/domain"
	"shares-market/internal/storage"
)

// TradeAnalyticsStore implements storage.TradeAnalyticsStore using
// ClickHouse. The trade_events_analytics table uses ReplacingMergeTree
// keyed by seq, so replays converge instead of failing.
type TradeAnalyticsStore struct {
	conn *Conn
}

// NewTradeAnalyticsStore creates a new TradeAnalyticsStore.
func NewTradeAnalyticsStore(conn *Conn) *TradeAnalyticsStore {
	return &TradeAnalyticsStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TradeAnalyticsStore = (*TradeAnalyticsStore)(nil)

// InsertBulk appends a batch of events.
func (s *TradeAnalyticsStore) InsertBulk(ctx context.Context, events []*domain.TradeEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trade_events_analytics (
			seq, trader, subject, is_buy, amount, price, protocol_fee, subject_fee, supply, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, ev := range events {
		err = batch.Append(
			ev.Seq, string(ev.Trader), string(ev.Subject), ev.IsBuy,
			ev.Amount, ev.Price, ev.ProtocolFee, ev.SubjectFee, ev.Supply,
			uint64(ev.TimestampMs),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// VolumeBySubject aggregates events for a subject within [startMs, endMs].
func (s *TradeAnalyticsStore) VolumeBySubject(ctx context.Context, subject domain.Address, startMs, endMs int64) (*domain.VolumeStats, error) {
	query := `
		SELECT
			count() AS trade_count,
			sumIf(amount, is_buy) AS buy_volume,
			sumIf(amount, NOT is_buy) AS sell_volume,
			sum(price) AS gross_value,
			sum(protocol_fee) AS protocol_fee,
			sum(subject_fee) AS subject_fee
		FROM trade_events_analytics FINAL
		WHERE subject = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
	`

	row := s.conn.QueryRow(ctx, query, string(subject), uint64(startMs), uint64(endMs))

	stats := &domain.VolumeStats{Subject: subject}
	err := row.Scan(
		&stats.TradeCount, &stats.BuyVolume, &stats.SellVolume,
		&stats.GrossValue, &stats.ProtocolFee, &stats.SubjectFee,
	)
	if err != nil {
		return nil, fmt.Errorf("volume by subject: %w", err)
	}
	return stats, nil
}
