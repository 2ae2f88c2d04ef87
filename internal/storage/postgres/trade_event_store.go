package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"shares-market/internal/domain"
	"shares-market/internal/storage"
)

// TradeEventStore implements storage.TradeEventStore using PostgreSQL.
type TradeEventStore struct {
	pool *Pool
}

// NewTradeEventStore creates a new TradeEventStore.
func NewTradeEventStore(pool *Pool) *TradeEventStore {
	return &TradeEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeEventStore = (*TradeEventStore)(nil)

// Insert adds an event under tradeID. Returns ErrDuplicateKey if the ID
// was already recorded.
func (s *TradeEventStore) Insert(ctx context.Context, tradeID string, ev *domain.TradeEvent) error {
	query := `
		INSERT INTO trade_events (
			trade_id, seq, trader, subject, is_buy,
			amount, price, protocol_fee, subject_fee, supply, timestamp_ms
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		)
	`

	_, err := s.pool.Exec(ctx, query,
		tradeID, int64(ev.Seq), string(ev.Trader), string(ev.Subject), ev.IsBuy,
		int64(ev.Amount), int64(ev.Price), int64(ev.ProtocolFee), int64(ev.SubjectFee),
		int64(ev.Supply), ev.TimestampMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade event: %w", err)
	}
	return nil
}

// GetByID retrieves an event by trade ID. Returns ErrNotFound if not exists.
func (s *TradeEventStore) GetByID(ctx context.Context, tradeID string) (*domain.TradeEvent, error) {
	query := `
		SELECT seq, trader, subject, is_buy,
		       amount, price, protocol_fee, subject_fee, supply, timestamp_ms
		FROM trade_events
		WHERE trade_id = $1
	`

	ev, err := scanTradeEvent(s.pool.QueryRow(ctx, query, tradeID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade event by id: %w", err)
	}
	return ev, nil
}

// GetBySubject retrieves all events for a subject, ordered by seq ASC.
func (s *TradeEventStore) GetBySubject(ctx context.Context, subject domain.Address) ([]*domain.TradeEvent, error) {
	query := `
		SELECT seq, trader, subject, is_buy,
		       amount, price, protocol_fee, subject_fee, supply, timestamp_ms
		FROM trade_events
		WHERE subject = $1
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, string(subject))
	if err != nil {
		return nil, fmt.Errorf("get trade events by subject: %w", err)
	}
	defer rows.Close()

	return scanTradeEvents(rows)
}

// GetByTrader retrieves all events for a trader, ordered by seq ASC.
func (s *TradeEventStore) GetByTrader(ctx context.Context, trader domain.Address) ([]*domain.TradeEvent, error) {
	query := `
		SELECT seq, trader, subject, is_buy,
		       amount, price, protocol_fee, subject_fee, supply, timestamp_ms
		FROM trade_events
		WHERE trader = $1
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, string(trader))
	if err != nil {
		return nil, fmt.Errorf("get trade events by trader: %w", err)
	}
	defer rows.Close()

	return scanTradeEvents(rows)
}

// scanTradeEvent scans a single row into a TradeEvent.
func scanTradeEvent(row pgx.Row) (*domain.TradeEvent, error) {
	var ev domain.TradeEvent
	var seq, amount, price, protocolFee, subjectFee, supply int64

	err := row.Scan(
		&seq, &ev.Trader, &ev.Subject, &ev.IsBuy,
		&amount, &price, &protocolFee, &subjectFee, &supply, &ev.TimestampMs,
	)
	if err != nil {
		return nil, err
	}

	ev.Seq = uint64(seq)
	ev.Amount = uint64(amount)
	ev.Price = uint64(price)
	ev.ProtocolFee = uint64(protocolFee)
	ev.SubjectFee = uint64(subjectFee)
	ev.Supply = uint64(supply)
	return &ev, nil
}

// scanTradeEvents scans multiple rows into a slice of TradeEvent.
func scanTradeEvents(rows pgx.Rows) ([]*domain.TradeEvent, error) {
	var events []*domain.TradeEvent

	for rows.Next() {
		ev, err := scanTradeEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade event row: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade event rows: %w", err)
	}

	return events, nil
}
