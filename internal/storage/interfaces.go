package storage

import (
	"context"

	"shares-market/internal/domain"
)

// HoldingStore mirrors per-(trader, subject) share balances off-core.
// Corresponds to the holdings table in PostgreSQL.
type HoldingStore interface {
	// ApplyBuy adds amount to the (trader, subject) holding, creating the
	// row lazily at zero.
	ApplyBuy(ctx context.Context, trader, subject domain.Address, amount uint64, ts int64) error

	// ApplySell subtracts amount from the holding. Returns
	// ErrInsufficientBalance if the row is missing or too small.
	ApplySell(ctx context.Context, trader, subject domain.Address, amount uint64, ts int64) error

	// Get retrieves one holding. Returns ErrNotFound if no row exists.
	Get(ctx context.Context, trader, subject domain.Address) (*domain.Holding, error)

	// GetByTrader retrieves all holdings of a trader, ordered by subject.
	GetByTrader(ctx context.Context, trader domain.Address) ([]*domain.Holding, error)

	// GetBySubject retrieves all holdings under a subject, ordered by trader.
	GetBySubject(ctx context.Context, subject domain.Address) ([]*domain.Holding, error)
}

// TradeEventStore is the append-only log of mirrored trade events.
type TradeEventStore interface {
	// Insert adds an event under tradeID. Returns ErrDuplicateKey if the
	// ID was already recorded.
	Insert(ctx context.Context, tradeID string, ev *domain.TradeEvent) error

	// GetByID retrieves an event by trade ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tradeID string) (*domain.TradeEvent, error)

	// GetBySubject retrieves all events for a subject, ordered by seq ASC.
	GetBySubject(ctx context.Context, subject domain.Address) ([]*domain.TradeEvent, error)

	// GetByTrader retrieves all events for a trader, ordered by seq ASC.
	GetByTrader(ctx context.Context, trader domain.Address) ([]*domain.TradeEvent, error)
}

// UserMappingStore binds wallet addresses to external identities.
// Corresponds to the user_mappings table in PostgreSQL.
type UserMappingStore interface {
	// Upsert creates or replaces the mapping for an address. Banned
	// mappings keep their flag across re-binding.
	Upsert(ctx context.Context, m *domain.UserMapping) error

	// GetByAddress retrieves a mapping. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, addr domain.Address) (*domain.UserMapping, error)

	// SetBanned flips the banned flag. Returns ErrNotFound if no mapping exists.
	SetBanned(ctx context.Context, addr domain.Address, banned bool) error
}

// SyncProgressStore persists the last trade sequence number applied by
// the indexer, so restarts resume without double-applying events.
type SyncProgressStore interface {
	// GetLastSeq returns the last applied sequence number.
	// Returns ErrNotFound if no progress has been saved yet.
	GetLastSeq(ctx context.Context) (uint64, error)

	// SetLastSeq saves the last applied sequence number.
	SetLastSeq(ctx context.Context, seq uint64) error
}

// TradeAnalyticsStore holds the analytics copy of trade events,
// optimized for volume queries. Backed by ClickHouse.
type TradeAnalyticsStore interface {
	// InsertBulk appends a batch of events. The analytics copy tolerates
	// replays; deduplication is the reader's concern.
	InsertBulk(ctx context.Context, events []*domain.TradeEvent) error

	// VolumeBySubject aggregates events for a subject within
	// [startMs, endMs] (inclusive).
	VolumeBySubject(ctx context.Context, subject domain.Address, startMs, endMs int64) (*domain.VolumeStats, error)
}
