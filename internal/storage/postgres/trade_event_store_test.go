package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"shares-market/internal/domain"
	"shares-market/internal/storage"
	"shares-market/internal/storage/postgres"
)

func TestTradeEventStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewTradeEventStore(pool)
	ctx := context.Background()

	ev := &domain.TradeEvent{
		Seq:         1,
		Trader:      "0xaa",
		Subject:     "0xbb",
		IsBuy:       true,
		Amount:      1,
		Price:       62_500_000,
		ProtocolFee: 3_125_000,
		SubjectFee:  3_125_000,
		Supply:      2,
		TimestampMs: 1700000000000,
	}

	require.NoError(t, store.Insert(ctx, "trade1", ev))

	got, err := store.GetByID(ctx, "trade1")
	require.NoError(t, err)
	require.Equal(t, ev, got)
}

func TestTradeEventStore_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewTradeEventStore(pool)
	ctx := context.Background()

	ev := &domain.TradeEvent{Seq: 1, Trader: "0xaa", Subject: "0xbb", IsBuy: true, Amount: 1}
	require.NoError(t, store.Insert(ctx, "trade1", ev))

	err := store.Insert(ctx, "trade1", ev)
	require.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Same seq under a different trade ID is also a duplicate.
	err = store.Insert(ctx, "trade2", ev)
	require.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestTradeEventStore_GetByIDNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewTradeEventStore(pool)

	_, err := store.GetByID(context.Background(), "nonexistent")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTradeEventStore_GetBySubjectOrdered(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewTradeEventStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, "t2", &domain.TradeEvent{Seq: 2, Trader: "0xaa", Subject: "0xbb", IsBuy: false, Amount: 1}))
	require.NoError(t, store.Insert(ctx, "t1", &domain.TradeEvent{Seq: 1, Trader: "0xaa", Subject: "0xbb", IsBuy: true, Amount: 2}))
	require.NoError(t, store.Insert(ctx, "t3", &domain.TradeEvent{Seq: 3, Trader: "0xaa", Subject: "0xcc", IsBuy: true, Amount: 1}))

	events, err := store.GetBySubject(ctx, "0xbb")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, uint64(1), events[0].Seq)
	require.Equal(t, uint64(2), events[1].Seq)

	byTrader, err := store.GetByTrader(ctx, "0xaa")
	require.NoError(t, err)
	require.Len(t, byTrader, 3)
}
