package clickhouse_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"shares-market/internal/domain"
	chstore "shares-market/internal/storage/clickhouse"
)

func TestTradeAnalyticsStore_VolumeBySubject(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := chstore.NewTradeAnalyticsStore(conn)
	ctx := context.Background()

	events := []*domain.TradeEvent{
		{Seq: 1, Trader: "0xs1", Subject: "0xs1", IsBuy: true, Amount: 1, Price: 0, TimestampMs: 1000},
		{Seq: 2, Trader: "0xaa", Subject: "0xs1", IsBuy: true, Amount: 2, Price: 312_500_000, ProtocolFee: 15_625_000, SubjectFee: 15_625_000, TimestampMs: 2000},
		{Seq: 3, Trader: "0xaa", Subject: "0xs1", IsBuy: false, Amount: 1, Price: 250_000_000, ProtocolFee: 12_500_000, SubjectFee: 12_500_000, TimestampMs: 3000},
		{Seq: 4, Trader: "0xaa", Subject: "0xs2", IsBuy: true, Amount: 5, Price: 1, TimestampMs: 2500},
	}
	require.NoError(t, store.InsertBulk(ctx, events))

	stats, err := store.VolumeBySubject(ctx, "0xs1", 0, 10_000)
	require.NoError(t, err)
	require.Equal(t, uint64(3), stats.TradeCount)
	require.Equal(t, uint64(3), stats.BuyVolume)
	require.Equal(t, uint64(1), stats.SellVolume)
	require.Equal(t, uint64(562_500_000), stats.GrossValue)
	require.Equal(t, uint64(28_125_000), stats.ProtocolFee)
	require.Equal(t, uint64(28_125_000), stats.SubjectFee)
}

func TestTradeAnalyticsStore_VolumeWindowFilters(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := chstore.NewTradeAnalyticsStore(conn)
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, []*domain.TradeEvent{
		{Seq: 1, Trader: "0xaa", Subject: "0xs1", IsBuy: true, Amount: 1, TimestampMs: 1000},
		{Seq: 2, Trader: "0xaa", Subject: "0xs1", IsBuy: true, Amount: 1, TimestampMs: 5000},
	}))

	stats, err := store.VolumeBySubject(ctx, "0xs1", 0, 2000)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.TradeCount)
}

func TestTradeAnalyticsStore_ReplayConverges(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := chstore.NewTradeAnalyticsStore(conn)
	ctx := context.Background()

	ev := &domain.TradeEvent{Seq: 7, Trader: "0xaa", Subject: "0xs1", IsBuy: true, Amount: 3, TimestampMs: 1000}
	require.NoError(t, store.InsertBulk(ctx, []*domain.TradeEvent{ev}))
	require.NoError(t, store.InsertBulk(ctx, []*domain.TradeEvent{ev}))

	// ReplacingMergeTree collapses the replay on FINAL reads.
	stats, err := store.VolumeBySubject(ctx, "0xs1", 0, 10_000)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.TradeCount)
	require.Equal(t, uint64(3), stats.BuyVolume)
}
