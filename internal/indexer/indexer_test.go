package indexer

import (
	"context"
	"errors"
	"testing"

	"shares-market/internal/domain"
	"shares-market/internal/storage"
	"shares-market/internal/storage/memory"
)

type fixture struct {
	indexer   *Indexer
	holdings  *memory.HoldingStore
	events    *memory.TradeEventStore
	progress  *memory.SyncProgressStore
	analytics *memory.TradeAnalyticsStore
}

func newFixture(t *testing.T, batchSize int) *fixture {
	t.Helper()
	f := &fixture{
		holdings:  memory.NewHoldingStore(),
		events:    memory.NewTradeEventStore(),
		progress:  memory.NewSyncProgressStore(),
		analytics: memory.NewTradeAnalyticsStore(),
	}
	f.indexer = New(Options{
		Holdings:  f.holdings,
		Events:    f.events,
		Progress:  f.progress,
		Analytics: f.analytics,
		BatchSize: batchSize,
	})
	if err := f.indexer.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return f
}

func buyEvent(seq uint64, trader, subject domain.Address, amount uint64) domain.TradeEvent {
	return domain.TradeEvent{
		Seq:         seq,
		Trader:      trader,
		Subject:     subject,
		IsBuy:       true,
		Amount:      amount,
		TimestampMs: int64(seq) * 1000,
	}
}

func sellEvent(seq uint64, trader, subject domain.Address, amount uint64) domain.TradeEvent {
	ev := buyEvent(seq, trader, subject, amount)
	ev.IsBuy = false
	return ev
}

func TestApplyMirrorsHoldingsAndLog(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	if err := f.indexer.Apply(ctx, buyEvent(1, "0xaa", "0xbb", 3)); err != nil {
		t.Fatalf("apply buy: %v", err)
	}
	if err := f.indexer.Apply(ctx, sellEvent(2, "0xaa", "0xbb", 1)); err != nil {
		t.Fatalf("apply sell: %v", err)
	}

	h, err := f.holdings.Get(ctx, "0xaa", "0xbb")
	if err != nil {
		t.Fatalf("get holding: %v", err)
	}
	if h.ShareAmount != 2 {
		t.Errorf("holding = %d, want 2", h.ShareAmount)
	}
	if h.UpdatedAt != 2000 {
		t.Errorf("holding timestamp = %d, want 2000", h.UpdatedAt)
	}

	log, err := f.events.GetBySubject(ctx, "0xbb")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("event log length = %d, want 2", len(log))
	}

	seq, err := f.progress.GetLastSeq(ctx)
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if seq != 2 {
		t.Errorf("progress = %d, want 2", seq)
	}
}

func TestApplySkipsAlreadyAppliedSeq(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	ev := buyEvent(1, "0xaa", "0xbb", 3)
	if err := f.indexer.Apply(ctx, ev); err != nil {
		t.Fatalf("apply: %v", err)
	}
	// Replaying the same event must not double-apply the holding.
	if err := f.indexer.Apply(ctx, ev); err != nil {
		t.Fatalf("replay: %v", err)
	}

	h, err := f.holdings.Get(ctx, "0xaa", "0xbb")
	if err != nil {
		t.Fatalf("get holding: %v", err)
	}
	if h.ShareAmount != 3 {
		t.Errorf("holding = %d after replay, want 3", h.ShareAmount)
	}
}

func TestStartResumesFromSavedProgress(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	if err := f.indexer.Apply(ctx, buyEvent(1, "0xaa", "0xbb", 3)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := f.indexer.Apply(ctx, buyEvent(2, "0xcc", "0xbb", 1)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// A fresh indexer over the same stores picks up where the first left
	// off and ignores a replayed prefix.
	restarted := New(Options{
		Holdings: f.holdings,
		Events:   f.events,
		Progress: f.progress,
	})
	if err := restarted.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if restarted.LastSeq() != 2 {
		t.Fatalf("resumed seq = %d, want 2", restarted.LastSeq())
	}

	if err := restarted.Apply(ctx, buyEvent(1, "0xaa", "0xbb", 3)); err != nil {
		t.Fatalf("replay prefix: %v", err)
	}
	if err := restarted.Apply(ctx, buyEvent(3, "0xaa", "0xbb", 1)); err != nil {
		t.Fatalf("apply new: %v", err)
	}

	h, err := f.holdings.Get(ctx, "0xaa", "0xbb")
	if err != nil {
		t.Fatalf("get holding: %v", err)
	}
	if h.ShareAmount != 4 {
		t.Errorf("holding = %d, want 4", h.ShareAmount)
	}
}

func TestApplyRecoversFromPartialWrite(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	// Simulate a crash between the event log write and the progress
	// save: the log row exists but lastSeq was never advanced.
	ev := buyEvent(1, "0xaa", "0xbb", 3)
	if err := f.indexer.Apply(ctx, ev); err != nil {
		t.Fatalf("apply: %v", err)
	}

	crashed := New(Options{
		Holdings: memory.NewHoldingStore(), // holdings write was lost
		Events:   f.events,
		Progress: memory.NewSyncProgressStore(),
	})
	if err := crashed.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The duplicate event log insert is tolerated and the holding is
	// applied on the retry.
	if err := crashed.Apply(ctx, ev); err != nil {
		t.Fatalf("reapply after crash: %v", err)
	}
	if crashed.LastSeq() != 1 {
		t.Errorf("seq after recovery = %d, want 1", crashed.LastSeq())
	}
}

func TestApplySellWithoutHolding(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	err := f.indexer.Apply(ctx, sellEvent(1, "0xaa", "0xbb", 1))
	if !errors.Is(err, storage.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	// A failed apply must not advance progress.
	if f.indexer.LastSeq() != 0 {
		t.Errorf("seq advanced past a failed apply")
	}
}

func TestAnalyticsBatching(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	for seq := uint64(1); seq <= 2; seq++ {
		if err := f.indexer.Apply(ctx, buyEvent(seq, "0xaa", "0xbb", 1)); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	// Below the batch size nothing is flushed yet.
	stats, err := f.analytics.VolumeBySubject(ctx, "0xbb", 0, 1_000_000)
	if err != nil {
		t.Fatalf("volume: %v", err)
	}
	if stats.TradeCount != 0 {
		t.Fatalf("analytics flushed early: %d events", stats.TradeCount)
	}

	// The third event reaches the threshold and triggers the flush.
	if err := f.indexer.Apply(ctx, buyEvent(3, "0xaa", "0xbb", 1)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	stats, err = f.analytics.VolumeBySubject(ctx, "0xbb", 0, 1_000_000)
	if err != nil {
		t.Fatalf("volume: %v", err)
	}
	if stats.TradeCount != 3 {
		t.Errorf("analytics events = %d, want 3", stats.TradeCount)
	}

	// An explicit flush with an empty buffer is a no-op.
	if err := f.indexer.Flush(ctx); err != nil {
		t.Errorf("empty flush: %v", err)
	}
}

func TestRunnerDrainsOnShutdown(t *testing.T) {
	f := newFixture(t, 100)

	runner := NewRunner(f.indexer, RunnerOptions{BufferSize: 16})
	for seq := uint64(1); seq <= 5; seq++ {
		runner.Enqueue(buyEvent(seq, "0xaa", "0xbb", 1))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := runner.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("run err = %v, want context.Canceled", err)
	}

	// Everything enqueued before shutdown lands in storage, analytics
	// included.
	h, err := f.holdings.Get(context.Background(), "0xaa", "0xbb")
	if err != nil {
		t.Fatalf("get holding: %v", err)
	}
	if h.ShareAmount != 5 {
		t.Errorf("holding = %d, want 5", h.ShareAmount)
	}
	stats, err := f.analytics.VolumeBySubject(context.Background(), "0xbb", 0, 1_000_000)
	if err != nil {
		t.Fatalf("volume: %v", err)
	}
	if stats.TradeCount != 5 {
		t.Errorf("analytics events = %d, want 5", stats.TradeCount)
	}
}
