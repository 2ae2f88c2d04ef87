// Package indexer mirrors executed trades into off-core storage: the
// append-only trade event log, the per-trader holdings table, and the
// analytics copy. The market remains authoritative; the mirror exists
// for queries and restarts resume from the last applied sequence.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"shares-market/internal/domain"
	"shares-market/internal/idhash"
	"shares-market/internal/observability"
	"shares-market/internal/storage"
)

// Indexer applies trade events to the storage mirror in sequence order.
// Not safe for concurrent use; the Runner serializes all calls.
type Indexer struct {
	holdings  storage.HoldingStore
	events    storage.TradeEventStore
	progress  storage.SyncProgressStore
	analytics storage.TradeAnalyticsStore
	logger    *log.Logger

	lastSeq   uint64
	pending   []*domain.TradeEvent
	batchSize int
}

// Options contains configuration for creating an Indexer.
type Options struct {
	Holdings storage.HoldingStore
	Events   storage.TradeEventStore
	Progress storage.SyncProgressStore

	// Analytics receives a batched copy of every applied event. Optional.
	Analytics storage.TradeAnalyticsStore

	// BatchSize is the analytics flush threshold. Default: 100.
	BatchSize int

	Logger *log.Logger
}

// New creates an Indexer. Call Start before applying events.
func New(opts Options) *Indexer {
	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = 100
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Indexer{
		holdings:  opts.Holdings,
		events:    opts.Events,
		progress:  opts.Progress,
		analytics: opts.Analytics,
		logger:    logger,
		batchSize: batchSize,
	}
}

// Start loads the last applied sequence number so a restarted indexer
// skips events it has already mirrored.
func (ix *Indexer) Start(ctx context.Context) error {
	seq, err := ix.progress.GetLastSeq(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			ix.lastSeq = 0
			return nil
		}
		return fmt.Errorf("load sync progress: %w", err)
	}
	ix.lastSeq = seq
	ix.logger.Printf("[indexer] Resuming from seq %d", seq)
	return nil
}

// LastSeq returns the last applied sequence number.
func (ix *Indexer) LastSeq() uint64 {
	return ix.lastSeq
}

// Apply mirrors one trade event. Events at or below the last applied
// sequence are skipped, so replaying a stream after a restart is safe.
func (ix *Indexer) Apply(ctx context.Context, ev domain.TradeEvent) error {
	if ev.Seq <= ix.lastSeq {
		observability.RecordEventSkipped()
		return nil
	}

	tradeID := idhash.ComputeTradeIDFromEvent(&ev)
	if err := ix.events.Insert(ctx, tradeID, &ev); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			observability.RecordApplyError("event_log")
			return fmt.Errorf("insert trade event seq %d: %w", ev.Seq, err)
		}
		// A duplicate means a previous run wrote the event but crashed
		// before saving progress. The holdings update below is what is
		// outstanding.
	}

	if err := ix.applyHolding(ctx, &ev); err != nil {
		observability.RecordApplyError("holdings")
		return fmt.Errorf("apply holding seq %d: %w", ev.Seq, err)
	}

	if ix.analytics != nil {
		ix.pending = append(ix.pending, &ev)
		if len(ix.pending) >= ix.batchSize {
			if err := ix.Flush(ctx); err != nil {
				return err
			}
		}
	}

	if err := ix.progress.SetLastSeq(ctx, ev.Seq); err != nil {
		observability.RecordApplyError("progress")
		return fmt.Errorf("save sync progress: %w", err)
	}
	ix.lastSeq = ev.Seq
	observability.RecordEventApplied(ev.Seq)
	return nil
}

func (ix *Indexer) applyHolding(ctx context.Context, ev *domain.TradeEvent) error {
	if ev.IsBuy {
		return ix.holdings.ApplyBuy(ctx, ev.Trader, ev.Subject, ev.Amount, ev.TimestampMs)
	}
	return ix.holdings.ApplySell(ctx, ev.Trader, ev.Subject, ev.Amount, ev.TimestampMs)
}

// Flush writes the pending analytics batch. No-op when nothing is pending.
func (ix *Indexer) Flush(ctx context.Context) error {
	if ix.analytics == nil || len(ix.pending) == 0 {
		return nil
	}
	if err := ix.analytics.InsertBulk(ctx, ix.pending); err != nil {
		observability.RecordApplyError("analytics")
		return fmt.Errorf("flush analytics batch of %d: %w", len(ix.pending), err)
	}
	ix.pending = ix.pending[:0]
	observability.DefaultMetrics.AnalyticsFlushes.Inc()
	return nil
}
