package indexer

import (
	"context"
	"log"
	"time"

	"shares-market/internal/domain"
	"shares-market/internal/observability"
)

// Runner drains the trade event stream into the Indexer. The market
// emits under its lock, so Enqueue only hands the event to a buffered
// channel; all storage work happens on the Run goroutine.
type Runner struct {
	indexer       *Indexer
	events        chan domain.TradeEvent
	flushInterval time.Duration
	logger        *log.Logger
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	// BufferSize is the event channel capacity. Default: 1024.
	BufferSize int

	// FlushInterval forces the analytics batch out periodically even if
	// it never reaches the batch size. Default: 5s.
	FlushInterval time.Duration

	Logger *log.Logger
}

// NewRunner creates a runner around an Indexer.
func NewRunner(ix *Indexer, opts RunnerOptions) *Runner {
	bufferSize := opts.BufferSize
	if bufferSize == 0 {
		bufferSize = 1024
	}

	flushInterval := opts.FlushInterval
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Runner{
		indexer:       ix,
		events:        make(chan domain.TradeEvent, bufferSize),
		flushInterval: flushInterval,
		logger:        logger,
	}
}

// Enqueue hands a trade event to the runner. Blocks if the buffer is
// full; the market holds its lock while emitting, so sustained
// backpressure here throttles trading rather than losing events.
func (r *Runner) Enqueue(ev domain.TradeEvent) {
	r.events <- ev
	observability.UpdateIndexerLag(len(r.events))
}

// Run applies events until the context is cancelled, then drains the
// buffer and flushes the analytics batch. It blocks until done.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Println("[indexer] Runner started")

	flushTicker := time.NewTicker(r.flushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.drain()
			if err := r.indexer.Flush(context.Background()); err != nil {
				r.logger.Printf("[indexer] Final flush: %v", err)
			}
			r.logger.Println("[indexer] Runner stopping...")
			return ctx.Err()

		case ev := <-r.events:
			if err := r.indexer.Apply(ctx, ev); err != nil {
				r.logger.Printf("[indexer] Apply seq %d: %v", ev.Seq, err)
			}
			observability.UpdateIndexerLag(len(r.events))

		case <-flushTicker.C:
			if err := r.indexer.Flush(ctx); err != nil {
				r.logger.Printf("[indexer] Periodic flush: %v", err)
			}
		}
	}
}

// drain applies whatever is still buffered at shutdown. Uses a fresh
// context so in-flight events are not lost to the cancellation that
// triggered the drain.
func (r *Runner) drain() {
	for {
		select {
		case ev := <-r.events:
			if err := r.indexer.Apply(context.Background(), ev); err != nil {
				r.logger.Printf("[indexer] Drain seq %d: %v", ev.Seq, err)
			}
		default:
			return
		}
	}
}
