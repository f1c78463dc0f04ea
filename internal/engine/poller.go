package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultConsumer is the cursor name used when none is configured.
	DefaultConsumer = "vote-processor"
	// DefaultBatchSize bounds the records read per cycle.
	DefaultBatchSize = 100
	// DefaultPollInterval is the idle wait between cycles.
	DefaultPollInterval = time.Second
)

// FeedPoller is the single-writer loop that drains a Feed into a Dispatcher.
//
// Each cycle loads the consumer cursor, reads the next batch, dispatches it
// and commits the batch checkpoint. Because the cursor only moves past
// records the dispatcher reports as handled, a crash or transient error
// redelivers the remainder, which the idempotent pipeline absorbs.
//
// Thread-safety model:
//   - Notify(): safe from any goroutine (API handlers call it after appending)
//   - Run(): must be called from exactly one goroutine per consumer
type FeedPoller struct {
	feed       Feed
	dispatcher *Dispatcher
	consumer   string
	batchSize  int
	interval   time.Duration
	wake       *wakeup
	logger     *slog.Logger
}

// PollerOption configures a FeedPoller.
type PollerOption func(*FeedPoller)

// WithConsumer sets the cursor name.
func WithConsumer(name string) PollerOption {
	return func(p *FeedPoller) {
		p.consumer = name
	}
}

// WithBatchSize sets the maximum records per cycle.
func WithBatchSize(n int) PollerOption {
	return func(p *FeedPoller) {
		p.batchSize = n
	}
}

// WithPollInterval sets the idle wait.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *FeedPoller) {
		p.interval = d
	}
}

// WithPollerLogger sets the logger.
func WithPollerLogger(l *slog.Logger) PollerOption {
	return func(p *FeedPoller) {
		p.logger = l
	}
}

// NewFeedPoller creates a poller with defaults for unset options.
func NewFeedPoller(feed Feed, dispatcher *Dispatcher, opts ...PollerOption) *FeedPoller {
	p := &FeedPoller{
		feed:       feed,
		dispatcher: dispatcher,
		consumer:   DefaultConsumer,
		batchSize:  DefaultBatchSize,
		interval:   DefaultPollInterval,
		wake:       newWakeup(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.batchSize <= 0 {
		p.batchSize = DefaultBatchSize
	}
	if p.interval <= 0 {
		p.interval = DefaultPollInterval
	}
	p.logger = resolveLogger(p.logger)
	return p
}

// Notify wakes the Run loop early. Safe from any goroutine.
func (p *FeedPoller) Notify() {
	p.wake.Notify()
}

// Stop makes Run return after the current cycle.
func (p *FeedPoller) Stop() {
	p.wake.Close()
}

// RunOnce performs one cycle and returns its dispatch result.
func (p *FeedPoller) RunOnce(ctx context.Context) (BatchResult, error) {
	cursor, err := p.feed.LoadCursor(ctx, p.consumer)
	if err != nil {
		return BatchResult{}, fmt.Errorf("load cursor %s: %w", p.consumer, err)
	}

	records, err := p.feed.ListChanges(ctx, cursor, p.batchSize)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list changes after %d: %w", cursor, err)
	}
	if len(records) == 0 {
		return BatchResult{LastSeq: cursor}, nil
	}

	res, dispatchErr := p.dispatcher.Dispatch(ctx, records)
	if res.LastSeq > cursor {
		// Commit progress even when the batch stopped early.
		if err := p.feed.SaveCursor(ctx, p.consumer, res.LastSeq); err != nil {
			return res, fmt.Errorf("save cursor %s at %d: %w", p.consumer, res.LastSeq, err)
		}
	}
	if dispatchErr != nil {
		return res, dispatchErr
	}

	p.logger.Debug("feed batch dispatched",
		"consumer", p.consumer,
		"received", res.Received,
		"processed", res.Processed,
		"filtered", res.Filtered,
		"malformed", res.Malformed,
		"failed", res.Failed,
		"matches", res.Matches,
		"last_seq", res.LastSeq,
	)
	return res, nil
}

// Drain runs cycles until a batch comes back short or an error occurs.
func (p *FeedPoller) Drain(ctx context.Context) (BatchResult, error) {
	var total BatchResult
	for {
		res, err := p.RunOnce(ctx)
		total.Received += res.Received
		total.Filtered += res.Filtered
		total.Malformed += res.Malformed
		total.Processed += res.Processed
		total.Failed += res.Failed
		total.Matches += res.Matches
		if res.LastSeq > total.LastSeq {
			total.LastSeq = res.LastSeq
		}
		if err != nil {
			return total, err
		}
		if res.Received < p.batchSize {
			return total, nil
		}
	}
}

// Run drains the feed until ctx is cancelled or Stop is called.
//
// ERROR HANDLING: a failed cycle is logged and retried after the poll
// interval; the cursor has not moved past the failing record.
func (p *FeedPoller) Run(ctx context.Context) error {
	p.logger.Info("feed poller starting",
		"consumer", p.consumer,
		"batch_size", p.batchSize,
		"interval", p.interval,
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if p.wake.Closed() {
			p.logger.Info("feed poller stopping: stopped")
			return nil
		}
		if _, err := p.Drain(ctx); err != nil {
			if ctx.Err() != nil {
				p.logger.Info("feed poller stopping: context cancelled")
				return ctx.Err()
			}
			p.logger.Error("feed cycle failed", "consumer", p.consumer, "error", err)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("feed poller stopping: context cancelled")
			return ctx.Err()
		case <-p.wake.Wait():
		case <-ticker.C:
		}
	}
}
