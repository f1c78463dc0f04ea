package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/swipematch/internal/engine"
	"github.com/roach88/swipematch/internal/model"
)

const (
	DefaultAttempts  = 3
	DefaultBackoff   = 100 * time.Millisecond
	DefaultRetention = 24 * time.Hour
)

// Log is the consensus log the publisher writes through.
type Log interface {
	RecordConsensusEvent(ctx context.Context, ev model.ConsensusEvent) (model.ConsensusEvent, bool, error)
	MarkConsensusPublished(ctx context.Context, eventID string, at time.Time) error
	ListUnpublishedConsensus(ctx context.Context, now time.Time, limit int) ([]model.ConsensusEvent, error)
	ListUnrecordedMatches(ctx context.Context, after, before time.Time, limit int) ([]model.Room, error)
}

// Publisher implements engine.Notifier on top of a Log and a Sink.
type Publisher struct {
	log       Log
	sink      Sink
	ids       IDGenerator
	clock     engine.Clock
	attempts  int
	backoff   time.Duration
	retention time.Duration
	logger    *slog.Logger
}

var _ engine.Notifier = (*Publisher)(nil)

// Option configures a Publisher.
type Option func(*Publisher)

// WithIDGenerator overrides the UUIDv7 event ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Publisher) { p.ids = g }
}

// WithClock overrides the clock used for emitted, expiry and publish times.
func WithClock(c engine.Clock) Option {
	return func(p *Publisher) { p.clock = c }
}

// WithRetry sets the number of attempts for each log write and each send,
// and the first backoff. The backoff doubles after each failed attempt.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(p *Publisher) {
		p.attempts = attempts
		p.backoff = backoff
	}
}

// WithRetention sets how long a consensus event is kept.
func WithRetention(d time.Duration) Option {
	return func(p *Publisher) { p.retention = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// NewPublisher creates a Publisher. Unset or invalid options use defaults.
func NewPublisher(log Log, sink Sink, opts ...Option) *Publisher {
	p := &Publisher{
		log:       log,
		sink:      sink,
		ids:       UUIDv7Generator{},
		clock:     engine.SystemClock{},
		attempts:  DefaultAttempts,
		backoff:   DefaultBackoff,
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.attempts <= 0 {
		p.attempts = DefaultAttempts
	}
	if p.backoff < 0 {
		p.backoff = 0
	}
	if p.retention <= 0 {
		p.retention = DefaultRetention
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Publish records and delivers the consensus event for a committed match.
//
// If the room already has an event (a previous attempt recorded it), that
// event is reused so its id and payload never change. An event already marked
// published is not sent again.
func (p *Publisher) Publish(ctx context.Context, roomID, itemID string, matchedAt time.Time) error {
	now := p.clock.Now().UTC()
	ev := model.ConsensusEvent{
		EventID:   p.ids.Generate(),
		RoomID:    roomID,
		ItemID:    itemID,
		MatchedAt: matchedAt.UTC(),
		EmittedAt: now,
		ExpiresAt: now.Add(p.retention),
	}

	var (
		stored   model.ConsensusEvent
		inserted bool
	)
	err := p.retry(ctx, "record consensus event for room "+roomID, func(ctx context.Context) error {
		var err error
		stored, inserted, err = p.log.RecordConsensusEvent(ctx, ev)
		return err
	})
	if err != nil {
		return err
	}
	if !inserted {
		if stored.PublishedAt != nil {
			p.logger.Debug("consensus event already published",
				"room_id", roomID,
				"event_id", stored.EventID,
			)
			return nil
		}
		p.logger.Info("reusing recorded consensus event",
			"room_id", roomID,
			"event_id", stored.EventID,
		)
	}

	return p.deliver(ctx, stored)
}

// deliver sends ev with retry and marks it published.
func (p *Publisher) deliver(ctx context.Context, ev model.ConsensusEvent) error {
	msg, err := newMessage(ev)
	if err != nil {
		return err
	}

	err = p.retry(ctx, "send consensus event "+ev.EventID, func(ctx context.Context) error {
		return p.sink.Send(ctx, msg)
	})
	if err != nil {
		return err
	}

	publishedAt := p.clock.Now()
	err = p.retry(ctx, "mark consensus event "+ev.EventID+" published", func(ctx context.Context) error {
		return p.log.MarkConsensusPublished(ctx, ev.EventID, publishedAt)
	})
	if err != nil {
		return err
	}

	p.logger.Info("consensus event published",
		"room_id", ev.RoomID,
		"item_id", ev.ItemID,
		"event_id", ev.EventID,
	)
	return nil
}

// retry runs op up to p.attempts times with doubling backoff.
func (p *Publisher) retry(ctx context.Context, what string, op func(context.Context) error) error {
	wait := p.backoff
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		p.logger.Warn("consensus step failed",
			"step", what,
			"attempt", attempt,
			"error", err,
		)
		if attempt == p.attempts {
			break
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: %w", what, ctx.Err())
			case <-timer.C:
			}
			wait *= 2
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", what, p.attempts, err)
}
