package publish

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultRelayBatch = 100

	// DefaultRelayGrace is how old a match must be before the relay treats
	// its missing event as lost.
	DefaultRelayGrace = 30 * time.Second
)

// Relay resends consensus events that were recorded but never marked
// published, for example because the sink was down past the publisher's
// retry budget.
//
// It also publishes matches that never got an event row at all: a room that
// went MATCHED while the consensus log was unavailable. Only matches newer
// than the publisher's retention window and older than Grace are considered,
// so an event purged by retention is never re-created and a transition still
// publishing inline is left alone.
type Relay struct {
	Publisher *Publisher
	BatchSize int
	Grace     time.Duration
	Logger    *slog.Logger
}

// RunOnce publishes unrecorded matches, then resends a bounded batch of
// pending events, oldest first. It returns how many were published and stops
// on the first failure so the next run retries the rest in order.
func (r Relay) RunOnce(ctx context.Context) (int, error) {
	logger := r.Logger
	if logger == nil {
		logger = r.Publisher.logger
	}
	limit := r.BatchSize
	if limit <= 0 {
		limit = defaultRelayBatch
	}
	now := r.Publisher.clock.Now()

	orphans, err := r.Publisher.log.ListUnrecordedMatches(ctx, now.Add(-r.Publisher.retention), now.Add(-r.Grace), limit)
	if err != nil {
		logger.Error("consensus relay unrecorded match list failed", "error", err)
		return 0, err
	}

	published := 0
	for _, room := range orphans {
		logger.Warn("publishing match with no consensus event",
			"room_id", room.ID,
			"item_id", room.MatchedItemID,
		)
		if err := r.Publisher.Publish(ctx, room.ID, room.MatchedItemID, *room.MatchedAt); err != nil {
			logger.Error("consensus relay delivery failed",
				"room_id", room.ID,
				"error", err,
			)
			return published, err
		}
		published++
	}

	pending, err := r.Publisher.log.ListUnpublishedConsensus(ctx, now, limit)
	if err != nil {
		logger.Error("consensus relay list failed", "error", err)
		return published, err
	}
	if len(pending) == 0 && published == 0 {
		logger.Debug("consensus relay found no pending events")
		return 0, nil
	}

	for _, ev := range pending {
		if err := r.Publisher.deliver(ctx, ev); err != nil {
			logger.Error("consensus relay delivery failed",
				"room_id", ev.RoomID,
				"event_id", ev.EventID,
				"error", err,
			)
			return published, err
		}
		published++
	}

	logger.Info("consensus relay cycle completed", "published_count", published)
	return published, nil
}
