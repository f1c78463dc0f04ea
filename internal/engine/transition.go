package engine

import (
	"context"
	"fmt"
	"log/slog"
)

// Transition performs the exactly-once ACTIVE -> MATCHED flip and hands the
// winning item to the notifier.
//
// Exactly-once comes from VoteStore.TransitionRoomToMatched: of any number of
// concurrent callers for one room, only one observes applied=true, and only
// that caller publishes.
type Transition struct {
	store    VoteStore
	notifier Notifier
	clock    Clock
	logger   *slog.Logger
}

// TransitionOption configures a Transition.
type TransitionOption func(*Transition)

// WithTransitionClock overrides the clock stamping matched_at.
func WithTransitionClock(c Clock) TransitionOption {
	return func(t *Transition) {
		t.clock = c
	}
}

// WithTransitionLogger sets the logger.
func WithTransitionLogger(l *slog.Logger) TransitionOption {
	return func(t *Transition) {
		t.logger = l
	}
}

// NewTransition creates a Transition. A nil notifier is allowed; matches are
// then committed without notification.
func NewTransition(store VoteStore, notifier Notifier, opts ...TransitionOption) *Transition {
	t := &Transition{
		store:    store,
		notifier: notifier,
		clock:    SystemClock{},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = resolveLogger(t.logger)
	return t
}

// Apply attempts the transition. applied=false means another path already
// resolved the room (or it is paused); that is the expected loser outcome of a
// race and is not an error.
//
// A publish failure after a committed transition is returned as *PublishError.
// The room stays MATCHED.
func (t *Transition) Apply(ctx context.Context, roomID, itemID string) (bool, error) {
	matchedAt := t.clock.Now().UTC()

	applied, err := t.store.TransitionRoomToMatched(ctx, roomID, itemID, matchedAt)
	if err != nil {
		return false, fmt.Errorf("transition room %s to matched: %w", roomID, err)
	}
	if !applied {
		t.logger.Debug("match transition not applied",
			"room_id", roomID,
			"item_id", itemID,
		)
		return false, nil
	}

	t.logger.Info("room matched",
		"room_id", roomID,
		"item_id", itemID,
		"matched_at", matchedAt,
	)

	if t.notifier == nil {
		return true, nil
	}
	if err := t.notifier.Publish(ctx, roomID, itemID, matchedAt); err != nil {
		t.logger.Error("consensus publish failed after commit",
			"room_id", roomID,
			"item_id", itemID,
			"error", err,
		)
		return true, &PublishError{RoomID: roomID, ItemID: itemID, Err: err}
	}
	return true, nil
}
