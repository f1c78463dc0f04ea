package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/swipematch/internal/model"
)

// VoteStore is the storage contract the core consumes. Implementations must
// make each method a single atomic operation in the underlying store.
type VoteStore interface {
	// PutVoteIfAbsent inserts the vote unless one already exists for
	// (RoomID, ItemID, UserID). A conflict returns inserted=false and no error.
	PutVoteIfAbsent(ctx context.Context, v model.Vote) (inserted bool, err error)

	// IncrementPositiveCounter atomically adds one to the item's positive
	// counter, creating it at 1, and returns the new value.
	IncrementPositiveCounter(ctx context.Context, roomID, itemID string) (int64, error)

	// GetCounter returns the item's positive counter; zero if it has none.
	GetCounter(ctx context.Context, roomID, itemID string) (model.ItemVoteCounter, error)

	// GetRoom returns model.ErrRoomNotFound if the room does not exist.
	GetRoom(ctx context.Context, roomID string) (model.Room, error)

	// TransitionRoomToMatched sets status MATCHED and the matched item only if
	// the room is ACTIVE or WAITING and has no matched item. Otherwise it
	// returns applied=false and no error.
	TransitionRoomToMatched(ctx context.Context, roomID, itemID string, at time.Time) (applied bool, err error)
}

// Notifier publishes one consensus notification per committed match.
type Notifier interface {
	Publish(ctx context.Context, roomID, itemID string, matchedAt time.Time) error
}

// Feed is a durable, ordered change feed with per-consumer cursors.
type Feed interface {
	ListChanges(ctx context.Context, afterSeq int64, limit int) ([]model.ChangeRecord, error)
	LoadCursor(ctx context.Context, consumer string) (int64, error)
	SaveCursor(ctx context.Context, consumer string, seq int64) error
}

func resolveLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
