package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/swipematch/internal/model"
)

// CreateRoom inserts a new room. Returns model.ErrRoomExists if the id is taken.
func (s *Store) CreateRoom(ctx context.Context, r model.Room) error {
	if err := model.ValidateNewRoom(r); err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, member_count, status, matched_item_id, matched_at, created_at)
		VALUES (?, ?, ?, '', NULL, ?)
		ON CONFLICT(id) DO NOTHING
	`, r.ID, r.MemberCount, string(r.Status), toNanos(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create room: rows affected: %w", err)
	}
	if n == 0 {
		return model.ErrRoomExists
	}
	return nil
}

// UpdateRoomStatus moves a room along an external edge, conditional on its
// current status. applied=false means the room was not in status from.
func (s *Store) UpdateRoomStatus(ctx context.Context, roomID string, from, to model.RoomStatus) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, model.ErrInvalidTransition
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET status = ?
		WHERE id = ? AND status = ?
	`, string(to), roomID, string(from))
	if err != nil {
		return false, fmt.Errorf("update room status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update room status: rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	exists, err := s.roomExists(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("update room status: %w", err)
	}
	if !exists {
		return false, model.ErrRoomNotFound
	}
	return false, nil
}

// PutVoteIfAbsent inserts the vote unless its (room, item, user) key exists.
// Uses ON CONFLICT DO NOTHING; a conflict reports inserted=false.
func (s *Store) PutVoteIfAbsent(ctx context.Context, v model.Vote) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO votes (room_id, item_id, user_id, vote_type, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(room_id, item_id, user_id) DO NOTHING
	`, v.RoomID, v.ItemID, v.UserID, string(v.Type), toNanos(v.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("put vote: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put vote: rows affected: %w", err)
	}
	return n > 0, nil
}

// IncrementPositiveCounter upserts the counter in one statement and returns
// the value SQLite wrote.
func (s *Store) IncrementPositiveCounter(ctx context.Context, roomID, itemID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO item_counters (room_id, item_id, positive_count)
		VALUES (?, ?, 1)
		ON CONFLICT(room_id, item_id) DO UPDATE SET positive_count = positive_count + 1
		RETURNING positive_count
	`, roomID, itemID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment positive counter: %w", err)
	}
	return count, nil
}

// TransitionRoomToMatched sets MATCHED and the item only while the room is
// open and unmatched.
func (s *Store) TransitionRoomToMatched(ctx context.Context, roomID, itemID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rooms
		SET status = ?, matched_item_id = ?, matched_at = ?
		WHERE id = ?
		  AND status IN (?, ?)
		  AND matched_item_id = ''
	`,
		string(model.RoomStatusMatched), itemID, toNanos(at),
		roomID,
		string(model.RoomStatusActive), string(model.RoomStatusWaiting),
	)
	if err != nil {
		return false, fmt.Errorf("transition room: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition room: rows affected: %w", err)
	}
	return n > 0, nil
}

// AppendChange adds a record to the vote feed and returns its seq.
func (s *Store) AppendChange(ctx context.Context, rec model.ChangeRecord) (int64, error) {
	if !rec.EventName.Valid() {
		return 0, &model.ValidationError{Field: "eventName", Reason: "unknown value " + string(rec.EventName)}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO vote_feed (event_name, image) VALUES (?, ?)
	`, string(rec.EventName), string(rec.Image))
	if err != nil {
		return 0, fmt.Errorf("append change: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append change: last insert id: %w", err)
	}
	return seq, nil
}

// SaveCursor commits seq for consumer. The cursor never moves backward.
func (s *Store) SaveCursor(ctx context.Context, consumer string, seq int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feed_cursors (consumer, seq) VALUES (?, ?)
		ON CONFLICT(consumer) DO UPDATE SET seq = excluded.seq
		WHERE excluded.seq > feed_cursors.seq
	`, consumer, seq)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// RecordConsensusEvent inserts ev unless the room already has an event.
// Returns the stored event and whether this call inserted it.
func (s *Store) RecordConsensusEvent(ctx context.Context, ev model.ConsensusEvent) (model.ConsensusEvent, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ConsensusEvent{}, false, fmt.Errorf("record consensus event: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO consensus_events
		(event_id, room_id, item_id, matched_at, emitted_at, expires_at, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id) DO NOTHING
	`,
		ev.EventID, ev.RoomID, ev.ItemID,
		toNanos(ev.MatchedAt), toNanos(ev.EmittedAt), toNanos(ev.ExpiresAt),
		nullNanos(ev.PublishedAt),
	)
	if err != nil {
		return model.ConsensusEvent{}, false, fmt.Errorf("record consensus event: insert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return model.ConsensusEvent{}, false, fmt.Errorf("record consensus event: rows affected: %w", err)
	}

	stored, err := scanConsensusEvent(tx.QueryRowContext(ctx, consensusSelect+` WHERE room_id = ?`, ev.RoomID))
	if err != nil {
		return model.ConsensusEvent{}, false, fmt.Errorf("record consensus event: select: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.ConsensusEvent{}, false, fmt.Errorf("record consensus event: commit: %w", err)
	}
	return stored, n > 0, nil
}

// MarkConsensusPublished stamps the event's first publish time.
func (s *Store) MarkConsensusPublished(ctx context.Context, eventID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE consensus_events
		SET published_at = COALESCE(published_at, ?)
		WHERE event_id = ?
	`, toNanos(at), eventID)
	if err != nil {
		return fmt.Errorf("mark consensus published: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark consensus published: rows affected: %w", err)
	}
	if n == 0 {
		return model.ErrEventNotFound
	}
	return nil
}

// PurgeExpiredConsensus deletes events whose expires_at is not after now.
func (s *Store) PurgeExpiredConsensus(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM consensus_events WHERE expires_at <= ?
	`, toNanos(now))
	if err != nil {
		return 0, fmt.Errorf("purge consensus events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge consensus events: rows affected: %w", err)
	}
	return n, nil
}

func (s *Store) roomExists(ctx context.Context, roomID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM rooms WHERE id = ?`, roomID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
