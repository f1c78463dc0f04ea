package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/swipematch/internal/model"
)

// GetRoom returns model.ErrRoomNotFound if the room does not exist.
func (s *Store) GetRoom(ctx context.Context, roomID string) (model.Room, error) {
	var (
		r         model.Room
		status    string
		matchedAt sql.NullInt64
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, member_count, status, matched_item_id, matched_at, created_at
		FROM rooms
		WHERE id = ?
	`, roomID).Scan(&r.ID, &r.MemberCount, &status, &r.MatchedItemID, &matchedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Room{}, model.ErrRoomNotFound
	}
	if err != nil {
		return model.Room{}, fmt.Errorf("get room: %w", err)
	}
	r.Status = model.RoomStatus(status)
	r.MatchedAt = fromNullNanos(matchedAt)
	r.CreatedAt = fromNanos(createdAt)
	return r, nil
}

// GetCounter returns the item's positive counter; zero if it has none.
func (s *Store) GetCounter(ctx context.Context, roomID, itemID string) (model.ItemVoteCounter, error) {
	c := model.ItemVoteCounter{RoomID: roomID, ItemID: itemID}
	err := s.db.QueryRowContext(ctx, `
		SELECT positive_count FROM item_counters
		WHERE room_id = ? AND item_id = ?
	`, roomID, itemID).Scan(&c.PositiveCount)
	if errors.Is(err, sql.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return model.ItemVoteCounter{}, fmt.Errorf("get counter: %w", err)
	}
	return c, nil
}

// ListVotes returns the room's votes in insertion order.
func (s *Store) ListVotes(ctx context.Context, roomID string) ([]model.Vote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, item_id, user_id, vote_type, created_at
		FROM votes
		WHERE room_id = ?
		ORDER BY id ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	var votes []model.Vote
	for rows.Next() {
		var (
			v         model.Vote
			voteType  string
			createdAt int64
		)
		if err := rows.Scan(&v.RoomID, &v.ItemID, &v.UserID, &voteType, &createdAt); err != nil {
			return nil, fmt.Errorf("list votes: scan: %w", err)
		}
		v.Type = model.VoteType(voteType)
		v.CreatedAt = fromNanos(createdAt)
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	return votes, nil
}

// ListChanges returns up to limit feed records after afterSeq, ordered by seq.
// limit <= 0 means no limit.
func (s *Store) ListChanges(ctx context.Context, afterSeq int64, limit int) ([]model.ChangeRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, event_name, image
		FROM vote_feed
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	var records []model.ChangeRecord
	for rows.Next() {
		var (
			rec   model.ChangeRecord
			name  string
			image string
		)
		if err := rows.Scan(&rec.Seq, &name, &image); err != nil {
			return nil, fmt.Errorf("list changes: scan: %w", err)
		}
		rec.EventName = model.ChangeEventName(name)
		rec.Image = json.RawMessage(image)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	return records, nil
}

// LoadCursor returns the consumer's committed seq, zero if none.
func (s *Store) LoadCursor(ctx context.Context, consumer string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT seq FROM feed_cursors WHERE consumer = ?
	`, consumer).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	return seq, nil
}

const consensusSelect = `
	SELECT event_id, room_id, item_id, matched_at, emitted_at, expires_at, published_at
	FROM consensus_events`

// GetConsensusEvent returns the room's event or model.ErrEventNotFound.
func (s *Store) GetConsensusEvent(ctx context.Context, roomID string) (model.ConsensusEvent, error) {
	ev, err := scanConsensusEvent(s.db.QueryRowContext(ctx, consensusSelect+` WHERE room_id = ?`, roomID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.ConsensusEvent{}, model.ErrEventNotFound
	}
	if err != nil {
		return model.ConsensusEvent{}, fmt.Errorf("get consensus event: %w", err)
	}
	return ev, nil
}

// ListUnpublishedConsensus returns unexpired, unpublished events, oldest first.
func (s *Store) ListUnpublishedConsensus(ctx context.Context, now time.Time, limit int) ([]model.ConsensusEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, consensusSelect+`
		WHERE published_at IS NULL AND expires_at > ?
		ORDER BY emitted_at ASC, event_id ASC
		LIMIT ?
	`, toNanos(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list unpublished consensus: %w", err)
	}
	defer rows.Close()

	var events []model.ConsensusEvent
	for rows.Next() {
		ev, err := scanConsensusEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("list unpublished consensus: scan: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list unpublished consensus: %w", err)
	}
	return events, nil
}

// ListUnrecordedMatches returns rooms matched in (after, before] that have no
// consensus event, oldest match first.
func (s *Store) ListUnrecordedMatches(ctx context.Context, after, before time.Time, limit int) ([]model.Room, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.member_count, r.status, r.matched_item_id, r.matched_at, r.created_at
		FROM rooms r
		WHERE r.matched_item_id <> ''
		  AND r.matched_at > ? AND r.matched_at <= ?
		  AND NOT EXISTS (SELECT 1 FROM consensus_events e WHERE e.room_id = r.id)
		ORDER BY r.matched_at ASC, r.id ASC
		LIMIT ?
	`, toNanos(after), toNanos(before), limit)
	if err != nil {
		return nil, fmt.Errorf("list unrecorded matches: %w", err)
	}
	defer rows.Close()

	var rooms []model.Room
	for rows.Next() {
		var (
			r         model.Room
			status    string
			matchedAt sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.MemberCount, &status, &r.MatchedItemID, &matchedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("list unrecorded matches: scan: %w", err)
		}
		r.Status = model.RoomStatus(status)
		r.MatchedAt = fromNullNanos(matchedAt)
		r.CreatedAt = fromNanos(createdAt)
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list unrecorded matches: %w", err)
	}
	return rooms, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsensusEvent(row rowScanner) (model.ConsensusEvent, error) {
	var (
		ev                         model.ConsensusEvent
		matchedAt, emitted, expire int64
		published                  sql.NullInt64
	)
	if err := row.Scan(&ev.EventID, &ev.RoomID, &ev.ItemID, &matchedAt, &emitted, &expire, &published); err != nil {
		return model.ConsensusEvent{}, err
	}
	ev.MatchedAt = fromNanos(matchedAt)
	ev.EmittedAt = fromNanos(emitted)
	ev.ExpiresAt = fromNanos(expire)
	ev.PublishedAt = fromNullNanos(published)
	return ev, nil
}
