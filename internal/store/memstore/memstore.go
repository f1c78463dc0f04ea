// Package memstore is an in-memory swipematch store.
//
// One mutex guards every map, so each method is a single atomic step. That
// gives the same guarantees as the SQL backends' conditional statements,
// which makes this store a faithful stand-in for concurrency tests and the
// scenario harness.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roach88/swipematch/internal/model"
)

type voteKey struct {
	roomID, itemID, userID string
}

type counterKey struct {
	roomID, itemID string
}

// Store implements engine.VoteStore, engine.Feed and publish.Log in memory.
type Store struct {
	mu sync.Mutex

	rooms    map[string]model.Room
	votes    map[voteKey]model.Vote
	voteLog  []voteKey // insertion order
	counters map[counterKey]int64
	changes  []model.ChangeRecord
	cursors  map[string]int64
	events   map[string]model.ConsensusEvent // by room id
}

// New creates an empty store.
func New() *Store {
	return &Store{
		rooms:    make(map[string]model.Room),
		votes:    make(map[voteKey]model.Vote),
		counters: make(map[counterKey]int64),
		cursors:  make(map[string]int64),
		events:   make(map[string]model.ConsensusEvent),
	}
}

// Close is a no-op; it lets Store satisfy the same lifecycle as the SQL stores.
func (s *Store) Close() error {
	return nil
}

// CreateRoom inserts a new room. Returns model.ErrRoomExists if the id is taken.
func (s *Store) CreateRoom(_ context.Context, r model.Room) error {
	if err := model.ValidateNewRoom(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[r.ID]; ok {
		return model.ErrRoomExists
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.rooms[r.ID] = r
	return nil
}

// GetRoom returns a copy of the room.
func (s *Store) GetRoom(_ context.Context, roomID string) (model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return model.Room{}, model.ErrRoomNotFound
	}
	return copyRoom(r), nil
}

// UpdateRoomStatus moves a room from one status to another along an
// external edge. applied=false means the room was not in status from.
func (s *Store) UpdateRoomStatus(_ context.Context, roomID string, from, to model.RoomStatus) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, model.ErrInvalidTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return false, model.ErrRoomNotFound
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	s.rooms[roomID] = r
	return true, nil
}

// PutVoteIfAbsent stores v unless its key is taken. First write wins.
func (s *Store) PutVoteIfAbsent(_ context.Context, v model.Vote) (bool, error) {
	k := voteKey{v.RoomID, v.ItemID, v.UserID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.votes[k]; ok {
		return false, nil
	}
	s.votes[k] = v
	s.voteLog = append(s.voteLog, k)
	return true, nil
}

// IncrementPositiveCounter adds one under the lock and returns the new value.
func (s *Store) IncrementPositiveCounter(_ context.Context, roomID, itemID string) (int64, error) {
	k := counterKey{roomID, itemID}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[k]++
	return s.counters[k], nil
}

// TransitionRoomToMatched flips an open, unmatched room to MATCHED.
func (s *Store) TransitionRoomToMatched(_ context.Context, roomID, itemID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return false, nil
	}
	if r.Status != model.RoomStatusActive && r.Status != model.RoomStatusWaiting {
		return false, nil
	}
	if r.MatchedItemID != "" {
		return false, nil
	}

	matchedAt := at.UTC()
	r.Status = model.RoomStatusMatched
	r.MatchedItemID = itemID
	r.MatchedAt = &matchedAt
	s.rooms[roomID] = r
	return true, nil
}

// GetCounter returns the item's counter; an item with no positive votes
// reports zero.
func (s *Store) GetCounter(_ context.Context, roomID, itemID string) (model.ItemVoteCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return model.ItemVoteCounter{
		RoomID:        roomID,
		ItemID:        itemID,
		PositiveCount: s.counters[counterKey{roomID, itemID}],
	}, nil
}

// ListVotes returns the room's votes in insertion order.
func (s *Store) ListVotes(_ context.Context, roomID string) ([]model.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Vote
	for _, k := range s.voteLog {
		if k.roomID == roomID {
			out = append(out, s.votes[k])
		}
	}
	return out, nil
}

// AppendChange adds a record to the feed and returns its seq.
func (s *Store) AppendChange(_ context.Context, rec model.ChangeRecord) (int64, error) {
	if !rec.EventName.Valid() {
		return 0, &model.ValidationError{Field: "eventName", Reason: "unknown value " + string(rec.EventName)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Seq = int64(len(s.changes)) + 1
	rec.Image = append([]byte(nil), rec.Image...)
	s.changes = append(s.changes, rec)
	return rec.Seq, nil
}

// ListChanges returns up to limit records with Seq > afterSeq, in order.
func (s *Store) ListChanges(_ context.Context, afterSeq int64, limit int) ([]model.ChangeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if afterSeq < 0 {
		afterSeq = 0
	}
	var out []model.ChangeRecord
	// seq n lives at index n-1
	for i := afterSeq; i < int64(len(s.changes)); i++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		rec := s.changes[i]
		rec.Image = append([]byte(nil), rec.Image...)
		out = append(out, rec)
	}
	return out, nil
}

// LoadCursor returns the consumer's committed seq, zero if none.
func (s *Store) LoadCursor(_ context.Context, consumer string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cursors[consumer], nil
}

// SaveCursor commits seq for the consumer. The cursor never moves backward.
func (s *Store) SaveCursor(_ context.Context, consumer string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq > s.cursors[consumer] {
		s.cursors[consumer] = seq
	}
	return nil
}

// RecordConsensusEvent stores ev unless the room already has an event, in
// which case the existing one is returned with inserted=false.
func (s *Store) RecordConsensusEvent(_ context.Context, ev model.ConsensusEvent) (model.ConsensusEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.events[ev.RoomID]; ok {
		return copyEvent(existing), false, nil
	}
	ev = copyEvent(ev)
	s.events[ev.RoomID] = ev
	return copyEvent(ev), true, nil
}

// GetConsensusEvent returns the room's event or model.ErrEventNotFound.
func (s *Store) GetConsensusEvent(_ context.Context, roomID string) (model.ConsensusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[roomID]
	if !ok {
		return model.ConsensusEvent{}, model.ErrEventNotFound
	}
	return copyEvent(ev), nil
}

// MarkConsensusPublished stamps the event. Marking twice keeps the first time.
func (s *Store) MarkConsensusPublished(_ context.Context, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for roomID, ev := range s.events {
		if ev.EventID != eventID {
			continue
		}
		if ev.PublishedAt == nil {
			ts := at.UTC()
			ev.PublishedAt = &ts
			s.events[roomID] = ev
		}
		return nil
	}
	return model.ErrEventNotFound
}

// ListUnpublishedConsensus returns unexpired, unpublished events oldest first.
func (s *Store) ListUnpublishedConsensus(_ context.Context, now time.Time, limit int) ([]model.ConsensusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.ConsensusEvent
	for _, ev := range s.events {
		if ev.PublishedAt == nil && ev.ExpiresAt.After(now) {
			out = append(out, copyEvent(ev))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EmittedAt.Equal(out[j].EmittedAt) {
			return out[i].EmittedAt.Before(out[j].EmittedAt)
		}
		return out[i].EventID < out[j].EventID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListUnrecordedMatches returns rooms matched in (after, before] that have no
// consensus event, oldest match first.
func (s *Store) ListUnrecordedMatches(_ context.Context, after, before time.Time, limit int) ([]model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Room
	for id, r := range s.rooms {
		if r.MatchedItemID == "" || r.MatchedAt == nil {
			continue
		}
		if !r.MatchedAt.After(after) || r.MatchedAt.After(before) {
			continue
		}
		if _, ok := s.events[id]; ok {
			continue
		}
		out = append(out, copyRoom(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MatchedAt.Equal(*out[j].MatchedAt) {
			return out[i].MatchedAt.Before(*out[j].MatchedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PurgeExpiredConsensus deletes events whose ExpiresAt is not after now.
func (s *Store) PurgeExpiredConsensus(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for roomID, ev := range s.events {
		if !ev.ExpiresAt.After(now) {
			delete(s.events, roomID)
			n++
		}
	}
	return n, nil
}

func copyRoom(r model.Room) model.Room {
	if r.MatchedAt != nil {
		ts := *r.MatchedAt
		r.MatchedAt = &ts
	}
	return r
}

func copyEvent(ev model.ConsensusEvent) model.ConsensusEvent {
	if ev.PublishedAt != nil {
		ts := *ev.PublishedAt
		ev.PublishedAt = &ts
	}
	return ev
}
