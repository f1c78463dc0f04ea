package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/swipematch/internal/model"
)

// Backend is the full surface every swipematch store implements.
type Backend interface {
	CreateRoom(ctx context.Context, r model.Room) error
	GetRoom(ctx context.Context, roomID string) (model.Room, error)
	UpdateRoomStatus(ctx context.Context, roomID string, from, to model.RoomStatus) (bool, error)

	PutVoteIfAbsent(ctx context.Context, v model.Vote) (bool, error)
	IncrementPositiveCounter(ctx context.Context, roomID, itemID string) (int64, error)
	TransitionRoomToMatched(ctx context.Context, roomID, itemID string, at time.Time) (bool, error)
	GetCounter(ctx context.Context, roomID, itemID string) (model.ItemVoteCounter, error)
	ListVotes(ctx context.Context, roomID string) ([]model.Vote, error)

	AppendChange(ctx context.Context, rec model.ChangeRecord) (int64, error)
	ListChanges(ctx context.Context, afterSeq int64, limit int) ([]model.ChangeRecord, error)
	LoadCursor(ctx context.Context, consumer string) (int64, error)
	SaveCursor(ctx context.Context, consumer string, seq int64) error

	RecordConsensusEvent(ctx context.Context, ev model.ConsensusEvent) (model.ConsensusEvent, bool, error)
	GetConsensusEvent(ctx context.Context, roomID string) (model.ConsensusEvent, error)
	MarkConsensusPublished(ctx context.Context, eventID string, at time.Time) error
	ListUnpublishedConsensus(ctx context.Context, now time.Time, limit int) ([]model.ConsensusEvent, error)
	PurgeExpiredConsensus(ctx context.Context, now time.Time) (int64, error)
	ListUnrecordedMatches(ctx context.Context, after, before time.Time, limit int) ([]model.Room, error)
}

// RunStoreSuite runs the behaviour every Backend must share. open is called
// once per subtest and must return an empty store.
func RunStoreSuite(t *testing.T, open func(t *testing.T) Backend) {
	t.Helper()

	t.Run("rooms", func(t *testing.T) { testRooms(t, open(t)) })
	t.Run("room status", func(t *testing.T) { testRoomStatus(t, open(t)) })
	t.Run("votes first write wins", func(t *testing.T) { testVotes(t, open(t)) })
	t.Run("counter", func(t *testing.T) { testCounter(t, open(t)) })
	t.Run("concurrent increments", func(t *testing.T) { testConcurrentIncrements(t, open(t)) })
	t.Run("concurrent vote inserts", func(t *testing.T) { testConcurrentVotes(t, open(t)) })
	t.Run("transition", func(t *testing.T) { testTransition(t, open(t)) })
	t.Run("concurrent transitions", func(t *testing.T) { testConcurrentTransitions(t, open(t)) })
	t.Run("feed", func(t *testing.T) { testFeed(t, open(t)) })
	t.Run("concurrent appends", func(t *testing.T) { testConcurrentAppends(t, open(t)) })
	t.Run("cursors", func(t *testing.T) { testCursors(t, open(t)) })
	t.Run("consensus log", func(t *testing.T) { testConsensusLog(t, open(t)) })
	t.Run("consensus retention", func(t *testing.T) { testConsensusRetention(t, open(t)) })
	t.Run("unrecorded matches", func(t *testing.T) { testUnrecordedMatches(t, open(t)) })
}

func mustCreateRoom(t *testing.T, s Backend, id string, members int64, status model.RoomStatus) {
	t.Helper()
	require.NoError(t, s.CreateRoom(context.Background(), model.Room{
		ID:          id,
		MemberCount: members,
		Status:      status,
		CreatedAt:   Epoch,
	}))
}

func testRooms(t *testing.T, s Backend) {
	ctx := context.Background()
	mustCreateRoom(t, s, "R1", 3, model.RoomStatusActive)

	room, err := s.GetRoom(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "R1", room.ID)
	assert.Equal(t, int64(3), room.MemberCount)
	assert.Equal(t, model.RoomStatusActive, room.Status)
	assert.Empty(t, room.MatchedItemID)
	assert.Nil(t, room.MatchedAt)
	assert.True(t, Epoch.Equal(room.CreatedAt))

	err = s.CreateRoom(ctx, model.Room{ID: "R1", MemberCount: 2, Status: model.RoomStatusWaiting})
	assert.ErrorIs(t, err, model.ErrRoomExists)

	err = s.CreateRoom(ctx, model.Room{ID: "R2", MemberCount: 0, Status: model.RoomStatusActive})
	assert.True(t, model.IsValidationError(err), "zero members should be rejected: %v", err)

	_, err = s.GetRoom(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrRoomNotFound)
}

func testRoomStatus(t *testing.T, s Backend) {
	ctx := context.Background()
	mustCreateRoom(t, s, "R1", 2, model.RoomStatusWaiting)

	applied, err := s.UpdateRoomStatus(ctx, "R1", model.RoomStatusWaiting, model.RoomStatusActive)
	require.NoError(t, err)
	assert.True(t, applied)

	// Stale from status.
	applied, err = s.UpdateRoomStatus(ctx, "R1", model.RoomStatusWaiting, model.RoomStatusActive)
	require.NoError(t, err)
	assert.False(t, applied)

	_, err = s.UpdateRoomStatus(ctx, "R1", model.RoomStatusActive, model.RoomStatusMatched)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = s.UpdateRoomStatus(ctx, "missing", model.RoomStatusActive, model.RoomStatusPaused)
	assert.ErrorIs(t, err, model.ErrRoomNotFound)

	applied, err = s.TransitionRoomToMatched(ctx, "R1", "M1", Epoch)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = s.UpdateRoomStatus(ctx, "R1", model.RoomStatusMatched, model.RoomStatusCompleted)
	require.NoError(t, err)
	assert.True(t, applied)

	room, err := s.GetRoom(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, model.RoomStatusCompleted, room.Status)
	assert.Equal(t, "M1", room.MatchedItemID, "COMPLETED keeps the matched item")
	assert.True(t, room.Consistent())
}

func testVotes(t *testing.T, s Backend) {
	ctx := context.Background()
	first := model.Vote{RoomID: "R1", ItemID: "M1", UserID: "u1", Type: model.VoteTypeNegative, CreatedAt: Epoch}

	inserted, err := s.PutVoteIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	second := first
	second.Type = model.VoteTypePositive
	second.CreatedAt = Epoch.Add(time.Minute)
	inserted, err = s.PutVoteIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted, "a resubmission must not overwrite the first vote")

	other := model.Vote{RoomID: "R1", ItemID: "M1", UserID: "u2", Type: model.VoteTypeSkip, CreatedAt: Epoch.Add(time.Second)}
	inserted, err = s.PutVoteIfAbsent(ctx, other)
	require.NoError(t, err)
	assert.True(t, inserted)

	votes, err := s.ListVotes(ctx, "R1")
	require.NoError(t, err)
	require.Len(t, votes, 2)
	assert.Equal(t, "u1", votes[0].UserID)
	assert.Equal(t, model.VoteTypeNegative, votes[0].Type)
	assert.True(t, Epoch.Equal(votes[0].CreatedAt))
	assert.Equal(t, "u2", votes[1].UserID)

	votes, err = s.ListVotes(ctx, "R2")
	require.NoError(t, err)
	assert.Empty(t, votes)
}

func testCounter(t *testing.T, s Backend) {
	ctx := context.Background()

	c, err := s.GetCounter(ctx, "R1", "M1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.PositiveCount)

	for want := int64(1); want <= 3; want++ {
		got, err := s.IncrementPositiveCounter(ctx, "R1", "M1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	c, err = s.GetCounter(ctx, "R1", "M1")
	require.NoError(t, err)
	assert.Equal(t, model.ItemVoteCounter{RoomID: "R1", ItemID: "M1", PositiveCount: 3}, c)

	other, err := s.GetCounter(ctx, "R1", "M2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), other.PositiveCount, "counters are per item")
}

func testConcurrentIncrements(t *testing.T, s Backend) {
	ctx := context.Background()
	const n = 25

	results := make([]int64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.IncrementPositiveCounter(ctx, "R1", "M1")
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[results[i]], "value %d returned twice", results[i])
		seen[results[i]] = true
	}
	for v := int64(1); v <= n; v++ {
		assert.True(t, seen[v], "value %d never returned", v)
	}

	c, err := s.GetCounter(ctx, "R1", "M1")
	require.NoError(t, err)
	assert.Equal(t, int64(n), c.PositiveCount)
}

func testConcurrentVotes(t *testing.T, s Backend) {
	ctx := context.Background()
	const n = 20

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.PutVoteIfAbsent(ctx, model.Vote{
				RoomID: "R1", ItemID: "M1", UserID: "u1",
				Type:      model.VoteTypePositive,
				CreatedAt: Epoch.Add(time.Duration(i) * time.Millisecond),
			})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, inserted)
}

func testTransition(t *testing.T, s Backend) {
	ctx := context.Background()
	mustCreateRoom(t, s, "R1", 2, model.RoomStatusActive)
	mustCreateRoom(t, s, "R2", 2, model.RoomStatusWaiting)
	mustCreateRoom(t, s, "R3", 2, model.RoomStatusActive)

	at := Epoch.Add(time.Hour)
	applied, err := s.TransitionRoomToMatched(ctx, "R1", "M1", at)
	require.NoError(t, err)
	assert.True(t, applied)

	room, err := s.GetRoom(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, model.RoomStatusMatched, room.Status)
	assert.Equal(t, "M1", room.MatchedItemID)
	require.NotNil(t, room.MatchedAt)
	assert.True(t, at.Equal(*room.MatchedAt))
	assert.True(t, room.Consistent())

	applied, err = s.TransitionRoomToMatched(ctx, "R1", "M2", at)
	require.NoError(t, err)
	assert.False(t, applied, "a matched room is frozen")
	room, err = s.GetRoom(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "M1", room.MatchedItemID)

	applied, err = s.TransitionRoomToMatched(ctx, "R2", "M1", at)
	require.NoError(t, err)
	assert.True(t, applied, "WAITING rooms may match")

	_, err = s.UpdateRoomStatus(ctx, "R3", model.RoomStatusActive, model.RoomStatusPaused)
	require.NoError(t, err)
	applied, err = s.TransitionRoomToMatched(ctx, "R3", "M1", at)
	require.NoError(t, err)
	assert.False(t, applied, "PAUSED rooms never match")

	applied, err = s.TransitionRoomToMatched(ctx, "missing", "M1", at)
	require.NoError(t, err)
	assert.False(t, applied)
}

func testConcurrentTransitions(t *testing.T, s Backend) {
	ctx := context.Background()
	mustCreateRoom(t, s, "R1", 3, model.RoomStatusActive)

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item := fmt.Sprintf("M%d", i)
			ok, err := s.TransitionRoomToMatched(ctx, "R1", item, Epoch)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners = append(winners, item)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	room, err := s.GetRoom(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, winners[0], room.MatchedItemID)
}

func testFeed(t *testing.T, s Backend) {
	ctx := context.Background()

	names := []model.ChangeEventName{model.ChangeInsert, model.ChangeModify, model.ChangeInsert, model.ChangeRemove}
	var last int64
	for i, name := range names {
		seq, err := s.AppendChange(ctx, model.ChangeRecord{
			EventName: name,
			Image:     []byte(fmt.Sprintf(`{"n":%d}`, i)),
		})
		require.NoError(t, err)
		assert.Greater(t, seq, last)
		last = seq
	}

	all, err := s.ListChanges(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, rec := range all {
		assert.Equal(t, names[i], rec.EventName)
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(rec.Image))
	}

	page, err := s.ListChanges(ctx, all[1].Seq, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, all[2].Seq, page[0].Seq)

	rest, err := s.ListChanges(ctx, all[3].Seq, 10)
	require.NoError(t, err)
	assert.Empty(t, rest)

	_, err = s.AppendChange(ctx, model.ChangeRecord{EventName: "UPSERT", Image: []byte(`{}`)})
	assert.True(t, model.IsValidationError(err))
}

// testConcurrentAppends tails the feed the way the poller does while writers
// append in parallel. A record that becomes visible behind the reader's
// cursor would never be read.
func testConcurrentAppends(t *testing.T, s Backend) {
	ctx := context.Background()
	const writers, perWriter = 8, 25
	const total = writers * perWriter

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.AppendChange(ctx, model.ChangeRecord{
					EventName: model.ChangeInsert,
					Image:     []byte(fmt.Sprintf(`{"w":%d,"i":%d}`, w, i)),
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	seen := make(map[int64]bool)
	var cursor int64
	tail := func() {
		recs, err := s.ListChanges(ctx, cursor, 7)
		require.NoError(t, err)
		for _, rec := range recs {
			seen[rec.Seq] = true
			cursor = rec.Seq
		}
	}
	for {
		select {
		case <-done:
			for i := 0; i < total; i++ {
				tail()
			}
			assert.Len(t, seen, total, "every appended record is read once the cursor passes it")
			return
		default:
			tail()
		}
	}
}

func testCursors(t *testing.T, s Backend) {
	ctx := context.Background()

	seq, err := s.LoadCursor(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	require.NoError(t, s.SaveCursor(ctx, "c1", 5))
	require.NoError(t, s.SaveCursor(ctx, "c1", 3))

	seq, err = s.LoadCursor(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), seq, "cursor never moves backward")

	seq, err = s.LoadCursor(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq, "cursors are per consumer")
}

func consensusEvent(id, room string, emitted time.Time) model.ConsensusEvent {
	return model.ConsensusEvent{
		EventID:   id,
		RoomID:    room,
		ItemID:    "M1",
		MatchedAt: emitted,
		EmittedAt: emitted,
		ExpiresAt: emitted.Add(24 * time.Hour),
	}
}

func testConsensusLog(t *testing.T, s Backend) {
	ctx := context.Background()

	ev := consensusEvent("evt-1", "R1", Epoch)
	stored, inserted, err := s.RecordConsensusEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "evt-1", stored.EventID)

	dup := consensusEvent("evt-2", "R1", Epoch.Add(time.Minute))
	stored, inserted, err = s.RecordConsensusEvent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted, "one consensus event per room")
	assert.Equal(t, "evt-1", stored.EventID)
	assert.True(t, Epoch.Equal(stored.EmittedAt))
	assert.Nil(t, stored.PublishedAt)

	_, _, err = s.RecordConsensusEvent(ctx, consensusEvent("evt-3", "R2", Epoch.Add(time.Second)))
	require.NoError(t, err)

	pending, err := s.ListUnpublishedConsensus(ctx, Epoch, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "evt-1", pending[0].EventID, "oldest first")
	assert.Equal(t, "evt-3", pending[1].EventID)

	limited, err := s.ListUnpublishedConsensus(ctx, Epoch, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	pubAt := Epoch.Add(2 * time.Second)
	require.NoError(t, s.MarkConsensusPublished(ctx, "evt-1", pubAt))
	require.NoError(t, s.MarkConsensusPublished(ctx, "evt-1", pubAt.Add(time.Hour)))

	got, err := s.GetConsensusEvent(ctx, "R1")
	require.NoError(t, err)
	require.NotNil(t, got.PublishedAt)
	assert.True(t, pubAt.Equal(*got.PublishedAt), "first publish time is kept")

	pending, err = s.ListUnpublishedConsensus(ctx, Epoch, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "evt-3", pending[0].EventID)

	err = s.MarkConsensusPublished(ctx, "nope", pubAt)
	assert.ErrorIs(t, err, model.ErrEventNotFound)

	_, err = s.GetConsensusEvent(ctx, "R9")
	assert.ErrorIs(t, err, model.ErrEventNotFound)
}

func testConsensusRetention(t *testing.T, s Backend) {
	ctx := context.Background()

	_, _, err := s.RecordConsensusEvent(ctx, consensusEvent("evt-1", "R1", Epoch))
	require.NoError(t, err)
	_, _, err = s.RecordConsensusEvent(ctx, consensusEvent("evt-2", "R2", Epoch.Add(12*time.Hour)))
	require.NoError(t, err)

	later := Epoch.Add(25 * time.Hour)
	pending, err := s.ListUnpublishedConsensus(ctx, later, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "expired events are not redelivered")
	assert.Equal(t, "evt-2", pending[0].EventID)

	n, err := s.PurgeExpiredConsensus(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetConsensusEvent(ctx, "R1")
	assert.ErrorIs(t, err, model.ErrEventNotFound)

	// A purged room may record a fresh event.
	_, inserted, err := s.RecordConsensusEvent(ctx, consensusEvent("evt-4", "R1", later))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func testUnrecordedMatches(t *testing.T, s Backend) {
	ctx := context.Background()
	mustCreateRoom(t, s, "R1", 2, model.RoomStatusActive)
	mustCreateRoom(t, s, "R2", 2, model.RoomStatusActive)
	mustCreateRoom(t, s, "R3", 2, model.RoomStatusActive)
	mustCreateRoom(t, s, "R4", 2, model.RoomStatusActive)
	mustCreateRoom(t, s, "R5", 2, model.RoomStatusActive)

	match := func(room string, at time.Time) {
		t.Helper()
		ok, err := s.TransitionRoomToMatched(ctx, room, "M1", at)
		require.NoError(t, err)
		require.True(t, ok)
	}
	match("R1", Epoch.Add(2*time.Hour))
	match("R2", Epoch.Add(1*time.Hour))
	match("R3", Epoch.Add(3*time.Hour))
	match("R4", Epoch.Add(-time.Hour))
	_, _, err := s.RecordConsensusEvent(ctx, consensusEvent("evt-3", "R3", Epoch.Add(3*time.Hour)))
	require.NoError(t, err)

	// R5 stays ACTIVE, R3 has its event, R4 matched before the window.
	rooms, err := s.ListUnrecordedMatches(ctx, Epoch, Epoch.Add(4*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "R2", rooms[0].ID, "oldest match first")
	assert.Equal(t, "R1", rooms[1].ID)
	assert.Equal(t, "M1", rooms[0].MatchedItemID)
	require.NotNil(t, rooms[0].MatchedAt)
	assert.True(t, Epoch.Add(time.Hour).Equal(*rooms[0].MatchedAt))

	rooms, err = s.ListUnrecordedMatches(ctx, Epoch, Epoch.Add(90*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, rooms, 1, "matches newer than the upper bound wait")
	assert.Equal(t, "R2", rooms[0].ID)

	rooms, err = s.ListUnrecordedMatches(ctx, Epoch, Epoch.Add(4*time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, rooms, 1)
}
