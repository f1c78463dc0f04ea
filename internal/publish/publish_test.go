package publish

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/swipematch/internal/model"
	"github.com/roach88/swipematch/internal/store/memstore"
	"github.com/roach88/swipematch/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store     *memstore.Store
	sink      *MemorySink
	clock     *testutil.DeterministicClock
	publisher *Publisher
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		store: memstore.New(),
		sink:  &MemorySink{},
		clock: testutil.NewDeterministicClock(),
	}
	base := []Option{
		WithIDGenerator(testutil.NewSequenceGenerator("evt")),
		WithClock(f.clock),
		WithRetry(3, 0),
		WithLogger(quietLogger()),
	}
	f.publisher = NewPublisher(f.store, f.sink, append(base, opts...)...)
	return f
}

func TestPayload_Golden(t *testing.T) {
	payload, err := Payload(model.ConsensusEvent{
		EventID:   "evt-000001",
		RoomID:    "R1",
		ItemID:    "M1",
		MatchedAt: testutil.Epoch,
	})
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "consensus_payload", payload)
}

func TestPublish_RecordsSendsAndMarks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(WithRetention(time.Hour))

	require.NoError(t, f.publisher.Publish(ctx, "R1", "M1", testutil.Epoch))

	msgs := f.sink.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "evt-000001", msgs[0].EventID)
	assert.Equal(t, "R1", msgs[0].RoomID)
	assert.JSONEq(t, `{"eventId":"evt-000001","itemId":"M1","matchedAt":"2024-01-01T00:00:00Z","roomId":"R1","type":"consensus.reached"}`,
		string(msgs[0].Payload))

	ev, err := f.store.GetConsensusEvent(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, testutil.Epoch, ev.EmittedAt)
	assert.Equal(t, testutil.Epoch.Add(time.Hour), ev.ExpiresAt)
	assert.Equal(t, msgs[0].ExpiresAt, ev.ExpiresAt)
	require.NotNil(t, ev.PublishedAt)
	assert.Equal(t, testutil.Epoch.Add(time.Second), *ev.PublishedAt)
}

func TestPublish_RetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.sink.FailNext(2)

	require.NoError(t, f.publisher.Publish(ctx, "R1", "M1", testutil.Epoch))
	assert.Len(t, f.sink.Messages(), 1)
}

func TestPublish_ExhaustedRetriesLeavesEventPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.sink.FailNext(3)

	err := f.publisher.Publish(ctx, "R1", "M1", testutil.Epoch)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSinkUnavailable)
	assert.Contains(t, err.Error(), "after 3 attempts")

	pending, err := f.store.ListUnpublishedConsensus(ctx, testutil.Epoch, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "evt-000001", pending[0].EventID)
}

func TestPublish_ReusesRecordedEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.sink.FailNext(3)
	require.Error(t, f.publisher.Publish(ctx, "R1", "M1", testutil.Epoch))

	require.NoError(t, f.publisher.Publish(ctx, "R1", "M1", testutil.Epoch))
	msgs := f.sink.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "evt-000001", msgs[0].EventID, "the first recorded id is kept")

	// Already published: nothing more is sent.
	require.NoError(t, f.publisher.Publish(ctx, "R1", "M1", testutil.Epoch))
	assert.Len(t, f.sink.Messages(), 1)
}

func TestPublish_BackoffHonoursContext(t *testing.T) {
	f := newFixture(WithRetry(5, time.Hour))
	f.sink.FailNext(5)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := f.publisher.Publish(ctx, "R1", "M1", testutil.Epoch)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type failingLog struct {
	*memstore.Store
	recordErr error
	markErr   error
}

func (l failingLog) RecordConsensusEvent(ctx context.Context, ev model.ConsensusEvent) (model.ConsensusEvent, bool, error) {
	if l.recordErr != nil {
		return model.ConsensusEvent{}, false, l.recordErr
	}
	return l.Store.RecordConsensusEvent(ctx, ev)
}

func (l failingLog) MarkConsensusPublished(ctx context.Context, eventID string, at time.Time) error {
	if l.markErr != nil {
		return l.markErr
	}
	return l.Store.MarkConsensusPublished(ctx, eventID, at)
}

func TestPublish_LogErrors(t *testing.T) {
	boom := errors.New("boom")

	sink := &MemorySink{}
	p := NewPublisher(failingLog{Store: memstore.New(), recordErr: boom}, sink, WithRetry(3, 0), WithLogger(quietLogger()))
	err := p.Publish(context.Background(), "R1", "M1", testutil.Epoch)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "record consensus event for room R1 after 3 attempts")
	assert.Empty(t, sink.Messages(), "nothing is sent without an audit record")

	p = NewPublisher(failingLog{Store: memstore.New(), markErr: boom}, sink, WithRetry(3, 0), WithLogger(quietLogger()))
	err = p.Publish(context.Background(), "R1", "M1", testutil.Epoch)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, sink.Messages(), 1)
}

// flakyLog fails the first recordFails record calls and markFails mark calls.
type flakyLog struct {
	*memstore.Store
	mu          sync.Mutex
	recordFails int
	markFails   int
	records     int
}

var errLogUnavailable = errors.New("consensus log unavailable")

func (l *flakyLog) RecordConsensusEvent(ctx context.Context, ev model.ConsensusEvent) (model.ConsensusEvent, bool, error) {
	l.mu.Lock()
	l.records++
	fail := l.recordFails > 0
	if fail {
		l.recordFails--
	}
	l.mu.Unlock()
	if fail {
		return model.ConsensusEvent{}, false, errLogUnavailable
	}
	return l.Store.RecordConsensusEvent(ctx, ev)
}

func (l *flakyLog) MarkConsensusPublished(ctx context.Context, eventID string, at time.Time) error {
	l.mu.Lock()
	fail := l.markFails > 0
	if fail {
		l.markFails--
	}
	l.mu.Unlock()
	if fail {
		return errLogUnavailable
	}
	return l.Store.MarkConsensusPublished(ctx, eventID, at)
}

func newFlakyPublisher(log *flakyLog, sink Sink, clock *testutil.DeterministicClock) *Publisher {
	return NewPublisher(log, sink,
		WithIDGenerator(testutil.NewSequenceGenerator("evt")),
		WithClock(clock),
		WithRetry(3, 0),
		WithRetention(time.Hour),
		WithLogger(quietLogger()),
	)
}

// matchRoom stores an ACTIVE room and flips it to MATCHED at the given time
// without going through the publisher.
func matchRoom(t *testing.T, s *memstore.Store, roomID, itemID string, at time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, model.Room{
		ID:          roomID,
		MemberCount: 2,
		Status:      model.RoomStatusActive,
		CreatedAt:   testutil.Epoch,
	}))
	applied, err := s.TransitionRoomToMatched(ctx, roomID, itemID, at)
	require.NoError(t, err)
	require.True(t, applied)
}

func TestPublish_RetriesRecordStep(t *testing.T) {
	ctx := context.Background()
	log := &flakyLog{Store: memstore.New(), recordFails: 2, markFails: 2}
	sink := &MemorySink{}
	p := newFlakyPublisher(log, sink, testutil.NewDeterministicClock())

	require.NoError(t, p.Publish(ctx, "R1", "M1", testutil.Epoch))
	assert.Equal(t, 3, log.records)
	assert.Len(t, sink.Messages(), 1)

	ev, err := log.GetConsensusEvent(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "evt-000001", ev.EventID)
	assert.NotNil(t, ev.PublishedAt)
}

func TestRelay_PublishesMatchWithoutEvent(t *testing.T) {
	ctx := context.Background()
	log := &flakyLog{Store: memstore.New(), recordFails: 3}
	sink := &MemorySink{}
	clock := testutil.NewDeterministicClock()
	p := newFlakyPublisher(log, sink, clock)

	// The room went MATCHED but the inline publish never got an event row.
	matchRoom(t, log.Store, "R1", "M1", testutil.Epoch)
	err := p.Publish(ctx, "R1", "M1", testutil.Epoch)
	require.ErrorIs(t, err, errLogUnavailable)
	assert.Contains(t, err.Error(), "after 3 attempts")
	_, err = log.GetConsensusEvent(ctx, "R1")
	require.ErrorIs(t, err, model.ErrEventNotFound)

	clock.Advance(time.Minute)
	relay := Relay{Publisher: p, Grace: DefaultRelayGrace, Logger: quietLogger()}
	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs := sink.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "R1", msgs[0].RoomID)
	assert.Contains(t, string(msgs[0].Payload), `"itemId":"M1"`)
	assert.Contains(t, string(msgs[0].Payload), `"matchedAt":"2024-01-01T00:00:00Z"`)

	ev, err := log.GetConsensusEvent(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, testutil.Epoch, ev.MatchedAt)
	assert.NotNil(t, ev.PublishedAt)

	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, sink.Messages(), 1)
}

func TestRelay_UnrecordedMatchWindow(t *testing.T) {
	ctx := context.Background()
	log := &flakyLog{Store: memstore.New()}
	sink := &MemorySink{}
	clock := testutil.NewDeterministicClock()
	p := newFlakyPublisher(log, sink, clock)

	clock.Advance(2 * time.Hour)
	now := clock.Peek()
	matchRoom(t, log.Store, "expired", "M1", now.Add(-90*time.Minute))
	matchRoom(t, log.Store, "lost", "M2", now.Add(-30*time.Minute))
	matchRoom(t, log.Store, "inflight", "M3", now.Add(-5*time.Second))

	n, err := Relay{Publisher: p, Grace: DefaultRelayGrace}.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msgs := sink.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "lost", msgs[0].RoomID)

	for _, id := range []string{"expired", "inflight"} {
		_, err := log.GetConsensusEvent(ctx, id)
		assert.ErrorIs(t, err, model.ErrEventNotFound, id)
	}
}

func TestRelay_UnrecordedMatchFailureStopsRun(t *testing.T) {
	ctx := context.Background()
	log := &flakyLog{Store: memstore.New(), recordFails: 3}
	sink := &MemorySink{}
	clock := testutil.NewDeterministicClock()
	p := newFlakyPublisher(log, sink, clock)

	matchRoom(t, log.Store, "R1", "M1", testutil.Epoch)
	clock.Advance(time.Minute)

	n, err := Relay{Publisher: p, Grace: DefaultRelayGrace}.RunOnce(ctx)
	assert.ErrorIs(t, err, errLogUnavailable)
	assert.Equal(t, 0, n)
	assert.Empty(t, sink.Messages())

	n, err = Relay{Publisher: p, Grace: DefaultRelayGrace}.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewPublisher_Defaults(t *testing.T) {
	p := NewPublisher(memstore.New(), &MemorySink{}, WithRetry(0, -1), WithRetention(0))
	assert.Equal(t, DefaultAttempts, p.attempts)
	assert.Equal(t, time.Duration(0), p.backoff)
	assert.Equal(t, DefaultRetention, p.retention)
	assert.IsType(t, UUIDv7Generator{}, p.ids)
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
	assert.Equal(t, byte('7'), a[14], "version nibble")
}

func TestRelay_ResendsPendingInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(WithRetry(1, 0))
	f.sink.FailNext(2)
	require.Error(t, f.publisher.Publish(ctx, "R1", "M1", testutil.Epoch))
	require.Error(t, f.publisher.Publish(ctx, "R2", "M9", testutil.Epoch))

	relay := Relay{Publisher: f.publisher, Logger: quietLogger()}
	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	msgs := f.sink.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "R1", msgs[0].RoomID)
	assert.Equal(t, "R2", msgs[1].RoomID)

	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRelay_StopsOnFirstFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(WithRetry(1, 0))
	f.sink.FailNext(2)
	require.Error(t, f.publisher.Publish(ctx, "R1", "M1", testutil.Epoch))
	require.Error(t, f.publisher.Publish(ctx, "R2", "M1", testutil.Epoch))

	f.sink.FailNext(1)
	relay := Relay{Publisher: f.publisher, BatchSize: 10}
	n, err := relay.RunOnce(ctx)
	assert.ErrorIs(t, err, ErrSinkUnavailable)
	assert.Equal(t, 0, n)
	assert.Empty(t, f.sink.Messages())
}

func TestRelay_SkipsExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(WithRetry(1, 0), WithRetention(time.Minute))
	f.sink.FailNext(1)
	require.Error(t, f.publisher.Publish(ctx, "R1", "M1", testutil.Epoch))

	f.clock.Advance(time.Hour)
	n, err := Relay{Publisher: f.publisher}.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// fakeRedis records calls and returns canned results.
type fakeRedis struct {
	mu        sync.Mutex
	published map[string][]string
	keys      map[string]time.Duration
	pubErr    error
}

func (r *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubErr != nil {
		return redis.NewIntResult(0, r.pubErr)
	}
	if r.published == nil {
		r.published = make(map[string][]string)
	}
	r.published[channel] = append(r.published[channel], string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func (r *fakeRedis) Set(_ context.Context, key string, _ interface{}, ttl time.Duration) *redis.StatusCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.keys == nil {
		r.keys = make(map[string]time.Duration)
	}
	r.keys[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func TestRedisSink_PublishesOnRoomChannel(t *testing.T) {
	client := &fakeRedis{}
	sink := NewRedisSink(client, "")
	sink.now = func() time.Time { return testutil.Epoch }

	err := sink.Send(context.Background(), Message{
		EventID:   "evt-1",
		RoomID:    "R1",
		Payload:   []byte(`{"a":1}`),
		ExpiresAt: testutil.Epoch.Add(time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{`{"a":1}`}, client.published["swipematch:room:R1"])
	assert.Equal(t, time.Hour, client.keys["swipematch:room:R1:consensus"])
}

func TestRedisSink_ExpiredSkipsSnapshot(t *testing.T) {
	client := &fakeRedis{}
	sink := NewRedisSink(client, "rooms/")
	sink.now = func() time.Time { return testutil.Epoch }

	err := sink.Send(context.Background(), Message{RoomID: "R1", Payload: []byte(`{}`), ExpiresAt: testutil.Epoch})
	require.NoError(t, err)
	assert.Len(t, client.published["rooms/R1"], 1)
	assert.Empty(t, client.keys)
}

func TestRedisSink_PublishError(t *testing.T) {
	boom := errors.New("connection refused")
	sink := NewRedisSink(&fakeRedis{pubErr: boom}, "")

	err := sink.Send(context.Background(), Message{RoomID: "R1", Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "swipematch:room:R1")
}

func TestLogSink_NeverFails(t *testing.T) {
	assert.NoError(t, LogSink{Logger: quietLogger()}.Send(context.Background(), Message{RoomID: "R1"}))
}
