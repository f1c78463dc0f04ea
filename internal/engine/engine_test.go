package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/swipematch/internal/model"
	"github.com/roach88/swipematch/internal/store"
	"github.com/roach88/swipematch/internal/store/memstore"
	"github.com/roach88/swipematch/internal/testutil"
)

var errTransient = errors.New("storage unavailable")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// published is one Notifier call.
type published struct {
	RoomID    string
	ItemID    string
	MatchedAt time.Time
}

// recordingNotifier records every publish; err is returned from each call.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []published
	err   error
}

func (n *recordingNotifier) Publish(_ context.Context, roomID, itemID string, matchedAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, published{roomID, itemID, matchedAt})
	return n.err
}

func (n *recordingNotifier) Calls() []published {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]published(nil), n.calls...)
}

// faultStore wraps a memstore with per-operation fault injection.
type faultStore struct {
	*memstore.Store

	mu             sync.Mutex
	putErr         error
	incrementErr   error
	getRoomErr     error
	transitionErr  error
	roomOverride   func(model.Room) model.Room
	listChangesErr error
}

func newFaultStore() *faultStore {
	return &faultStore{Store: memstore.New()}
}

func (f *faultStore) set(fn func(f *faultStore)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *faultStore) PutVoteIfAbsent(ctx context.Context, v model.Vote) (bool, error) {
	f.mu.Lock()
	err := f.putErr
	f.mu.Unlock()
	if err != nil {
		return false, err
	}
	return f.Store.PutVoteIfAbsent(ctx, v)
}

func (f *faultStore) IncrementPositiveCounter(ctx context.Context, roomID, itemID string) (int64, error) {
	f.mu.Lock()
	err := f.incrementErr
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return f.Store.IncrementPositiveCounter(ctx, roomID, itemID)
}

func (f *faultStore) GetRoom(ctx context.Context, roomID string) (model.Room, error) {
	f.mu.Lock()
	err, override := f.getRoomErr, f.roomOverride
	f.mu.Unlock()
	if err != nil {
		return model.Room{}, err
	}
	r, err := f.Store.GetRoom(ctx, roomID)
	if err != nil || override == nil {
		return r, err
	}
	return override(r), nil
}

func (f *faultStore) TransitionRoomToMatched(ctx context.Context, roomID, itemID string, at time.Time) (bool, error) {
	f.mu.Lock()
	err := f.transitionErr
	f.mu.Unlock()
	if err != nil {
		return false, err
	}
	return f.Store.TransitionRoomToMatched(ctx, roomID, itemID, at)
}

func (f *faultStore) ListChanges(ctx context.Context, afterSeq int64, limit int) ([]model.ChangeRecord, error) {
	f.mu.Lock()
	err := f.listChangesErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.ListChanges(ctx, afterSeq, limit)
}

// roomStore is what the pipeline tests need from a backend.
type roomStore interface {
	VoteStore
	CreateRoom(ctx context.Context, r model.Room) error
	GetCounter(ctx context.Context, roomID, itemID string) (model.ItemVoteCounter, error)
	ListVotes(ctx context.Context, roomID string) ([]model.Vote, error)
}

func createRoom(t *testing.T, s roomStore, id string, members int64, status model.RoomStatus) {
	t.Helper()
	require.NoError(t, s.CreateRoom(context.Background(), model.Room{
		ID: id, MemberCount: members, Status: status, CreatedAt: testutil.Epoch,
	}))
}

// pipeline bundles a processor with its collaborators.
type pipeline struct {
	store     VoteStore
	notifier  *recordingNotifier
	clock     *testutil.DeterministicClock
	processor *Processor
}

func newPipeline(s VoteStore, opts ...ProcessorOption) *pipeline {
	clock := testutil.NewDeterministicClock()
	notifier := &recordingNotifier{}
	tr := NewTransition(s, notifier,
		WithTransitionClock(clock),
		WithTransitionLogger(quietLogger()),
	)
	base := []ProcessorOption{WithProcessorClock(clock), WithProcessorLogger(quietLogger())}
	return &pipeline{
		store:     s,
		notifier:  notifier,
		clock:     clock,
		processor: NewProcessor(s, tr, append(base, opts...)...),
	}
}

func vote(room, item, user string, vt model.VoteType) model.Vote {
	return model.Vote{RoomID: room, ItemID: item, UserID: user, Type: vt}
}
