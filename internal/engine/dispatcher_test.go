package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/swipematch/internal/model"
	"github.com/roach88/swipematch/internal/store/memstore"
)

func insertRecord(t *testing.T, seq int64, room, item, user string, vt model.VoteType) model.ChangeRecord {
	t.Helper()
	rec, err := SubmissionRecord(model.Submission{RoomID: room, ItemID: item, UserID: user, VoteType: vt}, time.Unix(0, seq).UTC())
	require.NoError(t, err)
	rec.Seq = seq
	return rec
}

func rawRecord(seq int64, name model.ChangeEventName, image string) model.ChangeRecord {
	return model.ChangeRecord{Seq: seq, EventName: name, Image: json.RawMessage(image)}
}

func TestDispatcher_ProcessesInsertsOnly(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	createRoom(t, s, "R1", 2, model.RoomStatusActive)
	p := newPipeline(s)
	d := NewDispatcher(p.processor, quietLogger())

	records := []model.ChangeRecord{
		insertRecord(t, 1, "R1", "M1", "u1", model.VoteTypePositive),
		rawRecord(2, model.ChangeModify, `{"roomId":"R1","itemId":"M1","userId":"u2","voteType":"POSITIVE"}`),
		rawRecord(3, model.ChangeRemove, `{}`),
		insertRecord(t, 4, "R1", "M1", "u2", model.VoteTypePositive),
	}

	res, err := d.Dispatch(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{
		Received:  4,
		Filtered:  2,
		Processed: 2,
		Matches:   1,
		LastSeq:   4,
	}, res)

	room, err := s.GetRoom(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, model.RoomStatusMatched, room.Status)
}

func TestDispatcher_SkipsMalformedRecords(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	createRoom(t, s, "R1", 3, model.RoomStatusActive)
	p := newPipeline(s)
	d := NewDispatcher(p.processor, quietLogger())

	records := []model.ChangeRecord{
		rawRecord(1, model.ChangeInsert, `not json`),
		rawRecord(2, model.ChangeInsert, ``),
		rawRecord(3, model.ChangeInsert, `{"roomId":"R1","itemId":"M1","voteType":"POSITIVE"}`),
		rawRecord(4, model.ChangeInsert, `{"roomId":"R1","itemId":"M1","userId":"u1","voteType":"MAYBE"}`),
		rawRecord(5, model.ChangeInsert, `{"roomId":"R1","itemId":"M1","userId":"u1","voteType":"POSITIVE","createdAt":"yesterday"}`),
		insertRecord(t, 6, "R1", "M1", "u1", model.VoteTypePositive),
	}

	res, err := d.Dispatch(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Malformed)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, int64(6), res.LastSeq)

	c, err := s.GetCounter(ctx, "R1", "M1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.PositiveCount)
}

func TestDispatcher_SkipsPermanentFailures(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	createRoom(t, s, "R1", 1, model.RoomStatusActive)
	p := newPipeline(s)
	d := NewDispatcher(p.processor, quietLogger())

	records := []model.ChangeRecord{
		insertRecord(t, 1, "ghost", "M1", "u1", model.VoteTypePositive),
		insertRecord(t, 2, "R1", "M1", "u1", model.VoteTypePositive),
	}

	res, err := d.Dispatch(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Matches)
	assert.Equal(t, int64(2), res.LastSeq)
}

func TestDispatcher_PublishFailureIsSkipped(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	createRoom(t, s, "R1", 1, model.RoomStatusActive)
	p := newPipeline(s)
	p.notifier.err = errTransient
	d := NewDispatcher(p.processor, quietLogger())

	res, err := d.Dispatch(ctx, []model.ChangeRecord{
		insertRecord(t, 1, "R1", "M1", "u1", model.VoteTypePositive),
		insertRecord(t, 2, "R1", "M2", "u1", model.VoteTypePositive),
	})
	require.NoError(t, err, "redelivery could not republish, so the batch continues")
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Matches)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, int64(2), res.LastSeq)
}

func TestDispatcher_TransientFailureStopsBatch(t *testing.T) {
	ctx := context.Background()
	s := newFaultStore()
	createRoom(t, s, "R1", 3, model.RoomStatusActive)
	p := newPipeline(s)
	d := NewDispatcher(p.processor, quietLogger())

	records := []model.ChangeRecord{
		insertRecord(t, 10, "R1", "M1", "u1", model.VoteTypeSkip),
		insertRecord(t, 11, "R1", "M1", "u2", model.VoteTypePositive),
		insertRecord(t, 12, "R1", "M1", "u3", model.VoteTypePositive),
	}
	s.set(func(f *faultStore) { f.incrementErr = errTransient })

	res, err := d.Dispatch(ctx, records)
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, int64(10), res.LastSeq, "checkpoint stops before the failing record")
	assert.Equal(t, 1, res.Processed)

	votes, err := s.ListVotes(ctx, "R1")
	require.NoError(t, err)
	assert.Len(t, votes, 2, "record 12 was never attempted")
}

func TestDispatcher_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newPipeline(memstore.New())
	d := NewDispatcher(p.processor, quietLogger())

	res, err := d.Dispatch(ctx, []model.ChangeRecord{insertRecord(t, 1, "R1", "M1", "u1", model.VoteTypeSkip)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), res.LastSeq)
}

func TestDispatcher_EmptyBatch(t *testing.T) {
	d := NewDispatcher(newPipeline(memstore.New()).processor, nil)
	res, err := d.Dispatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{}, res)
}
