package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/swipematch/internal/model"
	"github.com/roach88/swipematch/internal/store/memstore"
	"github.com/roach88/swipematch/internal/testutil"
)

func TestTransition_AppliesOnce(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	createRoom(t, s, "R1", 2, model.RoomStatusActive)
	n := &recordingNotifier{}
	clock := testutil.NewDeterministicClock()
	tr := NewTransition(s, n, WithTransitionClock(clock), WithTransitionLogger(quietLogger()))

	applied, err := tr.Apply(ctx, "R1", "M1")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = tr.Apply(ctx, "R1", "M2")
	require.NoError(t, err)
	assert.False(t, applied, "losing a resolved room is not an error")

	calls := n.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, published{"R1", "M1", testutil.Epoch}, calls[0])
}

func TestTransition_NilNotifier(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	createRoom(t, s, "R1", 2, model.RoomStatusActive)
	tr := NewTransition(s, nil, WithTransitionLogger(quietLogger()))

	applied, err := tr.Apply(ctx, "R1", "M1")
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestTransition_StoreError(t *testing.T) {
	s := newFaultStore()
	createRoom(t, s, "R1", 2, model.RoomStatusActive)
	s.set(func(f *faultStore) { f.transitionErr = errTransient })
	n := &recordingNotifier{}
	tr := NewTransition(s, n, WithTransitionLogger(quietLogger()))

	applied, err := tr.Apply(context.Background(), "R1", "M1")
	assert.False(t, applied)
	assert.ErrorIs(t, err, errTransient)
	assert.False(t, IsPublishError(err))
	assert.Empty(t, n.Calls())
}

func TestTransition_PublishError(t *testing.T) {
	s := memstore.New()
	createRoom(t, s, "R1", 2, model.RoomStatusActive)
	n := &recordingNotifier{err: errTransient}
	tr := NewTransition(s, n, WithTransitionLogger(quietLogger()))

	applied, err := tr.Apply(context.Background(), "R1", "M1")
	assert.True(t, applied)

	var pe *PublishError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "R1", pe.RoomID)
	assert.Equal(t, "M1", pe.ItemID)
	assert.ErrorIs(t, err, errTransient)
	assert.Contains(t, err.Error(), "room R1 item M1")
}
