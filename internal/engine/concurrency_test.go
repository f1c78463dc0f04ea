package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/swipematch/internal/model"
	"github.com/roach88/swipematch/internal/store/memstore"
)

// Every member votes POSITIVE on two items at once, so both items reach the
// quorum and their final votes race for the room. Exactly one may win.
func TestConcurrency_ExactlyOnePublish(t *testing.T) {
	backends := map[string]func(t *testing.T) roomStore{
		"memory": func(t *testing.T) roomStore { return memstore.New() },
		"sqlite": func(t *testing.T) roomStore { return setupTestStore(t) },
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const members = 8
			s := open(t)
			createRoom(t, s, "R1", members, model.RoomStatusActive)
			p := newPipeline(s)

			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				outcomes []Outcome
			)
			for u := 0; u < members; u++ {
				for _, item := range []string{"M1", "M2"} {
					wg.Add(1)
					go func(user, item string) {
						defer wg.Done()
						out, err := p.processor.Process(ctx, vote("R1", item, user, model.VoteTypePositive))
						assert.NoError(t, err)
						mu.Lock()
						outcomes = append(outcomes, out)
						mu.Unlock()
					}(fmt.Sprintf("u%d", u), item)
				}
			}
			wg.Wait()

			winners := 0
			for _, out := range outcomes {
				if out.Matched() {
					winners++
				}
			}
			assert.Equal(t, 1, winners)

			calls := p.notifier.Calls()
			require.Len(t, calls, 1)

			room, err := s.GetRoom(ctx, "R1")
			require.NoError(t, err)
			assert.Equal(t, model.RoomStatusMatched, room.Status)
			assert.Equal(t, calls[0].ItemID, room.MatchedItemID)

			for _, item := range []string{"M1", "M2"} {
				c, err := s.GetCounter(ctx, "R1", item)
				require.NoError(t, err)
				assert.Equal(t, int64(members), c.PositiveCount, "no increment lost for %s", item)
			}
		})
	}
}

// Redelivering the same records from many workers never double counts.
func TestConcurrency_DuplicateDeliveries(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	createRoom(t, s, "R1", 3, model.RoomStatusActive)
	p := newPipeline(s)

	var wg sync.WaitGroup
	for worker := 0; worker < 5; worker++ {
		for _, u := range []string{"u1", "u2"} {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				_, err := p.processor.Process(ctx, vote("R1", "M1", user, model.VoteTypePositive))
				assert.NoError(t, err)
			}(u)
		}
	}
	wg.Wait()

	c, err := s.GetCounter(ctx, "R1", "M1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.PositiveCount)

	room, err := s.GetRoom(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, model.RoomStatusActive, room.Status, "2 of 3 is not a match")
	assert.Empty(t, p.notifier.Calls())
}
