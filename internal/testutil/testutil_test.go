package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock_StepsAndResets(t *testing.T) {
	c := NewDeterministicClock()

	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, Epoch.Add(time.Second), c.Now())

	c.Advance(time.Hour)
	assert.Equal(t, Epoch.Add(2*time.Second+time.Hour), c.Peek())

	c.Reset()
	assert.Equal(t, Epoch, c.Now())
}

func TestDeterministicClock_CustomStart(t *testing.T) {
	start := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	c := NewDeterministicClockAt(start, time.Millisecond)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Millisecond), c.Now())
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("")
	assert.Equal(t, "evt-000001", g.Generate())
	assert.Equal(t, "evt-000002", g.Generate())

	g = NewSequenceGenerator("room")
	assert.Equal(t, "room-000001", g.Generate())
}
