package harness

import (
	"context"
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		switch ev.Type {
		case EventVote, EventSubmit:
			fmt.Fprintf(&buf, "  [%d] %s %s/%s by %s: %s %s\n", ev.Seq, ev.Type, ev.Room, ev.Item, ev.User, ev.Vote, ev.Outcome)
		default:
			fmt.Fprintf(&buf, "  [%d] %s %s\n", ev.Seq, ev.Type, ev.Room)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, h *Harness) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertRoom:
			err = h.assertRoom(ctx, a)
		case AssertCounter:
			err = h.assertCounter(ctx, a)
		case AssertVotes:
			err = h.assertVotes(ctx, a)
		case AssertPublished:
			err = h.assertPublished(a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			if ae, ok := err.(*AssertionError); ok {
				ae.Trace = result.Trace
			}
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func (h *Harness) assertRoom(ctx context.Context, a Assertion) error {
	room, err := h.store.GetRoom(ctx, a.Room)
	if err != nil {
		return fmt.Errorf("room %s: %w", a.Room, err)
	}
	if string(room.Status) != a.Status || room.MatchedItemID != a.MatchedItem {
		return &AssertionError{
			Type:     AssertRoom,
			Expected: fmt.Sprintf("room %s status=%s matched_item=%q", a.Room, a.Status, a.MatchedItem),
			Actual:   fmt.Sprintf("status=%s matched_item=%q", room.Status, room.MatchedItemID),
		}
	}
	if !room.Consistent() {
		return &AssertionError{
			Type:     AssertRoom,
			Expected: "matched item set iff the room is resolved",
			Actual:   fmt.Sprintf("status=%s matched_item=%q", room.Status, room.MatchedItemID),
		}
	}
	return nil
}

func (h *Harness) assertCounter(ctx context.Context, a Assertion) error {
	c, err := h.store.GetCounter(ctx, a.Room, a.Item)
	if err != nil {
		return fmt.Errorf("counter %s/%s: %w", a.Room, a.Item, err)
	}
	if c.PositiveCount != int64(*a.Count) {
		return &AssertionError{
			Type:     AssertCounter,
			Expected: fmt.Sprintf("%s/%s positive_count=%d", a.Room, a.Item, *a.Count),
			Actual:   fmt.Sprintf("positive_count=%d", c.PositiveCount),
		}
	}
	return nil
}

func (h *Harness) assertVotes(ctx context.Context, a Assertion) error {
	votes, err := h.store.ListVotes(ctx, a.Room)
	if err != nil {
		return fmt.Errorf("votes %s: %w", a.Room, err)
	}
	if len(votes) != *a.Count {
		return &AssertionError{
			Type:     AssertVotes,
			Expected: fmt.Sprintf("%d votes in %s", *a.Count, a.Room),
			Actual:   fmt.Sprintf("%d votes", len(votes)),
		}
	}
	return nil
}

func (h *Harness) assertPublished(a Assertion) error {
	n := 0
	for _, msg := range h.sink.Messages() {
		if a.Room == "" || msg.RoomID == a.Room {
			n++
		}
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertPublished,
			Expected: fmt.Sprintf("%d consensus messages", *a.Count),
			Actual:   fmt.Sprintf("%d consensus messages", n),
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Type == a.Event && (a.Outcome == "" || ev.Outcome == a.Outcome) {
			n++
		}
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s events (outcome %q)", *a.Count, a.Event, a.Outcome),
			Actual:   fmt.Sprintf("%d events", n),
		}
	}
	return nil
}
