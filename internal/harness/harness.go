package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/swipematch/internal/consensus"
	"github.com/roach88/swipematch/internal/engine"
	"github.com/roach88/swipematch/internal/model"
	"github.com/roach88/swipematch/internal/publish"
	"github.com/roach88/swipematch/internal/store/memstore"
	"github.com/roach88/swipematch/internal/testutil"
)

// Harness wires the full pipeline over an in-memory store for one run.
type Harness struct {
	store     *memstore.Store
	sink      *publish.MemorySink
	clock     *testutil.DeterministicClock
	processor *engine.Processor
	poller    *engine.FeedPoller
	relay     publish.Relay
	logger    *slog.Logger

	// published counts sink messages already copied into the trace.
	published int
}

// Option configures a run.
type Option func(*Harness)

// WithLogger routes pipeline logs to l instead of discarding them.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a scenario and returns the result. A returned error means the
// scenario could not be set up; step and assertion failures are reported in
// the Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h, err := newHarness(scenario, opts...)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()

	if err := h.setupRooms(ctx, scenario.Rooms); err != nil {
		return nil, fmt.Errorf("failed to set up rooms: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		h.collectPublished(result)
	}

	for _, msg := range EvaluateAssertions(ctx, result, scenario.Assertions, h) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario, opts ...Option) (*Harness, error) {
	policy, err := consensus.ParsePolicy(scenario.Policy)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		store: memstore.New(),
		sink:  &publish.MemorySink{},
		clock: testutil.NewDeterministicClock(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	publisher := publish.NewPublisher(h.store, h.sink,
		publish.WithIDGenerator(testutil.NewSequenceGenerator("evt")),
		publish.WithClock(h.clock),
		publish.WithRetry(1, 0),
		publish.WithLogger(h.logger),
	)
	transition := engine.NewTransition(h.store, publisher,
		engine.WithTransitionClock(h.clock),
		engine.WithTransitionLogger(h.logger),
	)
	h.processor = engine.NewProcessor(h.store, transition,
		engine.WithRule(consensus.NewRule(policy)),
		engine.WithProcessorClock(h.clock),
		engine.WithProcessorLogger(h.logger),
	)
	h.poller = engine.NewFeedPoller(h.store, engine.NewDispatcher(h.processor, h.logger),
		engine.WithConsumer("harness"),
		engine.WithPollerLogger(h.logger),
	)
	h.relay = publish.Relay{Publisher: publisher, Logger: h.logger}
	return h, nil
}

func (h *Harness) setupRooms(ctx context.Context, rooms []RoomSetup) error {
	for _, r := range rooms {
		status := model.RoomStatus(r.Status)
		if status == "" {
			status = model.RoomStatusActive
		}
		room := model.Room{
			ID:          r.ID,
			MemberCount: r.Members,
			Status:      status,
			CreatedAt:   h.clock.Now(),
		}
		if err := h.store.CreateRoom(ctx, room); err != nil {
			return fmt.Errorf("room %s: %w", r.ID, err)
		}
		if r.Matched == "" {
			continue
		}
		applied, err := h.store.TransitionRoomToMatched(ctx, r.ID, r.Matched, h.clock.Now())
		if err != nil {
			return fmt.Errorf("room %s: %w", r.ID, err)
		}
		if !applied {
			return fmt.Errorf("room %s: could not start matched", r.ID)
		}
	}
	return nil
}

func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	switch {
	case step.Vote != nil:
		h.vote(ctx, i, step, result)
	case step.Submit != nil:
		return h.submit(ctx, *step.Submit, result)
	case step.Dispatch:
		res, err := h.poller.Drain(ctx)
		ev := TraceEvent{Type: EventDispatch, Batch: &res}
		if err != nil {
			ev.Error = err.Error()
		}
		result.add(ev)
	case step.Status != nil:
		return h.status(ctx, *step.Status, result)
	case step.SinkOutage > 0:
		h.sink.FailNext(step.SinkOutage)
		result.add(TraceEvent{Type: EventSinkOutage, Count: step.SinkOutage})
	case step.Relay:
		n, err := h.relay.RunOnce(ctx)
		ev := TraceEvent{Type: EventRelay, Count: n}
		if err != nil {
			ev.Error = err.Error()
		}
		result.add(ev)
	}
	return nil
}

func (h *Harness) vote(ctx context.Context, i int, step Step, result *Result) {
	v := step.Vote
	out, err := h.processor.Process(ctx, model.Vote{
		RoomID: v.Room,
		ItemID: v.Item,
		UserID: v.User,
		Type:   model.VoteType(v.Type),
	})

	ev := TraceEvent{
		Type:     EventVote,
		Room:     v.Room,
		Item:     v.Item,
		User:     v.User,
		Vote:     v.Type,
		Outcome:  string(out.Status),
		Positive: out.PositiveCount,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	result.add(ev)

	if step.Expect != "" && step.Expect != ev.Outcome {
		result.AddError(fmt.Sprintf("step %d: expected outcome %q, got %q", i, step.Expect, ev.Outcome))
	}
}

func (h *Harness) submit(ctx context.Context, v VoteStep, result *Result) error {
	ev := TraceEvent{Type: EventSubmit, Room: v.Room, Item: v.Item, User: v.User, Vote: v.Type}

	rec, err := engine.SubmissionRecord(model.Submission{
		RoomID:   v.Room,
		ItemID:   v.Item,
		UserID:   v.User,
		VoteType: model.VoteType(v.Type),
	}, h.clock.Now())
	if err != nil {
		if !model.IsValidationError(err) {
			return err
		}
		ev.Error = err.Error()
		result.add(ev)
		return nil
	}

	seq, err := h.store.AppendChange(ctx, rec)
	if err != nil {
		return err
	}
	ev.FeedSeq = seq
	result.add(ev)
	return nil
}

func (h *Harness) status(ctx context.Context, s StatusStep, result *Result) error {
	room, err := h.store.GetRoom(ctx, s.Room)
	if err != nil {
		return err
	}
	ev := TraceEvent{Type: EventStatus, Room: s.Room, From: string(room.Status), To: s.To}

	applied, err := h.store.UpdateRoomStatus(ctx, s.Room, room.Status, model.RoomStatus(s.To))
	switch {
	case errors.Is(err, model.ErrInvalidTransition):
		ev.Error = err.Error()
	case err != nil:
		return err
	}
	ev.Applied = applied
	result.add(ev)
	return nil
}

// collectPublished appends a publish event for every message the sink
// accepted since the last call.
func (h *Harness) collectPublished(result *Result) {
	msgs := h.sink.Messages()
	for _, msg := range msgs[h.published:] {
		var payload struct {
			ItemID string `json:"itemId"`
		}
		_ = json.Unmarshal(msg.Payload, &payload)
		result.add(TraceEvent{
			Type:    EventPublish,
			Room:    msg.RoomID,
			Item:    payload.ItemID,
			EventID: msg.EventID,
		})
	}
	h.published = len(msgs)
}
