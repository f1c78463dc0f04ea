package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/swipematch/internal/consensus"
	"github.com/roach88/swipematch/internal/model"
)

// OutcomeStatus names where a vote's processing stopped.
type OutcomeStatus string

const (
	// OutcomeRecorded: a non-POSITIVE vote was stored for history.
	OutcomeRecorded OutcomeStatus = "recorded"
	// OutcomeDuplicate: a vote for the same (room, item, user) already existed.
	OutcomeDuplicate OutcomeStatus = "duplicate"
	// OutcomeCounted: the positive vote was counted and the quorum is not reached.
	OutcomeCounted OutcomeStatus = "counted"
	// OutcomeRoomResolved: the room is MATCHED or COMPLETED; no consensus check.
	OutcomeRoomResolved OutcomeStatus = "room_resolved"
	// OutcomeRoomPaused: the room is PAUSED; no consensus check.
	OutcomeRoomPaused OutcomeStatus = "room_paused"
	// OutcomeMatchLost: the quorum was reached but another path won the transition.
	OutcomeMatchLost OutcomeStatus = "match_lost"
	// OutcomeMatched: this vote won the transition.
	OutcomeMatched OutcomeStatus = "matched"
)

// Outcome describes what processing one vote did.
type Outcome struct {
	Vote          model.Vote
	Status        OutcomeStatus
	PositiveCount int64
	MemberCount   int64
	Decision      consensus.Decision
}

// Matched reports whether this vote won the room.
func (o Outcome) Matched() bool {
	return o.Status == OutcomeMatched
}

// Processor drives one vote through dedup, counting and the consensus check.
type Processor struct {
	store      VoteStore
	transition *Transition
	rule       consensus.Rule
	clock      Clock
	logger     *slog.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithRule sets the consensus rule. Default: unanimous.
func WithRule(r consensus.Rule) ProcessorOption {
	return func(p *Processor) {
		p.rule = r
	}
}

// WithProcessorClock overrides the clock used to stamp votes without a timestamp.
func WithProcessorClock(c Clock) ProcessorOption {
	return func(p *Processor) {
		p.clock = c
	}
}

// WithProcessorLogger sets the logger.
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = l
	}
}

// NewProcessor creates a Processor over store that hands matches to transition.
func NewProcessor(store VoteStore, transition *Transition, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:      store,
		transition: transition,
		rule:       consensus.NewRule(consensus.Unanimous),
		clock:      SystemClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = resolveLogger(p.logger)
	return p
}

// Process accepts one vote. Steps run strictly in order and any storage
// error aborts the rest:
//
//  1. validate (no writes on failure)
//  2. non-POSITIVE: store the vote for history and stop
//  3. POSITIVE: conditional insert
//  4. atomic counter increment, or for a duplicate a re-read of the counter
//  5. load the room
//  6. MATCHED, COMPLETED or PAUSED: stop
//  7. evaluate the rule
//  8. MATCH: attempt the transition
//
// A redelivered POSITIVE vote is never counted again, but it re-runs steps 5
// to 8 so a transition that failed after the count committed is retried. The
// transition is conditional, so this cannot match twice.
func (p *Processor) Process(ctx context.Context, v model.Vote) (Outcome, error) {
	vote, err := NormalizeVote(v)
	if err != nil {
		p.logger.Warn("vote rejected",
			"room_id", v.RoomID,
			"item_id", v.ItemID,
			"user_id", v.UserID,
			"error", err,
		)
		return Outcome{}, err
	}
	if vote.CreatedAt.IsZero() {
		vote.CreatedAt = p.clock.Now().UTC()
	}
	out := Outcome{Vote: vote, Decision: consensus.NoMatch}

	inserted, err := p.store.PutVoteIfAbsent(ctx, vote)
	if err != nil {
		return out, fmt.Errorf("put vote: %w", err)
	}
	duplicate := !inserted
	if duplicate {
		p.logger.Debug("duplicate vote ignored",
			"room_id", vote.RoomID,
			"item_id", vote.ItemID,
			"user_id", vote.UserID,
		)
		out.Status = OutcomeDuplicate
		if vote.Type != model.VoteTypePositive {
			return out, nil
		}
	} else if vote.Type != model.VoteTypePositive {
		out.Status = OutcomeRecorded
		return out, nil
	}

	var count int64
	if duplicate {
		c, err := p.store.GetCounter(ctx, vote.RoomID, vote.ItemID)
		if err != nil {
			return out, fmt.Errorf("get counter: %w", err)
		}
		count = c.PositiveCount
	} else {
		count, err = p.store.IncrementPositiveCounter(ctx, vote.RoomID, vote.ItemID)
		if err != nil {
			return out, fmt.Errorf("increment positive counter: %w", err)
		}
	}
	out.PositiveCount = count

	room, err := p.store.GetRoom(ctx, vote.RoomID)
	if err != nil {
		return out, fmt.Errorf("get room %s: %w", vote.RoomID, err)
	}
	out.MemberCount = room.MemberCount

	open, err := acceptsMatch(room.Status)
	if err != nil {
		return out, err
	}
	if !open {
		if duplicate {
			return out, nil
		}
		out.Status = OutcomeRoomResolved
		if room.Status == model.RoomStatusPaused {
			out.Status = OutcomeRoomPaused
		}
		p.logger.Debug("vote counted on closed room",
			"room_id", vote.RoomID,
			"item_id", vote.ItemID,
			"status", room.Status,
			"positive_count", count,
		)
		return out, nil
	}

	if room.MemberCount <= 0 {
		p.logger.Warn("room has no members; consensus disabled",
			"room_id", room.ID,
			"member_count", room.MemberCount,
		)
	}
	out.Decision = p.rule.Evaluate(count, room.MemberCount)
	if out.Decision != consensus.Match {
		if !duplicate {
			out.Status = OutcomeCounted
		}
		return out, nil
	}

	if duplicate {
		p.logger.Info("retrying match transition for redelivered vote",
			"room_id", vote.RoomID,
			"item_id", vote.ItemID,
			"positive_count", count,
		)
	}
	applied, err := p.transition.Apply(ctx, vote.RoomID, vote.ItemID)
	switch {
	case applied:
		out.Status = OutcomeMatched
	case !duplicate:
		out.Status = OutcomeMatchLost
	}
	if err != nil {
		return out, err
	}
	return out, nil
}

// acceptsMatch reports whether a room in status s may still transition to
// MATCHED. Every status is listed so a new one cannot slip through silently.
func acceptsMatch(s model.RoomStatus) (bool, error) {
	switch s {
	case model.RoomStatusWaiting, model.RoomStatusActive:
		return true, nil
	case model.RoomStatusMatched, model.RoomStatusCompleted, model.RoomStatusPaused:
		return false, nil
	default:
		return false, fmt.Errorf("room status %q: %w", s, model.ErrUnknownStatus)
	}
}
