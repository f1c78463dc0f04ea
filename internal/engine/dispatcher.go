package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/swipematch/internal/model"
)

// VoteProcessor is the part of Processor the Dispatcher depends on.
type VoteProcessor interface {
	Process(ctx context.Context, v model.Vote) (Outcome, error)
}

// BatchResult summarises one Dispatch call.
type BatchResult struct {
	Received  int `json:"received"`
	Filtered  int `json:"filtered"`  // non-INSERT records
	Malformed int `json:"malformed"` // records whose image could not be turned into a vote
	Processed int `json:"processed"` // records handed to the processor without a transient error
	Failed    int `json:"failed"`    // permanent processor failures, logged and skipped
	Matches   int `json:"matches"`   // records whose vote won a room

	// LastSeq is the highest seq up to which every record is handled.
	// Zero means nothing in the batch is safe to commit.
	LastSeq int64 `json:"lastSeq"`
}

// Dispatcher turns raw change-feed records into processor calls.
type Dispatcher struct {
	processor VoteProcessor
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. A nil logger uses slog.Default().
func NewDispatcher(processor VoteProcessor, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		processor: processor,
		logger:    resolveLogger(logger),
	}
}

// Dispatch processes records in order, once each.
//
// MODIFY and REMOVE records are filtered out. Malformed records and
// permanent processor failures are logged and skipped so one bad record never
// blocks the batch. A transient failure stops the batch and is returned
// unchanged; LastSeq then marks the records that are safe to commit and the
// caller redelivers the rest.
func (d *Dispatcher) Dispatch(ctx context.Context, records []model.ChangeRecord) (BatchResult, error) {
	res := BatchResult{Received: len(records)}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if rec.EventName != model.ChangeInsert {
			res.Filtered++
			res.LastSeq = rec.Seq
			continue
		}

		vote, err := VoteFromImage(rec.Image)
		if err != nil {
			d.logger.Warn("skipping malformed change record",
				"seq", rec.Seq,
				"error", err,
			)
			res.Malformed++
			res.LastSeq = rec.Seq
			continue
		}

		out, err := d.processor.Process(ctx, vote)
		if err != nil {
			if !IsPermanent(err) {
				d.logger.Error("change record processing failed; stopping batch",
					"seq", rec.Seq,
					"room_id", vote.RoomID,
					"item_id", vote.ItemID,
					"user_id", vote.UserID,
					"error", err,
				)
				return res, err
			}
			d.logger.Error("change record failed permanently; skipping",
				"seq", rec.Seq,
				"room_id", vote.RoomID,
				"item_id", vote.ItemID,
				"user_id", vote.UserID,
				"error", err,
			)
			res.Failed++
		} else {
			res.Processed++
		}
		if out.Matched() {
			res.Matches++
		}
		res.LastSeq = rec.Seq
	}

	return res, nil
}
