package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/swipematch/internal/canon"
	"github.com/roach88/swipematch/internal/model"
)

// NormalizeVote canonicalises ids and checks every required field.
// A zero CreatedAt is left for the caller to stamp.
func NormalizeVote(v model.Vote) (model.Vote, error) {
	v.RoomID = canon.Identifier(v.RoomID)
	v.ItemID = canon.Identifier(v.ItemID)
	v.UserID = canon.Identifier(v.UserID)

	switch {
	case v.RoomID == "":
		return model.Vote{}, &model.ValidationError{Field: "roomId", Reason: "required"}
	case v.ItemID == "":
		return model.Vote{}, &model.ValidationError{Field: "itemId", Reason: "required"}
	case v.UserID == "":
		return model.Vote{}, &model.ValidationError{Field: "userId", Reason: "required"}
	case !v.Type.Valid():
		return model.Vote{}, &model.ValidationError{Field: "voteType", Reason: fmt.Sprintf("unknown value %q", v.Type)}
	}
	if !v.CreatedAt.IsZero() {
		v.CreatedAt = v.CreatedAt.UTC()
	}
	return v, nil
}

// VoteFromSubmission converts an API submission into a vote.
func VoteFromSubmission(sub model.Submission) (model.Vote, error) {
	return NormalizeVote(model.Vote{
		RoomID: sub.RoomID,
		ItemID: sub.ItemID,
		UserID: sub.UserID,
		Type:   sub.VoteType,
	})
}

// VoteFromImage decodes the new image of an INSERT change record.
func VoteFromImage(raw json.RawMessage) (model.Vote, error) {
	if len(raw) == 0 {
		return model.Vote{}, &model.ValidationError{Field: "image", Reason: "empty"}
	}
	var img model.VoteImage
	if err := json.Unmarshal(raw, &img); err != nil {
		return model.Vote{}, &model.ValidationError{Field: "image", Reason: err.Error()}
	}

	var createdAt time.Time
	if img.CreatedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, img.CreatedAt)
		if err != nil {
			return model.Vote{}, &model.ValidationError{Field: "createdAt", Reason: err.Error()}
		}
		createdAt = ts
	}

	return NormalizeVote(model.Vote{
		RoomID:    img.RoomID,
		ItemID:    img.ItemID,
		UserID:    img.UserID,
		Type:      model.VoteType(img.VoteType),
		CreatedAt: createdAt,
	})
}

// SubmissionRecord validates a submission and builds the INSERT record that
// carries it on the change feed. The image is canonical JSON so identical
// submissions produce identical bytes.
func SubmissionRecord(sub model.Submission, at time.Time) (model.ChangeRecord, error) {
	v, err := VoteFromSubmission(sub)
	if err != nil {
		return model.ChangeRecord{}, err
	}
	image, err := canon.Marshal(map[string]any{
		"roomId":    v.RoomID,
		"itemId":    v.ItemID,
		"userId":    v.UserID,
		"voteType":  string(v.Type),
		"createdAt": at.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return model.ChangeRecord{}, fmt.Errorf("encode submission image: %w", err)
	}
	return model.ChangeRecord{EventName: model.ChangeInsert, Image: image}, nil
}
