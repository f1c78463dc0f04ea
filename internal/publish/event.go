package publish

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/swipematch/internal/canon"
	"github.com/roach88/swipematch/internal/model"
)

// EventType is the type field of every consensus payload.
const EventType = "consensus.reached"

// Message is one payload handed to a Sink.
type Message struct {
	EventID   string
	RoomID    string
	Payload   []byte
	ExpiresAt time.Time
}

// Payload renders ev as canonical JSON. Identical events always produce
// identical bytes, so a redelivered event is byte-for-byte the original.
func Payload(ev model.ConsensusEvent) ([]byte, error) {
	b, err := canon.Marshal(map[string]any{
		"eventId":   ev.EventID,
		"itemId":    ev.ItemID,
		"matchedAt": ev.MatchedAt.UTC().Format(time.RFC3339Nano),
		"roomId":    ev.RoomID,
		"type":      EventType,
	})
	if err != nil {
		return nil, fmt.Errorf("encode consensus payload: %w", err)
	}
	return b, nil
}

func newMessage(ev model.ConsensusEvent) (Message, error) {
	payload, err := Payload(ev)
	if err != nil {
		return Message{}, err
	}
	return Message{
		EventID:   ev.EventID,
		RoomID:    ev.RoomID,
		Payload:   payload,
		ExpiresAt: ev.ExpiresAt,
	}, nil
}

// IDGenerator produces consensus event ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 event ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7. Panics if the random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
