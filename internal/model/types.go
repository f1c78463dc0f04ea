package model

import "time"

// VoteType is the reaction a member gave to one item.
type VoteType string

const (
	VoteTypePositive  VoteType = "POSITIVE"
	VoteTypeNegative  VoteType = "NEGATIVE"
	VoteTypeSkip      VoteType = "SKIP"
	VoteTypeUndecided VoteType = "UNDECIDED"
)

// VoteTypes lists every vote type in declaration order.
var VoteTypes = []VoteType{VoteTypePositive, VoteTypeNegative, VoteTypeSkip, VoteTypeUndecided}

// Valid reports whether t is one of the declared vote types.
func (t VoteType) Valid() bool {
	switch t {
	case VoteTypePositive, VoteTypeNegative, VoteTypeSkip, VoteTypeUndecided:
		return true
	default:
		return false
	}
}

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	RoomStatusWaiting   RoomStatus = "WAITING"
	RoomStatusActive    RoomStatus = "ACTIVE"
	RoomStatusMatched   RoomStatus = "MATCHED"
	RoomStatusCompleted RoomStatus = "COMPLETED"
	RoomStatusPaused    RoomStatus = "PAUSED"
)

// Valid reports whether s is one of the declared statuses.
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomStatusWaiting, RoomStatusActive, RoomStatusMatched, RoomStatusCompleted, RoomStatusPaused:
		return true
	default:
		return false
	}
}

// Room is the unit of matchmaking. MemberCount is the quorum denominator and
// never changes after creation.
type Room struct {
	ID            string     `json:"roomId"`
	MemberCount   int64      `json:"memberCount"`
	Status        RoomStatus `json:"status"`
	MatchedItemID string     `json:"matchedItemId,omitempty"`
	MatchedAt     *time.Time `json:"matchedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Consistent reports whether the matched item agrees with the status.
// COMPLETED keeps the item it was matched on.
func (r Room) Consistent() bool {
	resolved := r.Status == RoomStatusMatched || r.Status == RoomStatusCompleted
	return resolved == (r.MatchedItemID != "")
}

// Vote is one member's reaction to one item. (RoomID, ItemID, UserID) is unique.
type Vote struct {
	RoomID    string    `json:"roomId"`
	ItemID    string    `json:"itemId"`
	UserID    string    `json:"userId"`
	Type      VoteType  `json:"voteType"`
	CreatedAt time.Time `json:"createdAt"`
}

// ItemVoteCounter counts distinct POSITIVE votes for one item in one room.
type ItemVoteCounter struct {
	RoomID        string `json:"roomId"`
	ItemID        string `json:"itemId"`
	PositiveCount int64  `json:"positiveCount"`
}

// ConsensusEvent is the write-once audit record of a published match.
// At most one exists per room; it expires after the retention window.
type ConsensusEvent struct {
	EventID     string     `json:"eventId"`
	RoomID      string     `json:"roomId"`
	ItemID      string     `json:"itemId"`
	MatchedAt   time.Time  `json:"matchedAt"`
	EmittedAt   time.Time  `json:"emittedAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// Submission is the raw vote a client sends to the API edge.
type Submission struct {
	RoomID   string   `json:"roomId"`
	ItemID   string   `json:"itemId"`
	UserID   string   `json:"userId"`
	VoteType VoteType `json:"voteType"`
}
