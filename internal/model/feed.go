package model

import "encoding/json"

// ChangeEventName is the kind of mutation a change-feed record describes.
type ChangeEventName string

const (
	ChangeInsert ChangeEventName = "INSERT"
	ChangeModify ChangeEventName = "MODIFY"
	ChangeRemove ChangeEventName = "REMOVE"
)

// ChangeRecord is one entry of the vote change feed.
// Seq is the feed position and strictly increases.
type ChangeRecord struct {
	Seq       int64           `json:"seq"`
	EventName ChangeEventName `json:"eventName"`
	Image     json.RawMessage `json:"image"`
}

// VoteImage is the attribute set carried by an INSERT record.
// CreatedAt is RFC 3339; empty means "use the processing time".
type VoteImage struct {
	RoomID    string `json:"roomId"`
	ItemID    string `json:"itemId"`
	UserID    string `json:"userId"`
	VoteType  string `json:"voteType"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Valid reports whether n is one of the declared event names.
func (n ChangeEventName) Valid() bool {
	switch n {
	case ChangeInsert, ChangeModify, ChangeRemove:
		return true
	default:
		return false
	}
}
