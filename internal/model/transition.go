package model

// externalTransitions lists the status edges driven from outside the
// matchmaking core. MATCHED is deliberately absent as a target: only the
// conditional store transition may set it.
var externalTransitions = map[RoomStatus][]RoomStatus{
	RoomStatusWaiting: {RoomStatusActive},
	RoomStatusActive:  {RoomStatusPaused},
	RoomStatusPaused:  {RoomStatusActive},
	RoomStatusMatched: {RoomStatusCompleted},
}

// CanTransition reports whether an external caller may move a room from one
// status to another.
func CanTransition(from, to RoomStatus) bool {
	for _, next := range externalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateNewRoom checks a room about to be created. New rooms start WAITING
// or ACTIVE with no match and a positive member count.
func ValidateNewRoom(r Room) error {
	switch {
	case r.ID == "":
		return &ValidationError{Field: "roomId", Reason: "required"}
	case r.MemberCount <= 0:
		return &ValidationError{Field: "memberCount", Reason: "must be positive"}
	case r.MatchedItemID != "" || r.MatchedAt != nil:
		return &ValidationError{Field: "matchedItemId", Reason: "must be empty for a new room"}
	}
	switch r.Status {
	case RoomStatusWaiting, RoomStatusActive:
		return nil
	case RoomStatusMatched, RoomStatusCompleted, RoomStatusPaused:
		return &ValidationError{Field: "status", Reason: "new rooms start WAITING or ACTIVE"}
	default:
		return &ValidationError{Field: "status", Reason: "unknown value " + string(r.Status)}
	}
}
