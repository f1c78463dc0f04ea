package model

import (
	"errors"
	"fmt"
)

var (
	// ErrRoomNotFound is returned when a room id has no record.
	ErrRoomNotFound = errors.New("room not found")

	// ErrInvalidTransition is returned for a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid room status transition")

	// ErrRoomExists is returned when creating a room whose id is taken.
	ErrRoomExists = errors.New("room already exists")

	// ErrUnknownStatus is returned when a stored room carries a status this
	// build does not know.
	ErrUnknownStatus = errors.New("unknown room status")

	// ErrEventNotFound is returned when no consensus event matches.
	ErrEventNotFound = errors.New("consensus event not found")
)

// ValidationError reports a malformed vote or room payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
