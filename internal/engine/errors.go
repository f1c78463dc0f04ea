package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/swipematch/internal/model"
)

// PublishError reports that a room transitioned to MATCHED but the consensus
// notification could not be handed to the notifier. The transition is not
// rolled back; redelivery of the vote will not publish again.
type PublishError struct {
	RoomID string
	ItemID string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish consensus for room %s item %s: %v", e.RoomID, e.ItemID, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// IsPublishError reports whether err wraps a *PublishError.
func IsPublishError(err error) bool {
	var pe *PublishError
	return errors.As(err, &pe)
}

// IsPermanent reports whether redelivering the same record can never succeed.
// Permanent failures are logged and skipped by the Dispatcher; everything else
// is returned so the invoking runtime can retry.
func IsPermanent(err error) bool {
	switch {
	case err == nil:
		return false
	case model.IsValidationError(err):
		return true
	case errors.Is(err, model.ErrRoomNotFound), errors.Is(err, model.ErrUnknownStatus):
		return true
	case IsPublishError(err):
		return true
	default:
		return false
	}
}
