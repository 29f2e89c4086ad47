package state

import "errors"

var (
	ErrConnectionExists   = errors.New("connection is already registered")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrNotIdentified      = errors.New("connection has not identified")
	ErrRoomNotFound       = errors.New("room not found")
	ErrNotMember          = errors.New("connection is not a member of this room")
	ErrMessageNotFound    = errors.New("message not found")
	ErrRecipientNotFound  = errors.New("recipient not found")
)

// IsNotFound reports whether err refers to something that does not exist.
// Such events are dropped without telling the originator.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConnectionNotFound) ||
		errors.Is(err, ErrRoomNotFound) ||
		errors.Is(err, ErrNotMember) ||
		errors.Is(err, ErrMessageNotFound) ||
		errors.Is(err, ErrRecipientNotFound)
}
