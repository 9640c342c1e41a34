package types

import "errors"

// Error taxonomy shared across the coordinator. NotFound, InvalidState and
// Conflict errors are reported to the originating client as a negative
// acknowledgement and change no room state. ErrPersistenceFailure is the one
// error the proctor must retry: the room stays alive until history
// persistence succeeds.
var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrInvalidState        = errors.New("operation not valid for current room lifecycle")
	ErrRoomExists          = errors.New("room code already in use")
	ErrDuplicateJoin       = errors.New("participant already joined")
	ErrPersistenceFailure  = errors.New("session history persistence failed")
)

// Validation errors for identifiers and event payloads.
var (
	ErrInvalidUserID        = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRoomCode      = errors.New("room code must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidDisplayName   = errors.New("display name must be 1-100 characters")
	ErrInvalidDuration      = errors.New("duration must be between 1 and 600 minutes")
	ErrInvalidQuestionIndex = errors.New("question index must be non-negative")
	ErrInvalidViolationKind = errors.New("violation kind must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidStartTime     = errors.New("start time must be a valid RFC 3339 timestamp")
	ErrUnknownEventKind     = errors.New("unknown event kind")
	ErrInvalidEvent         = errors.New("invalid event payload")
)
