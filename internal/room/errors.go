package room

import "errors"

// Room actor error types.
var (
	ErrActorStopped   = errors.New("room no longer active")
	ErrNotPermitted   = errors.New("participant has no permit for this room")
	ErrOversubscribed = errors.New("joined participants exceed class enrollment; explicit confirmation required")
	ErrExamNotStarted = errors.New("exam has not started")
)
