package gateway

import "errors"

// Gateway error types.
var (
	ErrConnectionClosed   = errors.New("connection is closed")
	ErrWriteTimeout       = errors.New("write timeout exceeded")
	ErrInvalidJSON        = errors.New("invalid JSON data")
	ErrNilConnection      = errors.New("connection cannot be nil")
	ErrNoIdentity         = errors.New("connection has no identity")
	ErrUnauthorizedEvent  = errors.New("role not authorized to send this event")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded: 100 events per minute")
	ErrEndExamInterrupted = errors.New("end exam failed; room retained for retry")
)
