package engine

import "errors"

var (
	// ErrSensorUnavailable marks a stream the host cannot provide. It is
	// reported through events and logs, never returned from control calls.
	ErrSensorUnavailable = errors.New("engine: sensor unavailable")

	ErrInvalidSessionState = errors.New("engine: invalid session state")
	ErrNoSession           = errors.New("engine: no active session")
	ErrInvalidArgument     = errors.New("engine: invalid argument")
	ErrClosed              = errors.New("engine: closed")
	ErrNotStarted          = errors.New("engine: not started")
)
