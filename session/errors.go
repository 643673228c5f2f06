package session

import "errors"

var (
	// ErrTimeout marks a job that exceeded the execution timeout. It is a
	// distinct kind from application errors so callers can tell "ran and
	// failed" apart from "never finished in time".
	ErrTimeout = errors.New("job timed out")

	// ErrManagerClosed is delivered to queued callers when the manager shuts
	// down, and returned outright for runs submitted after shutdown.
	ErrManagerClosed = errors.New("execution manager is closed")
)
