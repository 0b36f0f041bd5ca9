package domain

import "errors"

// Error kinds surfaced by the pipeline. Callers wrap them with context and
// classify with errors.Is.
var (
	// ErrConnection is a transient transport failure; the driver reconnects.
	ErrConnection = errors.New("connection error")

	// ErrIntersection means no candidate start point was accepted by the node.
	ErrIntersection = errors.New("intersection not found")

	// ErrRollbackBeyondWindow means the node rolled back past a block that was
	// already released downstream.
	ErrRollbackBeyondWindow = errors.New("rollback beyond finality window")

	// ErrSinkDelivery means an event could not be delivered after all retries.
	ErrSinkDelivery = errors.New("sink delivery failed")

	// ErrAssertion is raised by the Assert sink when break_on_failure is set.
	ErrAssertion = errors.New("assertion failed")

	// ErrCursorPersist means the resume point could not be stored durably.
	ErrCursorPersist = errors.New("cursor persist failed")

	// ErrConfig marks invalid configuration.
	ErrConfig = errors.New("invalid configuration")

	// ErrDecode marks a block body that could not be decoded.
	ErrDecode = errors.New("block decode failed")
)

// IsFatal reports whether err must stop the pipeline instead of triggering a
// reconnect.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrConnection)
}
