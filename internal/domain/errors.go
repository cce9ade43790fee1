package domain

import "errors"

var (
	// ErrInvalidArgument is returned for missing or malformed input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnauthenticated is returned when the caller has no identity.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotFound is returned when a record does not exist or is not owned by
	// the caller. Both cases share this error so ownership is never leaked.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a unique record is created twice.
	ErrAlreadyExists = errors.New("already exists")

	// ErrSessionClosed is returned when a write targets a COMPLETED session.
	ErrSessionClosed = errors.New("session closed")

	// ErrOrderConflict is returned when a message append lost a race for its
	// order slot. Callers recompute the order from a fresh count and retry.
	ErrOrderConflict = errors.New("message order conflict")
)

// IsRetryable reports whether err may succeed if the caller retries.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrOrderConflict)
}
