package session

import "errors"

var (
	// ErrNotFound is returned when an operation references a session id
	// with no backing record.
	ErrNotFound = errors.New("session: not found")
)
