package storage

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrStateConflict is returned when a conditional update found the row
	// in a state that does not allow the transition.
	ErrStateConflict = errors.New("storage: state conflict")
)
