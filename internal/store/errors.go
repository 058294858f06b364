package store

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateTransaction is returned when a client transaction id
	// collides with an existing local transaction.
	ErrDuplicateTransaction = errors.New("duplicate client transaction id")
)
