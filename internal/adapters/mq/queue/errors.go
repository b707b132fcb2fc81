package queue

import "errors"

// Sentinel errors for rejected jobs.
var (
	ErrFull   = errors.New("queue full")
	ErrClosed = errors.New("queue closed")
)
