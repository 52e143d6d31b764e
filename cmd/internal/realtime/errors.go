package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed client frame. The frame is dropped and the connection stays open.
	ErrValidation = errors.New("validation failed")

	// ErrTransportClosed is returned when the client socket is gone.
	ErrTransportClosed = errors.New("transport closed")

	// ErrSubscriberEvicted is reported by a subscription whose buffer overflowed.
	ErrSubscriberEvicted = errors.New("subscriber evicted")

	// ErrBusClosed is returned by a bus after Close.
	ErrBusClosed = errors.New("bus closed")
)

// ValidationError describes why a client frame was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e ValidationError) Unwrap() error { return ErrValidation }
