package notify

import (
	"errors"
	"fmt"

	v1 "github.com/Aaliyah097/bochat/shared/contracts/chat/v1"
)

var (
	// ErrUpstreamTimeout means the push gateway did not answer within the push timeout.
	ErrUpstreamTimeout = errors.New("push gateway timeout")

	// ErrUpstreamStatus means the push gateway answered with a non-2xx status.
	ErrUpstreamStatus = errors.New("push gateway status")

	// ErrNoGroup is returned by ReadNext when the topic or consumer group does not exist.
	ErrNoGroup = errors.New("consumer group does not exist")

	// ErrInvalidRecord marks a queue entry that does not decode as a notification record.
	ErrInvalidRecord = v1.ErrInvalidRecord
)

// StatusError carries the push gateway's non-2xx reply.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %d", ErrUpstreamStatus, e.Code)
	}
	return fmt.Sprintf("%s: %d: %s", ErrUpstreamStatus, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUpstreamStatus }
