package realtime

import (
	"sync"
	"time"

	"github.com/Aaliyah097/bochat/cmd/identity/ids"
)

// NewSessionID returns a time-ordered id for one socket session.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// Client is the outbound half of one connected socket.
//
// Send is never closed: the relay may still hold it while the socket is torn down.
// Goroutines watch Done instead.
type Client struct {
	SessionID string
	UserID    int64
	Send      chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(userID int64, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		UserID:    userID,
		Send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
