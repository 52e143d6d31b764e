package notify

import (
	"context"
	"time"
)

// Queue defaults.
const (
	DefaultGroup        = "notifications-dispatchers"
	DefaultMaxLen       = 10000
	DefaultClaimMinIdle = 30 * time.Second
)

// Entry is one queue record as handed to a consumer.
type Entry struct {
	ID     string
	Fields map[string]string
}

// Queue is an append-only, capacity-bounded log per topic with consumer groups.
//
// Enqueue assigns monotonically increasing ids. Once a topic holds more than its bound,
// the oldest entries are dropped. Entries read through ReadNext stay pending for the group
// until acknowledged; a pending entry idle for longer than the claim interval is handed to
// the next consumer that asks.
type Queue interface {
	Enqueue(ctx context.Context, topic string, fields map[string]string) (string, error)

	// CreateGroup is idempotent. A new group starts after the current tail of the topic.
	CreateGroup(ctx context.Context, topic, group string) error

	// ReadNext never blocks. ok is false when nothing is deliverable right now.
	ReadNext(ctx context.Context, topic, group, consumer string) (e Entry, ok bool, err error)

	Ack(ctx context.Context, topic, group, id string) error
}
