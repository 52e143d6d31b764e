// Package ids provides ULID primitives used for websocket session ids and queue consumer names.
package ids

import (
	"crypto/rand"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// ULIDs sort by creation time, which keeps session ids readable in logs.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewConsumerName returns a consumer name unique to this process and worker slot.
// Names must stay stable for the worker's lifetime so pending entries can be reclaimed.
func NewConsumerName(prefix string, slot int, now time.Time) string {
	id, err := NewULID(now)
	if err != nil {
		id = now.UTC().Format("20060102T150405.000000000")
	}
	return prefix + "-" + strconv.Itoa(slot) + "-" + id
}
