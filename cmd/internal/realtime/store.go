package realtime

import (
	"context"
	"errors"

	v1 "github.com/Aaliyah097/bochat/shared/contracts/chat/v1"
)

// ErrMessageNotFound is returned by MessageStore.Get for an unknown id.
var ErrMessageNotFound = errors.New("message not found")

// MessageStore persists chat messages.
//
// Requirements:
//   - Add assigns a unique, increasing ID and CreatedAt (when unset)
//   - Stored messages are immutable apart from text and read/hidden flags,
//     which are managed outside this package
type MessageStore interface {
	Add(ctx context.Context, m v1.Message) (v1.Message, error)
	Get(ctx context.Context, id int64) (v1.Message, error)
	Close() error
}
