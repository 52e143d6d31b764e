package lights

import (
	"context"
	"time"
)

// Balance is the single point balance of a user in a chat.
type Balance struct {
	UserID    int64
	ChatID    int64
	Amount    int
	UpdatedAt time.Time
}

// Operation names recorded in the ledger audit trail.
const (
	OpReceived   = "received"
	OpWithdrawn  = "withdrawn"
	OpReconciled = "reconciled"
)

// Event is one audit row written alongside every ledger mutation.
type Event struct {
	UserID    int64
	ChatID    int64
	Operation string
	Amount    int
	Total     int
	CreatedAt time.Time
}

// Ledger stores per-(user, chat) balances.
//
// Requirements:
//   - One row per (user_id, chat_id); amount is never negative
//   - Credit and Debit are atomic read-modify-write on that row
//   - BalanceOf reports 0 for a missing row
type Ledger interface {
	Credit(ctx context.Context, userID, chatID int64, delta int) (Balance, error)
	Debit(ctx context.Context, userID, chatID int64, delta int) (Balance, error)
	// Reconcile re-persists the current amount with a fresh updated_at.
	// A missing row is reported as a zero balance and is not created.
	Reconcile(ctx context.Context, userID, chatID int64) (Balance, error)
	BalanceOf(ctx context.Context, userID, chatID int64) (int, error)
}

func validateDelta(op string, userID, chatID int64, delta int) error {
	if userID <= 0 || chatID <= 0 {
		return invalidAmount(op, "missing user_id or chat_id")
	}
	if delta < 0 {
		return invalidAmount(op, "negative delta")
	}
	return nil
}
