package lights

import (
	"context"
	"sync"
	"time"
)

const memMaxEvents = 10_000

type balanceKey struct {
	userID int64
	chatID int64
}

// InMemoryLedger is a dev-only fallback when DB is not configured.
type InMemoryLedger struct {
	mu       sync.Mutex
	now      func() time.Time
	balances map[balanceKey]Balance
	events   []Event
}

// NewInMemoryLedger constructs an in-memory Ledger implementation.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		now:      func() time.Time { return time.Now().UTC() },
		balances: make(map[balanceKey]Balance),
	}
}

func (l *InMemoryLedger) Credit(ctx context.Context, userID, chatID int64, delta int) (Balance, error) {
	if err := validateDelta("credit", userID, chatID, delta); err != nil {
		return Balance{}, err
	}
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := balanceKey{userID, chatID}
	b, ok := l.balances[k]
	if !ok {
		b = Balance{UserID: userID, ChatID: chatID}
	}
	b.Amount += delta
	b.UpdatedAt = l.now()
	l.balances[k] = b
	l.recordLocked(b, OpReceived, delta)
	return b, nil
}

func (l *InMemoryLedger) Debit(ctx context.Context, userID, chatID int64, delta int) (Balance, error) {
	if err := validateDelta("debit", userID, chatID, delta); err != nil {
		return Balance{}, err
	}
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := balanceKey{userID, chatID}
	b, ok := l.balances[k]
	if !ok {
		b = Balance{UserID: userID, ChatID: chatID}
	}
	if delta > b.Amount {
		return b, insufficient("debit", b.Amount, delta)
	}
	if !ok {
		// Zero debit against a missing row: nothing to persist.
		return b, nil
	}
	b.Amount -= delta
	b.UpdatedAt = l.now()
	l.balances[k] = b
	l.recordLocked(b, OpWithdrawn, delta)
	return b, nil
}

func (l *InMemoryLedger) Reconcile(ctx context.Context, userID, chatID int64) (Balance, error) {
	if err := validateDelta("reconcile", userID, chatID, 0); err != nil {
		return Balance{}, err
	}
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := balanceKey{userID, chatID}
	b, ok := l.balances[k]
	if !ok {
		return Balance{UserID: userID, ChatID: chatID}, nil
	}
	b.UpdatedAt = l.now()
	l.balances[k] = b
	l.recordLocked(b, OpReconciled, 0)
	return b, nil
}

func (l *InMemoryLedger) BalanceOf(ctx context.Context, userID, chatID int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[balanceKey{userID, chatID}].Amount, nil
}

// Events returns a copy of the audit trail for (userID, chatID), oldest first.
func (l *InMemoryLedger) Events(userID, chatID int64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Event
	for _, e := range l.events {
		if e.UserID == userID && e.ChatID == chatID {
			out = append(out, e)
		}
	}
	return out
}

func (l *InMemoryLedger) recordLocked(b Balance, op string, amount int) {
	l.events = append(l.events, Event{
		UserID:    b.UserID,
		ChatID:    b.ChatID,
		Operation: op,
		Amount:    amount,
		Total:     b.Amount,
		CreatedAt: b.UpdatedAt,
	})
	// Bound memory to avoid unbounded growth in dev.
	if len(l.events) > memMaxEvents {
		l.events = l.events[len(l.events)-memMaxEvents:]
	}
}
