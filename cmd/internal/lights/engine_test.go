package lights

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	v1 "github.com/Aaliyah097/bochat/shared/contracts/chat/v1"
)

func newTestEngine(t *testing.T, l Ledger, g AwardGate, r Rand) *Engine {
	t.Helper()

	e, err := NewEngine(EngineOptions{
		Ledger: l,
		Gate:   g,
		Rand:   r,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func TestEngine_ScoreCreditsAuthor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewInMemoryLedger()
	e := newTestEngine(t, l, nil, fixedRand{chance: 0.2, n: 1})

	sc := ScoringContext{
		Message: v1.Message{ID: 1, ChatID: 10, UserID: 2, Text: "hello world"},
		Tier:    LayerFirst,
	}

	res, err := e.Score(ctx, sc)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Awarded != 2 || res.Total != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}

	sc.Message.ID = 2
	res, err = e.Score(ctx, sc)
	if err != nil {
		t.Fatalf("score again: %v", err)
	}
	if res.Total != 4 {
		t.Fatalf("running total: got %d want 4", res.Total)
	}
}

func TestEngine_ZeroAwardReconciles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewInMemoryLedger()
	if _, err := l.Credit(ctx, 2, 10, 5); err != nil {
		t.Fatalf("seed: %v", err)
	}
	e := newTestEngine(t, l, nil, fixedRand{chance: 0.9})

	res, err := e.Score(ctx, ScoringContext{
		Message: v1.Message{ID: 3, ChatID: 10, UserID: 2, Text: "hello world"},
		Tier:    LayerFirst,
	})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Awarded != 0 || res.Total != 5 {
		t.Fatalf("unexpected result: %+v", res)
	}

	ev := l.Events(2, 10)
	if last := ev[len(ev)-1]; last.Operation != OpReconciled || last.Total != 5 {
		t.Fatalf("expected reconcile event, got %+v", last)
	}
}

func TestEngine_GateCreditsOncePerMessage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewInMemoryLedger()
	e := newTestEngine(t, l, NewMemoryGate(), fixedRand{chance: 0.1, n: 2})

	sc := ScoringContext{
		Message: v1.Message{ID: 77, ChatID: 10, UserID: 2, Text: "hello world"},
		Tier:    LayerFirst,
	}

	first, err := e.Score(ctx, sc)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := e.Score(ctx, sc)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.Duplicate || !second.Duplicate {
		t.Fatalf("expected only the second relay to be a duplicate: %+v %+v", first, second)
	}

	got, _ := l.BalanceOf(ctx, 2, 10)
	if got != first.Awarded {
		t.Fatalf("double credit: balance=%d awarded=%d", got, first.Awarded)
	}
}

// flakyLedger fails the first n credits.
type flakyLedger struct {
	*InMemoryLedger
	failures int
}

func (l *flakyLedger) Credit(ctx context.Context, userID, chatID int64, delta int) (Balance, error) {
	if l.failures > 0 {
		l.failures--
		return Balance{}, errors.New("transient db error")
	}
	return l.InMemoryLedger.Credit(ctx, userID, chatID, delta)
}

func TestEngine_FailedCreditReopensGate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := &flakyLedger{InMemoryLedger: NewInMemoryLedger(), failures: 1}
	e := newTestEngine(t, l, NewMemoryGate(), fixedRand{chance: 0.1, n: 2})

	sc := ScoringContext{
		Message: v1.Message{ID: 91, ChatID: 10, UserID: 2, Text: "hello world"},
		Tier:    LayerFirst,
	}

	if _, err := e.Score(ctx, sc); err == nil {
		t.Fatalf("expected credit error")
	}

	retry, err := e.Score(ctx, sc)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.Duplicate || retry.Awarded == 0 {
		t.Fatalf("retry must credit: %+v", retry)
	}
	if got, _ := l.BalanceOf(ctx, 2, 10); got != retry.Awarded {
		t.Fatalf("balance=%d awarded=%d", got, retry.Awarded)
	}

	again, err := e.Score(ctx, sc)
	if err != nil || !again.Duplicate {
		t.Fatalf("message must be credited once: %+v err=%v", again, err)
	}
}

func TestEngine_Withdraw(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewInMemoryLedger()
	e := newTestEngine(t, l, nil, fixedRand{})

	if _, err := l.Credit(ctx, 1, 1, 3); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := e.Withdraw(ctx, 1, 1, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero withdraw: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := e.Withdraw(ctx, 1, 1, 5); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overdraw: expected ErrInsufficientBalance, got %v", err)
	}
	b, err := e.Withdraw(ctx, 1, 1, 2)
	if err != nil || b.Amount != 1 {
		t.Fatalf("withdraw: got %+v, %v", b, err)
	}
}

func TestMemoryGate_Expires(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewMemoryGate()
	g.now = func() time.Time { return now }

	if ok, _ := g.Acquire(ctx, 1, time.Minute); !ok {
		t.Fatalf("first acquire must succeed")
	}
	if ok, _ := g.Acquire(ctx, 1, time.Minute); ok {
		t.Fatalf("second acquire must fail")
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := g.Acquire(ctx, 1, time.Minute); !ok {
		t.Fatalf("acquire after ttl must succeed")
	}
}
