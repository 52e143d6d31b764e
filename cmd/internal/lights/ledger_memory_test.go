package lights

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestInMemoryLedger_DebitInsufficient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewInMemoryLedger()

	if _, err := l.Credit(ctx, 1, 10, 3); err != nil {
		t.Fatalf("credit: %v", err)
	}

	_, err := l.Debit(ctx, 1, 10, 5)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	var opErr OpError
	if !errors.As(err, &opErr) || opErr.Op != "debit" {
		t.Fatalf("expected OpError{Op: debit}, got %#v", err)
	}

	got, err := l.BalanceOf(ctx, 1, 10)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got != 3 {
		t.Fatalf("balance must stay at 3, got %d", got)
	}
}

func TestInMemoryLedger_CreditDebitRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewInMemoryLedger()

	if _, err := l.Credit(ctx, 1, 10, 7); err != nil {
		t.Fatalf("seed credit: %v", err)
	}
	before, _ := l.BalanceOf(ctx, 1, 10)

	if _, err := l.Credit(ctx, 1, 10, 4); err != nil {
		t.Fatalf("credit: %v", err)
	}
	b, err := l.Debit(ctx, 1, 10, 4)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if b.Amount != before {
		t.Fatalf("round trip: got %d want %d", b.Amount, before)
	}

	ev := l.Events(1, 10)
	if len(ev) != 3 || ev[2].Operation != OpWithdrawn || ev[2].Total != before {
		t.Fatalf("unexpected audit trail: %+v", ev)
	}
}

func TestInMemoryLedger_MissingRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewInMemoryLedger()

	got, err := l.BalanceOf(ctx, 9, 9)
	if err != nil || got != 0 {
		t.Fatalf("missing row: got %d, %v", got, err)
	}

	b, err := l.Reconcile(ctx, 9, 9)
	if err != nil || b.Amount != 0 {
		t.Fatalf("reconcile missing row: got %+v, %v", b, err)
	}
	if len(l.Events(9, 9)) != 0 {
		t.Fatalf("reconcile must not create a row")
	}

	if _, err := l.Debit(ctx, 9, 9, 1); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("debit missing row: expected ErrInsufficientBalance, got %v", err)
	}
}

func TestInMemoryLedger_RejectsInvalidInput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewInMemoryLedger()

	if _, err := l.Credit(ctx, 1, 1, -1); !IsInvalidAmount(err) {
		t.Fatalf("negative credit: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := l.Debit(ctx, 1, 1, -1); !IsInvalidAmount(err) {
		t.Fatalf("negative debit: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := l.Credit(ctx, 0, 1, 1); !IsInvalidAmount(err) {
		t.Fatalf("missing user: expected ErrInvalidAmount, got %v", err)
	}
}

func TestInMemoryLedger_ConcurrentMutationsNeverGoNegative(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewInMemoryLedger()

	const n = 64
	if _, err := l.Credit(ctx, 1, 1, n/2); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		debited  int
		credited int
	)
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := l.Debit(ctx, 1, 1, 1); err == nil {
				mu.Lock()
				debited++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := l.Credit(ctx, 1, 1, 1); err == nil {
				mu.Lock()
				credited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, _ := l.BalanceOf(ctx, 1, 1)
	if got < 0 {
		t.Fatalf("balance went negative: %d", got)
	}
	if want := n/2 + credited - debited; got != want {
		t.Fatalf("lost update: got %d want %d", got, want)
	}
}
