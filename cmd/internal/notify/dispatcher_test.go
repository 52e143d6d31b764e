package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/Aaliyah097/bochat/cmd/internal/lights"
	v1 "github.com/Aaliyah097/bochat/shared/contracts/chat/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type pushCall struct {
	token string
	n     Notification
}

type recordingPusher struct {
	mu    sync.Mutex
	calls []pushCall
	err   error
	block bool
}

func (p *recordingPusher) Push(ctx context.Context, token string, n Notification) error {
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pushCall{token: token, n: n})
	return p.err
}

func (p *recordingPusher) snapshot() []pushCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pushCall(nil), p.calls...)
}

type countingTokens struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *countingTokens) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &oauth2.Token{AccessToken: "tok"}, nil
}

func sampleRecord() map[string]string {
	return v1.RecordFromMessage(v1.Message{
		ID:          11,
		ChatID:      1,
		UserID:      2,
		RecipientID: 3,
		Text:        "hello world",
		CreatedAt:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}).Fields()
}

func newTestDispatcher(t *testing.T, q Queue, devices DeviceRegistry, p Pusher, tokens oauth2.TokenSource) *Dispatcher {
	t.Helper()

	d, err := NewDispatcher(DispatcherOptions{
		Queue:        q,
		Devices:      devices,
		Pusher:       p,
		Tokens:       tokens,
		Workers:      2,
		PollInterval: 5 * time.Millisecond,
		MaxBackoff:   20 * time.Millisecond,
		PushTimeout:  100 * time.Millisecond,
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

func TestDispatcher_PushesToEveryDeviceAndAcks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q := NewMemoryQueue(MemoryQueueOptions{})
	devices := NewMemoryDevices()
	for _, tok := range []string{"dev-a", "dev-b"} {
		if err := devices.Register(ctx, Device{UserID: 3, Token: tok}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	pusher := &recordingPusher{}
	d := newTestDispatcher(t, q, devices, pusher, &countingTokens{})

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- d.Run(runCtx) }()

	// Wait for the group so the entry is not appended before it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, _, err := q.ReadNext(ctx, v1.NotificationsTopic, DefaultGroup, "probe"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("consumer group was never created")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := q.Enqueue(ctx, v1.NotificationsTopic, sampleRecord()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for len(pusher.snapshot()) < 2 || q.Pending(v1.NotificationsTopic, DefaultGroup) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("calls=%d pending=%d", len(pusher.snapshot()), q.Pending(v1.NotificationsTopic, DefaultGroup))
		}
		time.Sleep(5 * time.Millisecond)
	}

	stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatcher did not stop")
	}

	calls := pusher.snapshot()
	seen := map[string]bool{}
	for _, c := range calls {
		seen[c.n.DeviceToken] = true
		if c.token != "tok" || c.n.Body != "hello world" || c.n.Data["chat_id"] != "1" || c.n.Data["message_id"] != "11" {
			t.Fatalf("unexpected push: %+v", c)
		}
	}
	if !seen["dev-a"] || !seen["dev-b"] {
		t.Fatalf("both devices must be pushed: %+v", calls)
	}
}

func TestDispatcher_AcksOnFailureSkipAndPoison(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cases := []struct {
		name    string
		fields  map[string]string
		devices bool
		pusher  *recordingPusher
	}{
		{name: "push error", fields: sampleRecord(), devices: true, pusher: &recordingPusher{err: &StatusError{Code: 500}}},
		{name: "push timeout", fields: sampleRecord(), devices: true, pusher: &recordingPusher{block: true}},
		{name: "no devices", fields: sampleRecord(), pusher: &recordingPusher{}},
		{name: "invalid record", fields: map[string]string{"v": "0"}, devices: true, pusher: &recordingPusher{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			q := NewMemoryQueue(MemoryQueueOptions{})
			_ = q.CreateGroup(ctx, v1.NotificationsTopic, DefaultGroup)
			devices := NewMemoryDevices()
			if tc.devices {
				_ = devices.Register(ctx, Device{UserID: 3, Token: "dev"})
			}
			d := newTestDispatcher(t, q, devices, tc.pusher, nil)

			_, _ = q.Enqueue(ctx, v1.NotificationsTopic, tc.fields)
			w := d.newWorker(1)
			e, ok, err := q.ReadNext(ctx, v1.NotificationsTopic, DefaultGroup, w.name)
			if err != nil || !ok {
				t.Fatalf("read: ok=%v err=%v", ok, err)
			}

			start := time.Now()
			d.handle(ctx, w, e)
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Fatalf("handle took %v", elapsed)
			}
			if n := q.Pending(v1.NotificationsTopic, DefaultGroup); n != 0 {
				t.Fatalf("entry must be acknowledged, pending=%d", n)
			}
		})
	}
}

func TestDispatcher_ReplayDoesNotTouchLedger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	ledger := lights.NewInMemoryLedger()
	if _, err := ledger.Credit(ctx, 2, 1, 5); err != nil {
		t.Fatalf("seed credit: %v", err)
	}

	q := NewMemoryQueue(MemoryQueueOptions{})
	_ = q.CreateGroup(ctx, v1.NotificationsTopic, DefaultGroup)
	devices := NewMemoryDevices()
	_ = devices.Register(ctx, Device{UserID: 3, Token: "dev"})
	pusher := &recordingPusher{}
	d := newTestDispatcher(t, q, devices, pusher, nil)

	e := Entry{ID: "1-0", Fields: sampleRecord()}
	w := d.newWorker(1)
	d.handle(ctx, w, e)
	d.handle(ctx, w, e)

	if got := len(pusher.snapshot()); got != 2 {
		t.Fatalf("replayed entry pushes again (at-least-once), got %d pushes", got)
	}
	for _, user := range []int64{2, 3} {
		bal, err := ledger.BalanceOf(ctx, user, 1)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		want := 0
		if user == 2 {
			want = 5
		}
		if bal != want {
			t.Fatalf("user %d balance=%d want %d", user, bal, want)
		}
	}
	if n := len(ledger.Events(2, 1)); n != 1 {
		t.Fatalf("ledger events=%d want 1", n)
	}
}

func TestTokenCache_RefreshesAfterTTLAndKeepsStaleOnFailure(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	src := &countingTokens{}
	c := newTokenCache(src, time.Minute, clock.Now)

	for i := 0; i < 3; i++ {
		tok, err := c.Get()
		if err != nil || tok != "tok" {
			t.Fatalf("get: tok=%q err=%v", tok, err)
		}
	}
	if src.calls != 1 {
		t.Fatalf("token fetched %d times, want 1", src.calls)
	}

	clock.Advance(2 * time.Minute)
	src.err = errors.New("oauth down")
	tok, err := c.Get()
	if err == nil || tok != "tok" {
		t.Fatalf("expected stale token with error, got tok=%q err=%v", tok, err)
	}

	src.err = nil
	if tok, err := c.Get(); err != nil || tok != "tok" || src.calls != 3 {
		t.Fatalf("refresh retry: tok=%q err=%v calls=%d", tok, err, src.calls)
	}
}

func TestNewDispatcher_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := NewDispatcher(DispatcherOptions{}); err == nil {
		t.Fatalf("expected error without queue")
	}
	if _, err := NewDispatcher(DispatcherOptions{Queue: NewMemoryQueue(MemoryQueueOptions{}), Devices: NewMemoryDevices()}); err == nil {
		t.Fatalf("expected error without pusher")
	}
}
