package realtime

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	v1 "github.com/Aaliyah097/bochat/shared/contracts/chat/v1"
)

// Integration tests are enabled when BOCHAT_REDIS_URL is set.

func mustOpenTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("BOCHAT_REDIS_URL"))
	if raw == "" {
		t.Skip("integration test skipped: BOCHAT_REDIS_URL is not set")
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		t.Fatalf("parse BOCHAT_REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	return rdb
}

func testPrefix() string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return "bochat-it-" + hex.EncodeToString(b[:]) + ":"
}

func TestRedisBus_NoReplayAndOrder(t *testing.T) {
	t.Parallel()

	rdb := mustOpenTestRedis(t)
	bus, err := NewRedisBus(testLogger(), rdb, 16)
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	topic := testPrefix() + "chat:1"
	if err := bus.Publish(ctx, topic, []byte("before")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	sub, err := bus.Subscribe(ctx, topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	for _, p := range []string{"a", "b", "c"} {
		if err := bus.Publish(ctx, topic, []byte(p)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got, ok := recvWithin(t, sub, 5*time.Second)
		if !ok || string(got) != want {
			t.Fatalf("got %q (open=%v) want %q", got, ok, want)
		}
	}
}

func TestRedisPresence_SwapReturnsPrevious(t *testing.T) {
	t.Parallel()

	rdb := mustOpenTestRedis(t)
	prefix := testPrefix()
	p := NewRedisPresence(rdb, prefix)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	t.Cleanup(func() { _ = rdb.Del(context.Background(), prefix+"1").Err() })

	prev, err := p.Swap(ctx, 1, v1.Message{ID: 1, ChatID: 1, UserID: 2, Text: "first"})
	if err != nil || prev != nil {
		t.Fatalf("first swap: prev=%v err=%v", prev, err)
	}
	prev, err = p.Swap(ctx, 1, v1.Message{ID: 2, ChatID: 1, UserID: 3, Text: "second"})
	if err != nil || prev == nil || prev.ID != 1 {
		t.Fatalf("second swap: prev=%v err=%v", prev, err)
	}

	last, err := p.Last(ctx, 1, 404)
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if len(last) != 1 || last[1].ID != 2 {
		t.Fatalf("unexpected last: %+v", last)
	}
}
