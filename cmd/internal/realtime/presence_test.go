package realtime

import (
	"context"
	"testing"
	"time"

	v1 "github.com/Aaliyah097/bochat/shared/contracts/chat/v1"
)

func TestMemoryPresence_SwapChain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := NewMemoryPresence()

	prev, err := p.Swap(ctx, 1, v1.Message{ID: 1, ChatID: 1, UserID: 2, Text: "a"})
	if err != nil || prev != nil {
		t.Fatalf("first swap: prev=%v err=%v", prev, err)
	}
	for id := int64(2); id <= 4; id++ {
		prev, err = p.Swap(ctx, 1, v1.Message{ID: id, ChatID: 1, UserID: 2, Text: "x"})
		if err != nil {
			t.Fatalf("swap: %v", err)
		}
		if prev == nil || prev.ID != id-1 {
			t.Fatalf("swap %d returned %+v", id, prev)
		}
	}

	if _, err := p.Swap(ctx, 2, v1.Message{ID: 10, ChatID: 2, UserID: 3, Text: "other"}); err != nil {
		t.Fatalf("swap other chat: %v", err)
	}

	last, err := p.Last(ctx, 1, 2, 3)
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if len(last) != 2 || last[1].ID != 4 || last[2].ID != 10 {
		t.Fatalf("unexpected last: %+v", last)
	}
}

func TestFrameLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	l := newFrameLimiter(3, time.Second)
	t0 := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		if !l.Allow(t0.Add(time.Duration(i) * 100 * time.Millisecond)) {
			t.Fatalf("frame %d should be admitted", i)
		}
	}
	if l.Allow(t0.Add(500 * time.Millisecond)) {
		t.Fatalf("fourth frame inside the window must be rejected")
	}
	if !l.Allow(t0.Add(time.Second)) {
		t.Fatalf("frame after the oldest left the window must be admitted")
	}
	if l.Allow(t0.Add(time.Second + 50*time.Millisecond)) {
		t.Fatalf("window is full again")
	}
}
