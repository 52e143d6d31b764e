package notify

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryQueue_UnackedEntryIsRedelivered(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	q := NewMemoryQueue(MemoryQueueOptions{ClaimMinIdle: 30 * time.Second, Now: clock.Now})

	if err := q.CreateGroup(ctx, "n", "g"); err != nil {
		t.Fatalf("create group: %v", err)
	}
	id, err := q.Enqueue(ctx, "n", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	e, ok, err := q.ReadNext(ctx, "n", "g", "c1")
	if err != nil || !ok || e.ID != id {
		t.Fatalf("first read: e=%+v ok=%v err=%v", e, ok, err)
	}

	// Still owned by c1 until it has been idle long enough.
	if _, ok, _ := q.ReadNext(ctx, "n", "g", "c2"); ok {
		t.Fatalf("entry must not be reclaimed before the idle interval")
	}

	clock.Advance(31 * time.Second)
	e, ok, err = q.ReadNext(ctx, "n", "g", "c2")
	if err != nil || !ok || e.ID != id || e.Fields["k"] != "v" {
		t.Fatalf("reclaim: e=%+v ok=%v err=%v", e, ok, err)
	}
}

func TestMemoryQueue_AckedEntryIsNeverRedelivered(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	q := NewMemoryQueue(MemoryQueueOptions{ClaimMinIdle: time.Second, Now: clock.Now})

	_ = q.CreateGroup(ctx, "n", "g")
	_, _ = q.Enqueue(ctx, "n", map[string]string{"k": "1"})

	e, ok, err := q.ReadNext(ctx, "n", "g", "c1")
	if err != nil || !ok {
		t.Fatalf("read: ok=%v err=%v", ok, err)
	}
	if err := q.Ack(ctx, "n", "g", e.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}

	clock.Advance(time.Hour)
	for _, c := range []string{"c1", "c2", "c3"} {
		if e, ok, err := q.ReadNext(ctx, "n", "g", c); ok || err != nil {
			t.Fatalf("acked entry redelivered to %s: %+v err=%v", c, e, err)
		}
	}
	if q.Pending("n", "g") != 0 {
		t.Fatalf("pending list must be empty")
	}
}

func TestMemoryQueue_CreateGroupIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue(MemoryQueueOptions{})

	if err := q.CreateGroup(ctx, "n", "g"); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, _ = q.Enqueue(ctx, "n", map[string]string{"k": "1"})
	if err := q.CreateGroup(ctx, "n", "g"); err != nil {
		t.Fatalf("second create must succeed: %v", err)
	}

	// Re-creating must not move the group's cursor past the unread entry.
	if _, ok, err := q.ReadNext(ctx, "n", "g", "c1"); !ok || err != nil {
		t.Fatalf("entry lost after re-create: ok=%v err=%v", ok, err)
	}
}

func TestMemoryQueue_NewGroupStartsAtTail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue(MemoryQueueOptions{})

	_, _ = q.Enqueue(ctx, "n", map[string]string{"k": "old"})
	_ = q.CreateGroup(ctx, "n", "g")
	_, _ = q.Enqueue(ctx, "n", map[string]string{"k": "new"})

	e, ok, _ := q.ReadNext(ctx, "n", "g", "c1")
	if !ok || e.Fields["k"] != "new" {
		t.Fatalf("expected only the entry appended after group creation, got %+v ok=%v", e, ok)
	}
	if _, ok, _ := q.ReadNext(ctx, "n", "g", "c1"); ok {
		t.Fatalf("unexpected second entry")
	}
}

func TestMemoryQueue_TrimsToBound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue(MemoryQueueOptions{MaxLen: 3})
	_ = q.CreateGroup(ctx, "n", "g")

	var last string
	for i := 1; i <= 5; i++ {
		id, err := q.Enqueue(ctx, "n", map[string]string{"i": strconv.Itoa(i)})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if id <= last && len(id) <= len(last) {
			t.Fatalf("ids must increase: %q after %q", id, last)
		}
		last = id
	}
	if got := q.Len("n"); got != 3 {
		t.Fatalf("len=%d want 3", got)
	}

	e, ok, _ := q.ReadNext(ctx, "n", "g", "c1")
	if !ok || e.Fields["i"] != "3" {
		t.Fatalf("oldest retained entry should be 3, got %+v", e)
	}
}

func TestMemoryQueue_SustainedEnqueueAtCapacity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue(MemoryQueueOptions{MaxLen: 4})
	_ = q.CreateGroup(ctx, "n", "g")

	for i := 1; i <= 1000; i++ {
		if _, err := q.Enqueue(ctx, "n", map[string]string{"i": strconv.Itoa(i)}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		if i%3 != 0 {
			continue
		}
		e, ok, err := q.ReadNext(ctx, "n", "g", "c1")
		if err != nil || !ok {
			t.Fatalf("read at %d: ok=%v err=%v", i, ok, err)
		}
		if err := q.Ack(ctx, "n", "g", e.ID); err != nil {
			t.Fatalf("ack: %v", err)
		}
	}
	if got := q.Len("n"); got != 4 {
		t.Fatalf("len=%d want 4", got)
	}

	// The reader lags behind the writer, so it resumes at the oldest retained entry.
	for want := 997; want <= 1000; want++ {
		e, ok, _ := q.ReadNext(ctx, "n", "g", "c1")
		if !ok || e.Fields["i"] != strconv.Itoa(want) {
			t.Fatalf("want entry %d, got %+v ok=%v", want, e, ok)
		}
	}
	if _, ok, _ := q.ReadNext(ctx, "n", "g", "c1"); ok {
		t.Fatalf("queue should be drained")
	}
}

func TestMemoryQueue_TrimmedPendingIsDropped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	q := NewMemoryQueue(MemoryQueueOptions{MaxLen: 1, ClaimMinIdle: time.Second, Now: clock.Now})
	_ = q.CreateGroup(ctx, "n", "g")

	_, _ = q.Enqueue(ctx, "n", map[string]string{"i": "1"})
	if _, ok, _ := q.ReadNext(ctx, "n", "g", "c1"); !ok {
		t.Fatalf("expected first entry")
	}
	_, _ = q.Enqueue(ctx, "n", map[string]string{"i": "2"})

	clock.Advance(time.Minute)
	e, ok, _ := q.ReadNext(ctx, "n", "g", "c2")
	if !ok || e.Fields["i"] != "2" {
		t.Fatalf("expected entry 2, got %+v ok=%v", e, ok)
	}
	if q.Pending("n", "g") != 1 {
		t.Fatalf("trimmed pending entry must be forgotten")
	}
}

func TestMemoryQueue_MissingGroup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewMemoryQueue(MemoryQueueOptions{})

	if _, _, err := q.ReadNext(ctx, "n", "g", "c1"); !errors.Is(err, ErrNoGroup) {
		t.Fatalf("expected ErrNoGroup, got %v", err)
	}
	_, _ = q.Enqueue(ctx, "n", map[string]string{})
	if _, _, err := q.ReadNext(ctx, "n", "g", "c1"); !errors.Is(err, ErrNoGroup) {
		t.Fatalf("expected ErrNoGroup for unknown group, got %v", err)
	}
	if err := q.Ack(ctx, "n", "g", "1-0"); !errors.Is(err, ErrNoGroup) {
		t.Fatalf("expected ErrNoGroup on ack, got %v", err)
	}
}
