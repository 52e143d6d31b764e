package notify

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryQueueOptions configures a MemoryQueue. Zero values select the defaults.
type MemoryQueueOptions struct {
	MaxLen       int
	ClaimMinIdle time.Duration
	Now          func() time.Time
}

// MemoryQueue is a process-local Queue with the same delivery rules as the Redis
// stream implementation. Trimming is exact.
type MemoryQueue struct {
	mu      sync.Mutex
	maxLen  int
	minIdle time.Duration
	now     func() time.Time
	topics  map[string]*memTopic
}

type memTopic struct {
	seq     uint64
	entries []memEntry
	groups  map[string]*memGroup
}

type memEntry struct {
	seq    uint64
	fields map[string]string
}

type memGroup struct {
	cursor  uint64
	pending map[uint64]*memPending
}

type memPending struct {
	consumer    string
	deliveredAt time.Time
	deliveries  int
}

func NewMemoryQueue(opts MemoryQueueOptions) *MemoryQueue {
	if opts.MaxLen <= 0 {
		opts.MaxLen = DefaultMaxLen
	}
	if opts.ClaimMinIdle <= 0 {
		opts.ClaimMinIdle = DefaultClaimMinIdle
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &MemoryQueue{
		maxLen:  opts.MaxLen,
		minIdle: opts.ClaimMinIdle,
		now:     opts.Now,
		topics:  make(map[string]*memTopic),
	}
}

func (q *MemoryQueue) topicLocked(name string) *memTopic {
	t, ok := q.topics[name]
	if !ok {
		t = &memTopic{groups: make(map[string]*memGroup)}
		q.topics[name] = t
	}
	return t
}

func (q *MemoryQueue) Enqueue(ctx context.Context, topic string, fields map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if topic == "" {
		return "", errors.New("notify: empty topic")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	t := q.topicLocked(topic)
	t.seq++
	t.entries = append(t.entries, memEntry{seq: t.seq, fields: maps.Clone(fields)})
	if over := len(t.entries) - q.maxLen; over > 0 {
		// Reslicing is O(1); append copies only the retained window once the
		// backing array is full.
		clear(t.entries[:over])
		t.entries = t.entries[over:]
	}
	return formatSeq(t.seq), nil
}

func (q *MemoryQueue) CreateGroup(ctx context.Context, topic, group string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if topic == "" || group == "" {
		return errors.New("notify: empty topic or group")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	t := q.topicLocked(topic)
	if _, ok := t.groups[group]; ok {
		return nil
	}
	t.groups[group] = &memGroup{cursor: t.seq, pending: make(map[uint64]*memPending)}
	return nil
}

func (q *MemoryQueue) ReadNext(ctx context.Context, topic, group, consumer string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.topics[topic]
	if !ok {
		return Entry{}, false, fmt.Errorf("%w: %s/%s", ErrNoGroup, topic, group)
	}
	g, ok := t.groups[group]
	if !ok {
		return Entry{}, false, fmt.Errorf("%w: %s/%s", ErrNoGroup, topic, group)
	}
	now := q.now()

	// Reclaim the oldest idle pending entry first.
	var (
		claim    uint64
		claimOK  bool
		earliest = firstSeq(t)
	)
	for seq, p := range g.pending {
		if seq < earliest {
			delete(g.pending, seq) // trimmed away
			continue
		}
		if now.Sub(p.deliveredAt) < q.minIdle {
			continue
		}
		if !claimOK || seq < claim {
			claim, claimOK = seq, true
		}
	}
	if claimOK {
		if e, found := t.lookup(claim); found {
			p := g.pending[claim]
			p.consumer = consumer
			p.deliveredAt = now
			p.deliveries++
			return e, true, nil
		}
	}

	next := max(g.cursor+1, earliest)
	e, found := t.lookup(next)
	if !found {
		return Entry{}, false, nil
	}
	g.cursor = next
	g.pending[next] = &memPending{consumer: consumer, deliveredAt: now, deliveries: 1}
	return e, true, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, topic, group, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seq, err := parseSeq(id)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.topics[topic]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNoGroup, topic, group)
	}
	g, ok := t.groups[group]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNoGroup, topic, group)
	}
	delete(g.pending, seq)
	return nil
}

// Len returns the number of retained entries of a topic.
func (q *MemoryQueue) Len(topic string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.topics[topic]; ok {
		return len(t.entries)
	}
	return 0
}

// Pending returns the number of delivered but unacknowledged entries of a group.
func (q *MemoryQueue) Pending(topic, group string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.topics[topic]; ok {
		if g, ok := t.groups[group]; ok {
			return len(g.pending)
		}
	}
	return 0
}

// lookup relies on retained entries holding consecutive sequence numbers.
func (t *memTopic) lookup(seq uint64) (Entry, bool) {
	if len(t.entries) == 0 || seq < t.entries[0].seq {
		return Entry{}, false
	}
	i := seq - t.entries[0].seq
	if i >= uint64(len(t.entries)) {
		return Entry{}, false
	}
	e := t.entries[i]
	return Entry{ID: formatSeq(e.seq), Fields: maps.Clone(e.fields)}, true
}

func firstSeq(t *memTopic) uint64 {
	if len(t.entries) == 0 {
		return t.seq + 1
	}
	return t.entries[0].seq
}

// Ids mimic the stream id format "<ms>-<seq>" so both queues look alike in logs.
func formatSeq(seq uint64) string {
	return strconv.FormatUint(seq, 10) + "-0"
}

func parseSeq(id string) (uint64, error) {
	head, _, _ := strings.Cut(id, "-")
	seq, err := strconv.ParseUint(head, 10, 64)
	if err != nil || seq == 0 {
		return 0, fmt.Errorf("notify: bad entry id %q", id)
	}
	return seq, nil
}
