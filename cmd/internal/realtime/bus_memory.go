package realtime

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/Aaliyah097/bochat/cmd/internal/metrics"
)

const defaultSubscriberBuffer = 64

// MemoryBus is an in-process FanoutBus.
//
// Concurrency guarantees:
//   - Publish holds the read lock and only performs non-blocking sends.
//   - Subscriber channels are closed under the write lock, so a close never races a send.
//   - Topics with no subscribers are freed.
type MemoryBus struct {
	log    *slog.Logger
	buffer int

	mu     sync.RWMutex
	topics map[string]map[*memSub]struct{}
	closed bool
}

// NewMemoryBus constructs a MemoryBus with the given per-subscriber buffer.
func NewMemoryBus(log *slog.Logger, buffer int) *MemoryBus {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &MemoryBus{
		log:    log,
		buffer: buffer,
		topics: make(map[string]map[*memSub]struct{}),
	}
}

type memSub struct {
	bus   *MemoryBus
	topic string
	ch    chan []byte

	// guarded by bus.mu
	done bool
	err  error
}

func (s *memSub) C() <-chan []byte { return s.ch }

func (s *memSub) Err() error {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	return s.err
}

// Close unsubscribes (idempotent).
func (s *memSub) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.bus.removeLocked(s, nil)
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	s := &memSub{bus: b, topic: topic, ch: make(chan []byte, b.buffer)}
	subs := b.topics[topic]
	if subs == nil {
		subs = make(map[*memSub]struct{})
		b.topics[topic] = subs
	}
	subs[s] = struct{}{}
	return s, nil
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var evicted []*memSub

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	for s := range b.topics[topic] {
		select {
		case s.ch <- payload:
		default:
			evicted = append(evicted, s)
		}
	}
	b.mu.RUnlock()

	if len(evicted) == 0 {
		return nil
	}

	b.mu.Lock()
	for _, s := range evicted {
		if b.removeLocked(s, ErrSubscriberEvicted) {
			metrics.BusEvictions.Inc()
			b.log.Warn("bus.subscriber.evicted", "topic", topic, "buffer", b.buffer)
		}
	}
	b.mu.Unlock()
	return nil
}

// Close ends every subscription with ErrBusClosed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.topics {
		for s := range subs {
			b.removeLocked(s, ErrBusClosed)
		}
	}
	return nil
}

// Topics returns the number of topics with at least one subscriber.
func (b *MemoryBus) Topics() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}

func (b *MemoryBus) removeLocked(s *memSub, reason error) bool {
	if s.done {
		return false
	}
	s.done = true
	s.err = reason
	close(s.ch)

	if subs := b.topics[s.topic]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(b.topics, s.topic)
		}
	}
	return true
}
