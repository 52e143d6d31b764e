package realtime

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Aaliyah097/bochat/cmd/internal/metrics"
)

// RedisBus is a FanoutBus over Redis PUBLISH/SUBSCRIBE, shared by every process.
//
// Each Subscribe opens its own PubSub connection; a forwarding goroutine copies
// messages into a bounded channel and evicts the subscriber when it overflows.
type RedisBus struct {
	log    *slog.Logger
	rdb    redis.UniversalClient
	buffer int

	mu     sync.Mutex
	subs   map[*redisSub]struct{}
	closed bool
}

// NewRedisBus constructs a RedisBus. The client is owned by the caller.
func NewRedisBus(log *slog.Logger, rdb redis.UniversalClient, buffer int) (*RedisBus, error) {
	if rdb == nil {
		return nil, errors.New("realtime: nil redis client")
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &RedisBus{
		log:    log,
		rdb:    rdb,
		buffer: buffer,
		subs:   make(map[*redisSub]struct{}),
	}, nil
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBusClosed
	}
	return b.rdb.Publish(ctx, topic, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.mu.Unlock()

	ps := b.rdb.Subscribe(ctx, topic)
	// Wait for the subscribe confirmation so nothing published after return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	s := &redisSub{
		bus:   b,
		topic: topic,
		ps:    ps,
		ch:    make(chan []byte, b.buffer),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ps.Close()
		return nil, ErrBusClosed
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.forward(ps.Channel(redis.WithChannelSize(b.buffer)))
	return s, nil
}

// Close ends every subscription with ErrBusClosed. The redis client is not closed.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*redisSub, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.end(ErrBusClosed)
	}
	return nil
}

type redisSub struct {
	bus   *RedisBus
	topic string
	ps    *redis.PubSub
	ch    chan []byte

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu  sync.Mutex
	err error
}

func (s *redisSub) C() <-chan []byte { return s.ch }

func (s *redisSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unsubscribes (idempotent) and waits for the forwarder to exit.
func (s *redisSub) Close() {
	s.end(nil)
	<-s.done
}

func (s *redisSub) end(reason error) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.err = reason
		s.mu.Unlock()
		close(s.stop)
		_ = s.ps.Close()
	})
}

// forward is the only sender on s.ch and closes it on exit.
func (s *redisSub) forward(in <-chan *redis.Message) {
	defer func() {
		close(s.ch)
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.done)
	}()

	for {
		select {
		case <-s.stop:
			return
		case m, ok := <-in:
			if !ok {
				s.end(ErrBusClosed)
				return
			}
			select {
			case s.ch <- []byte(m.Payload):
			default:
				metrics.BusEvictions.Inc()
				s.bus.log.Warn("bus.subscriber.evicted", "topic", s.topic, "buffer", s.bus.buffer)
				s.end(ErrSubscriberEvicted)
				return
			}
		}
	}
}
