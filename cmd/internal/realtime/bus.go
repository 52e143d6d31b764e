package realtime

import "context"

// FanoutBus is topic-based publish/subscribe with at-most-once delivery.
//
// Requirements:
//   - A subscription only sees payloads published after Subscribe returns (no replay)
//   - Per topic, a subscriber receives payloads in publish order
//   - Publish never blocks on a slow subscriber; an overflowing subscriber is evicted
type FanoutBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

// Subscription is a live stream of payloads for one topic.
//
// C is closed when the subscription ends; Err then reports why
// (nil after Close, ErrSubscriberEvicted or ErrBusClosed otherwise).
type Subscription interface {
	C() <-chan []byte
	Err() error
	Close()
}
