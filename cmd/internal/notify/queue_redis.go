package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on Redis streams: one stream per topic,
// XREADGROUP for new entries and XAUTOCLAIM for idle pending ones.
type RedisQueue struct {
	rdb     redis.UniversalClient
	maxLen  int64
	minIdle time.Duration
}

// NewRedisQueue constructs a RedisQueue. Non-positive limits select the defaults.
func NewRedisQueue(rdb redis.UniversalClient, maxLen int64, claimMinIdle time.Duration) (*RedisQueue, error) {
	if rdb == nil {
		return nil, errors.New("notify: nil redis client")
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if claimMinIdle <= 0 {
		claimMinIdle = DefaultClaimMinIdle
	}
	return &RedisQueue{rdb: rdb, maxLen: maxLen, minIdle: claimMinIdle}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, topic string, fields map[string]string) (string, error) {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: q.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", topic, err)
	}
	return id, nil
}

func (q *RedisQueue) CreateGroup(ctx context.Context, topic, group string) error {
	err := q.rdb.XGroupCreateMkStream(ctx, topic, group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create %s/%s: %w", topic, group, err)
	}
	return nil
}

func (q *RedisQueue) ReadNext(ctx context.Context, topic, group, consumer string) (Entry, bool, error) {
	claimed, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   topic,
		Group:    group,
		Consumer: consumer,
		MinIdle:  q.minIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Entry{}, false, q.mapErr(topic, group, err)
	}
	for _, m := range claimed {
		if m.Values == nil {
			// Trimmed while pending; nothing left to deliver.
			_ = q.rdb.XAck(ctx, topic, group, m.ID).Err()
			continue
		}
		return toEntry(m), true, nil
	}

	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{topic, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, q.mapErr(topic, group, err)
	}
	for _, s := range streams {
		for _, m := range s.Messages {
			return toEntry(m), true, nil
		}
	}
	return Entry{}, false, nil
}

func (q *RedisQueue) Ack(ctx context.Context, topic, group, id string) error {
	if err := q.rdb.XAck(ctx, topic, group, id).Err(); err != nil {
		return q.mapErr(topic, group, err)
	}
	return nil
}

func (q *RedisQueue) mapErr(topic, group string, err error) error {
	if strings.HasPrefix(err.Error(), "NOGROUP") {
		return fmt.Errorf("%w: %s/%s", ErrNoGroup, topic, group)
	}
	return fmt.Errorf("stream %s/%s: %w", topic, group, err)
}

func toEntry(m redis.XMessage) Entry {
	fields := make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		switch s := v.(type) {
		case string:
			fields[k] = s
		default:
			fields[k] = fmt.Sprint(s)
		}
	}
	return Entry{ID: m.ID, Fields: fields}
}
