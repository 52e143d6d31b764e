package lights

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AwardGate admits the first scoring attempt for a message and rejects the rest.
// Several sockets of the same author relay the same delivery; only one may credit.
type AwardGate interface {
	Acquire(ctx context.Context, messageID int64, ttl time.Duration) (bool, error)
	// Release forgets messageID so a later attempt may credit it again.
	Release(ctx context.Context, messageID int64) error
}

// MemoryGate is a process-local AwardGate.
type MemoryGate struct {
	mu      sync.Mutex
	now     func() time.Time
	seen    map[int64]time.Time
	nextGC  time.Time
	gcEvery time.Duration
}

// NewMemoryGate constructs an empty in-memory gate.
func NewMemoryGate() *MemoryGate {
	return &MemoryGate{
		now:     time.Now,
		seen:    make(map[int64]time.Time),
		gcEvery: time.Minute,
	}
}

func (g *MemoryGate) Acquire(ctx context.Context, messageID int64, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if now.After(g.nextGC) {
		for id, exp := range g.seen {
			if now.After(exp) {
				delete(g.seen, id)
			}
		}
		g.nextGC = now.Add(g.gcEvery)
	}

	if exp, ok := g.seen[messageID]; ok && now.Before(exp) {
		return false, nil
	}
	g.seen[messageID] = now.Add(ttl)
	return true, nil
}

func (g *MemoryGate) Release(_ context.Context, messageID int64) error {
	g.mu.Lock()
	delete(g.seen, messageID)
	g.mu.Unlock()
	return nil
}

// RedisGate is an AwardGate shared by every process through SETNX.
type RedisGate struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisGate constructs a gate storing keys as "<prefix><message_id>".
// An empty prefix defaults to "lights:award:".
func NewRedisGate(rdb redis.UniversalClient, prefix string) *RedisGate {
	if prefix == "" {
		prefix = "lights:award:"
	}
	return &RedisGate{rdb: rdb, prefix: prefix}
}

func (g *RedisGate) Acquire(ctx context.Context, messageID int64, ttl time.Duration) (bool, error) {
	return g.rdb.SetNX(ctx, g.prefix+strconv.FormatInt(messageID, 10), 1, ttl).Result()
}

func (g *RedisGate) Release(ctx context.Context, messageID int64) error {
	return g.rdb.Del(ctx, g.prefix+strconv.FormatInt(messageID, 10)).Err()
}
