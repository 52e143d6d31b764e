package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	v1 "github.com/Aaliyah097/bochat/shared/contracts/chat/v1"
)

// PresenceCache remembers the most recently published message per chat.
//
// Swap stores m and returns the message it replaced in a single atomic step,
// so concurrent publishers to one chat each observe a distinct predecessor.
type PresenceCache interface {
	Swap(ctx context.Context, chatID int64, m v1.Message) (*v1.Message, error)
	Last(ctx context.Context, chatIDs ...int64) (map[int64]v1.Message, error)
}

// MemoryPresence is a process-local PresenceCache.
type MemoryPresence struct {
	mu   sync.Mutex
	last map[int64]v1.Message
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{last: make(map[int64]v1.Message)}
}

func (p *MemoryPresence) Swap(ctx context.Context, chatID int64, m v1.Message) (*v1.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	prev, ok := p.last[chatID]
	p.last[chatID] = m
	if !ok {
		return nil, nil
	}
	return &prev, nil
}

func (p *MemoryPresence) Last(ctx context.Context, chatIDs ...int64) (map[int64]v1.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[int64]v1.Message, len(chatIDs))
	for _, id := range chatIDs {
		if m, ok := p.last[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

// RedisPresence keeps the last message per chat under "<prefix><chat_id>".
// Swap uses SET .. GET, which replaces and returns the old value atomically.
type RedisPresence struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisPresence constructs a RedisPresence. An empty prefix defaults to "chat:last:".
func NewRedisPresence(rdb redis.UniversalClient, prefix string) *RedisPresence {
	if prefix == "" {
		prefix = "chat:last:"
	}
	return &RedisPresence{rdb: rdb, prefix: prefix}
}

func (p *RedisPresence) key(chatID int64) string {
	return p.prefix + strconv.FormatInt(chatID, 10)
}

func (p *RedisPresence) Swap(ctx context.Context, chatID int64, m v1.Message) (*v1.Message, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	old, err := p.rdb.SetArgs(ctx, p.key(chatID), b, redis.SetArgs{Get: true}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("presence swap: %w", err)
	}

	var prev v1.Message
	if err := json.Unmarshal([]byte(old), &prev); err != nil {
		// A corrupt entry is treated as absent; the new value is already stored.
		return nil, nil
	}
	return &prev, nil
}

func (p *RedisPresence) Last(ctx context.Context, chatIDs ...int64) (map[int64]v1.Message, error) {
	out := make(map[int64]v1.Message, len(chatIDs))
	if len(chatIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(chatIDs))
	for i, id := range chatIDs {
		keys[i] = p.key(id)
	}
	vals, err := p.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("presence mget: %w", err)
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var m v1.Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			continue
		}
		out[chatIDs[i]] = m
	}
	return out, nil
}
