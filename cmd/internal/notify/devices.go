package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Device is one push token registered for a user.
type Device struct {
	UserID int64  `json:"user_id"`
	Token  string `json:"token"`
}

// Validate checks the registration payload.
func (d Device) Validate() error {
	if d.UserID <= 0 {
		return errors.New("missing user_id")
	}
	if strings.TrimSpace(d.Token) == "" {
		return errors.New("missing token")
	}
	if len(d.Token) > 4096 {
		return errors.New("token too long")
	}
	return nil
}

// DeviceRegistry stores the set of push tokens per user. Registering a token twice is a no-op.
type DeviceRegistry interface {
	Register(ctx context.Context, d Device) error
	DevicesFor(ctx context.Context, userID int64) ([]Device, error)
}

type MemoryDevices struct {
	mu     sync.RWMutex
	tokens map[int64]map[string]struct{}
}

func NewMemoryDevices() *MemoryDevices {
	return &MemoryDevices{tokens: make(map[int64]map[string]struct{})}
}

func (r *MemoryDevices) Register(ctx context.Context, d Device) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.tokens[d.UserID]
	if !ok {
		set = make(map[string]struct{})
		r.tokens[d.UserID] = set
	}
	set[d.Token] = struct{}{}
	return nil
}

func (r *MemoryDevices) DevicesFor(ctx context.Context, userID int64) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.tokens[userID]
	out := make([]Device, 0, len(set))
	for tok := range set {
		out = append(out, Device{UserID: userID, Token: tok})
	}
	slices.SortFunc(out, func(a, b Device) int { return strings.Compare(a.Token, b.Token) })
	return out, nil
}

// RedisDevices keeps one set per user under "<prefix><user_id>tokens".
type RedisDevices struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisDevices(rdb redis.UniversalClient, prefix string) *RedisDevices {
	return &RedisDevices{rdb: rdb, prefix: prefix}
}

func (r *RedisDevices) key(userID int64) string {
	return r.prefix + strconv.FormatInt(userID, 10) + "tokens"
}

func (r *RedisDevices) Register(ctx context.Context, d Device) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := r.rdb.SAdd(ctx, r.key(d.UserID), d.Token).Err(); err != nil {
		return fmt.Errorf("sadd devices: %w", err)
	}
	return nil
}

func (r *RedisDevices) DevicesFor(ctx context.Context, userID int64) ([]Device, error) {
	tokens, err := r.rdb.SMembers(ctx, r.key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers devices: %w", err)
	}
	slices.Sort(tokens)
	out := make([]Device, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, Device{UserID: userID, Token: tok})
	}
	return out, nil
}
