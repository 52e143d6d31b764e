package realtime

import (
	"context"
	"sync"
	"time"

	v1 "github.com/Aaliyah097/bochat/shared/contracts/chat/v1"
)

const (
	memMaxMessages = 100_000
)

// InMemoryStore is a dev-only fallback when DB is not configured.
type InMemoryStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]v1.Message
	order  []int64
}

// NewInMemoryStore constructs an in-memory MessageStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[int64]v1.Message)}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) Add(ctx context.Context, m v1.Message) (v1.Message, error) {
	if err := ctx.Err(); err != nil {
		return v1.Message{}, err
	}
	if err := m.Validate(); err != nil {
		return v1.Message{}, ValidationError{Field: "message", Reason: err.Error()}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	m.ID = s.nextID
	s.byID[m.ID] = m
	s.order = append(s.order, m.ID)

	// Bound memory to avoid unbounded growth in dev.
	if len(s.order) > memMaxMessages+memMaxMessages/10 {
		drop := len(s.order) - memMaxMessages
		for _, id := range s.order[:drop] {
			delete(s.byID, id)
		}
		s.order = append([]int64(nil), s.order[drop:]...)
	}
	return m, nil
}

func (s *InMemoryStore) Get(ctx context.Context, id int64) (v1.Message, error) {
	if err := ctx.Err(); err != nil {
		return v1.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return v1.Message{}, ErrMessageNotFound
	}
	return m, nil
}
