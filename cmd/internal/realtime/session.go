package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Aaliyah097/bochat/cmd/internal/lights"
	"github.com/Aaliyah097/bochat/cmd/internal/metrics"
	v1 "github.com/Aaliyah097/bochat/shared/contracts/chat/v1"
)

// Enqueuer appends a record to a durable queue topic.
type Enqueuer interface {
	Enqueue(ctx context.Context, topic string, fields map[string]string) (string, error)
}

// Scorer awards points for a delivered message.
type Scorer interface {
	Score(ctx context.Context, sc lights.ScoringContext) (lights.Result, error)
}

// SessionDeps are the collaborators shared by every session.
// Queue and Scorer are optional.
type SessionDeps struct {
	Bus      FanoutBus
	Store    MessageStore
	Presence PresenceCache
	Queue    Enqueuer
	Scorer   Scorer

	BothOnlineWindow time.Duration
	Log              *slog.Logger
	Now              func() time.Time
}

func (d SessionDeps) validate() error {
	if d.Bus == nil || d.Store == nil || d.Presence == nil {
		return errors.New("realtime: session requires bus, store and presence")
	}
	return nil
}

// SessionParams is what the client declared at handshake.
type SessionParams struct {
	ChatID      int64
	UserID      int64
	RecipientID int64
	ReplyID     int64
	Tier        lights.Layer
}

// Session is the protocol handler for one client connection.
//
// Ingest handles client frames; Relay forwards bus deliveries to the client.
// Both write into the embedded Client's Send queue.
type Session struct {
	*Client

	p     SessionParams
	deps  SessionDeps
	log   *slog.Logger
	topic string
	sub   Subscription
}

// OpenSession subscribes to the chat topic. Deliveries published before this
// returns are never seen by the session.
func OpenSession(ctx context.Context, deps SessionDeps, p SessionParams, sessionID string, sendQueueSize int) (*Session, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if p.ChatID <= 0 || p.UserID <= 0 {
		return nil, ValidationError{Field: "handshake", Reason: "missing chat_id or user_id"}
	}
	if deps.Log == nil {
		deps.Log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.BothOnlineWindow <= 0 {
		deps.BothOnlineWindow = lights.DefaultBothOnlineWindow
	}

	topic := v1.ChatTopic(p.ChatID)
	sub, err := deps.Bus.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	return &Session{
		Client: NewClient(p.UserID, sessionID, sendQueueSize),
		p:      p,
		deps:   deps,
		log:    deps.Log.With("session_id", sessionID, "chat_id", p.ChatID, "user_id", p.UserID),
		topic:  topic,
		sub:    sub,
	}, nil
}

// Close releases the subscription and stops the client (idempotent).
func (s *Session) Close() {
	s.sub.Close()
	s.Client.Close()
}

// Ingest handles one client frame.
//
// Empty frames are dropped. "PING" is answered with "PONG". Anything else becomes a
// chat message that is persisted, swapped into the presence cache, published to the
// chat topic and queued for offline push. Validation failures return a ValidationError;
// the caller keeps the connection open.
func (s *Session) Ingest(ctx context.Context, frame []byte) error {
	text := string(frame)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if text == v1.FramePing {
		// A full queue is backpressure, not a closed transport: wait for the writer.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Done():
			return ErrTransportClosed
		case s.Send <- []byte(v1.FramePong):
			return nil
		}
	}

	now := s.deps.Now()
	msg := v1.Message{
		ChatID:      s.p.ChatID,
		UserID:      s.p.UserID,
		RecipientID: s.p.RecipientID,
		ReplyID:     s.p.ReplyID,
		Text:        text,
		CreatedAt:   now,
		SentAt:      now,
	}
	if err := msg.Validate(); err != nil {
		return ValidationError{Field: "message", Reason: err.Error()}
	}

	stored, err := s.deps.Store.Add(ctx, msg)
	if err != nil {
		return fmt.Errorf("store add: %w", err)
	}

	prev, err := s.deps.Presence.Swap(ctx, s.p.ChatID, stored)
	if err != nil {
		// Scoring degrades to "no previous message"; delivery must still happen.
		s.log.Warn("session.presence.swap.fail", "message_id", stored.ID, "err", err)
		prev = nil
	}

	payload, err := v1.EncodeDelivery(v1.Delivery{Message: stored, Previous: prev})
	if err != nil {
		return err
	}
	if err := s.publish(ctx, payload); err != nil {
		return fmt.Errorf("publish %s: %w", s.topic, err)
	}

	s.enqueueNotification(ctx, stored)

	metrics.WSMessages.Inc()
	metrics.WSBytesIn.Add(float64(len(frame)))
	return nil
}

func (s *Session) publish(ctx context.Context, payload []byte) error {
	var err error
	delay := publishRetryDelay
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		if err = s.deps.Bus.Publish(ctx, s.topic, payload); err == nil {
			return nil
		}
		if errors.Is(err, ErrBusClosed) || ctx.Err() != nil {
			return err
		}
		s.log.Warn("session.publish.retry", "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// enqueueNotification queues an offline push for the recipient. Messages without a
// recipient or addressed to the author are not queued.
func (s *Session) enqueueNotification(ctx context.Context, m v1.Message) {
	if s.deps.Queue == nil || m.RecipientID == 0 || m.RecipientID == m.UserID {
		return
	}
	id, err := s.deps.Queue.Enqueue(ctx, v1.NotificationsTopic, v1.RecordFromMessage(m).Fields())
	if err != nil {
		s.log.Warn("session.notify.enqueue.fail", "message_id", m.ID, "err", err)
		return
	}
	metrics.NotificationsEnqueued.Inc()
	s.log.Debug("session.notify.enqueued", "message_id", m.ID, "stream_id", id)
}

// Relay forwards chat deliveries to the client until ctx ends, the client closes,
// or the subscription ends. It returns the subscription's end reason when that
// ends first.
func (s *Session) Relay(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Done():
			return nil
		case payload, ok := <-s.sub.C():
			if !ok {
				if err := s.sub.Err(); err != nil {
					return err
				}
				return nil
			}

			start := time.Now()
			d, err := v1.DecodeDelivery(payload)
			if err != nil {
				s.log.Warn("session.relay.decode.fail", "err", err)
				continue
			}

			b, err := json.Marshal(s.buildPackage(ctx, d))
			if err != nil {
				s.log.Error("session.relay.encode.fail", "message_id", d.Message.ID, "err", err)
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.Done():
				return ErrTransportClosed
			case s.Send <- b:
			}
			metrics.ObserveProcessing(start)
		}
	}
}

// buildPackage scores the delivery when this session belongs to its author and
// resolves the replied-to message.
func (s *Session) buildPackage(ctx context.Context, d v1.Delivery) v1.Package {
	pkg := v1.Package{Message: d.Message}

	if s.deps.Scorer != nil && d.Message.UserID == s.p.UserID {
		sc := lights.NewScoringContext(d.Message, d.Previous, s.p.Tier, s.deps.BothOnlineWindow)
		res, err := s.deps.Scorer.Score(ctx, sc)
		switch {
		case err != nil:
			s.log.Warn("session.lights.score.fail", "message_id", d.Message.ID, "err", err)
		case !res.Duplicate:
			awarded, total := res.Awarded, res.Total
			pkg.PointsAwarded = &awarded
			pkg.PointsTotal = &total
		}
	}

	if d.Message.ReplyID > 0 {
		reply, err := s.deps.Store.Get(ctx, d.Message.ReplyID)
		switch {
		case err == nil:
			pkg.ReplyTo = &reply
		case errors.Is(err, ErrMessageNotFound):
		default:
			s.log.Warn("session.reply.lookup.fail", "reply_id", d.Message.ReplyID, "err", err)
		}
	}
	return pkg
}
