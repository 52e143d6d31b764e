// Package v1 defines the bochat wire contract: the message shape relayed to clients,
// the payload carried over the fanout bus, and the fixed-field notification queue record.
//
// This package is intentionally stable and dependency-light.
// Producers and consumers on both sides of the bus and the queue share it so that
// field drift between versions shows up as a decode error, not as silent data loss.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Version is embedded into every queue record.
const Version = "1"

// Control frames exchanged on the chat socket.
const (
	FramePing = "PING"
	FramePong = "PONG"
)

// Topic names.
const (
	// NotificationsTopic is the fixed queue topic drained by the notification dispatcher.
	NotificationsTopic = "notifications"

	chatTopicPrefix = "chat:"
)

// MaxTextChars bounds message text length (runes).
const MaxTextChars = 4000

// ChatTopic returns the fanout topic for a chat.
func ChatTopic(chatID int64) string {
	return fmt.Sprintf("%s%d", chatTopicPrefix, chatID)
}

// Message is the canonical chat message.
//
// ID and CreatedAt are assigned by the message store on persist.
// Only Text (edit) and the IsRead/IsHidden flags change after creation.
type Message struct {
	ID          int64     `json:"id,omitempty"`
	ChatID      int64     `json:"chat_id"`
	UserID      int64     `json:"user_id"`
	RecipientID int64     `json:"recipient_id,omitempty"`
	Text        string    `json:"text"`
	ReplyID     int64     `json:"reply_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	SentAt      time.Time `json:"sent_at"`
	IsEdited    bool      `json:"is_edited"`
	IsRead      bool      `json:"is_read"`
	IsHidden    bool      `json:"is_hidden"`
}

// Validate checks the invariants a message must satisfy before it is persisted.
func (m Message) Validate() error {
	if m.ChatID <= 0 {
		return errors.New("missing chat_id")
	}
	if m.UserID <= 0 {
		return errors.New("missing user_id")
	}
	if m.RecipientID < 0 || m.ReplyID < 0 {
		return errors.New("negative id")
	}
	if strings.TrimSpace(m.Text) == "" {
		return errors.New("empty text")
	}
	if !utf8.ValidString(m.Text) {
		return errors.New("text is not valid utf-8")
	}
	if utf8.RuneCountInString(m.Text) > MaxTextChars {
		return fmt.Errorf("text too long: max=%d chars", MaxTextChars)
	}
	return nil
}

// Package is what a session writes to its client for every delivered message.
type Package struct {
	Message       Message  `json:"message"`
	PointsAwarded *int     `json:"points_awarded,omitempty"`
	PointsTotal   *int     `json:"points_total,omitempty"`
	ReplyTo       *Message `json:"reply_to,omitempty"`
}

// Delivery is the fanout bus payload.
//
// Previous is the chat's last message as observed at publish time (nil for the first
// message in a chat). Relays score against it rather than re-reading the presence cache,
// which may already hold a later message.
type Delivery struct {
	Message  Message  `json:"message"`
	Previous *Message `json:"previous,omitempty"`
}

// EncodeDelivery serializes a delivery for the bus.
func EncodeDelivery(d Delivery) ([]byte, error) {
	return json.Marshal(d)
}

// DecodeDelivery parses a bus payload.
func DecodeDelivery(b []byte) (Delivery, error) {
	var d Delivery
	if err := json.Unmarshal(b, &d); err != nil {
		return Delivery{}, fmt.Errorf("decode delivery: %w", err)
	}
	if d.Message.ChatID <= 0 || d.Message.UserID <= 0 {
		return Delivery{}, errors.New("decode delivery: missing chat_id or user_id")
	}
	return d, nil
}
