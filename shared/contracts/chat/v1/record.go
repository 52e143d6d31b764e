package v1

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrInvalidRecord is returned when queue fields do not match the record schema.
var ErrInvalidRecord = errors.New("invalid notification record")

// Record field names (wire-stable).
const (
	FieldVersion     = "v"
	FieldMessageID   = "message_id"
	FieldChatID      = "chat_id"
	FieldUserID      = "user_id"
	FieldRecipientID = "recipient_id"
	FieldText        = "text"
	FieldCreatedAt   = "created_at"
)

// NotificationRecord is the queue schema for an offline push.
type NotificationRecord struct {
	MessageID   int64
	ChatID      int64
	UserID      int64
	RecipientID int64
	Text        string
	CreatedAt   time.Time
}

// RecordFromMessage projects a persisted message onto the queue schema.
func RecordFromMessage(m Message) NotificationRecord {
	return NotificationRecord{
		MessageID:   m.ID,
		ChatID:      m.ChatID,
		UserID:      m.UserID,
		RecipientID: m.RecipientID,
		Text:        m.Text,
		CreatedAt:   m.CreatedAt,
	}
}

// Fields encodes the record into its fixed field list.
func (r NotificationRecord) Fields() map[string]string {
	return map[string]string{
		FieldVersion:     Version,
		FieldMessageID:   strconv.FormatInt(r.MessageID, 10),
		FieldChatID:      strconv.FormatInt(r.ChatID, 10),
		FieldUserID:      strconv.FormatInt(r.UserID, 10),
		FieldRecipientID: strconv.FormatInt(r.RecipientID, 10),
		FieldText:        r.Text,
		FieldCreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// DecodeNotificationRecord parses queue fields. Unknown fields are ignored,
// missing or malformed required fields are an error.
func DecodeNotificationRecord(f map[string]string) (NotificationRecord, error) {
	if v := f[FieldVersion]; v != Version {
		return NotificationRecord{}, fmt.Errorf("%w: version %q", ErrInvalidRecord, v)
	}

	var (
		r   NotificationRecord
		err error
	)
	if r.MessageID, err = parseID(f, FieldMessageID); err != nil {
		return NotificationRecord{}, err
	}
	if r.ChatID, err = parseID(f, FieldChatID); err != nil {
		return NotificationRecord{}, err
	}
	if r.UserID, err = parseID(f, FieldUserID); err != nil {
		return NotificationRecord{}, err
	}
	if r.RecipientID, err = parseID(f, FieldRecipientID); err != nil {
		return NotificationRecord{}, err
	}

	text, ok := f[FieldText]
	if !ok {
		return NotificationRecord{}, fmt.Errorf("%w: missing %s", ErrInvalidRecord, FieldText)
	}
	r.Text = text

	if raw := f[FieldCreatedAt]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return NotificationRecord{}, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, FieldCreatedAt, err)
		}
		r.CreatedAt = ts
	}
	return r, nil
}

func parseID(f map[string]string, key string) (int64, error) {
	raw, ok := f[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidRecord, key)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidRecord, key, raw)
	}
	return n, nil
}
