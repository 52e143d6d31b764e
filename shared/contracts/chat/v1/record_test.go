package v1

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeNotificationRecord_RejectsSchemaDrift(t *testing.T) {
	t.Parallel()

	good := NotificationRecord{
		MessageID:   7,
		ChatID:      1,
		UserID:      2,
		RecipientID: 3,
		Text:        "hello",
		CreatedAt:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}.Fields()

	cases := []struct {
		name   string
		mutate func(map[string]string)
	}{
		{name: "wrong version", mutate: func(f map[string]string) { f[FieldVersion] = "0" }},
		{name: "missing chat", mutate: func(f map[string]string) { delete(f, FieldChatID) }},
		{name: "non numeric user", mutate: func(f map[string]string) { f[FieldUserID] = "abc" }},
		{name: "missing text", mutate: func(f map[string]string) { delete(f, FieldText) }},
		{name: "bad timestamp", mutate: func(f map[string]string) { f[FieldCreatedAt] = "yesterday" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := make(map[string]string, len(good))
			for k, v := range good {
				f[k] = v
			}
			tc.mutate(f)

			_, err := DecodeNotificationRecord(f)
			if !errors.Is(err, ErrInvalidRecord) {
				t.Fatalf("expected ErrInvalidRecord, got %v", err)
			}
		})
	}
}

func TestDecodeNotificationRecord_IgnoresUnknownFields(t *testing.T) {
	t.Parallel()

	f := RecordFromMessage(Message{ID: 9, ChatID: 4, UserID: 5, RecipientID: 6, Text: "hi"}).Fields()
	f["future_field"] = "x"

	r, err := DecodeNotificationRecord(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.MessageID != 9 || r.RecipientID != 6 || r.Text != "hi" {
		t.Fatalf("unexpected record: %+v", r)
	}
}

func TestMessageValidate(t *testing.T) {
	t.Parallel()

	base := Message{ChatID: 1, UserID: 2, Text: "ok"}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}

	long := base
	long.Text = strings.Repeat("a", MaxTextChars+1)
	if err := long.Validate(); err == nil {
		t.Fatalf("expected too long error")
	}

	blank := base
	blank.Text = "   "
	if err := blank.Validate(); err == nil {
		t.Fatalf("expected empty text error")
	}

	noChat := base
	noChat.ChatID = 0
	if err := noChat.Validate(); err == nil {
		t.Fatalf("expected missing chat error")
	}
}

func TestChatTopic(t *testing.T) {
	t.Parallel()

	if got := ChatTopic(42); got != "chat:42" {
		t.Fatalf("ChatTopic(42)=%q", got)
	}
}
