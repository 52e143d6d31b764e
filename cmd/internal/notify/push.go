package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const (
	defaultFCMEndpoint = "https://fcm.googleapis.com/v1/projects/%s/messages:send"
	maxErrorBody       = 512
	notificationTitle  = "New message"
)

// Notification is one push to one device.
type Notification struct {
	DeviceToken string
	Title       string
	Body        string
	Data        map[string]string
}

// Pusher sends a notification through a push gateway.
type Pusher interface {
	Push(ctx context.Context, accessToken string, n Notification) error
}

// FCMPusher talks to the Firebase Cloud Messaging HTTP v1 API.
type FCMPusher struct {
	client *http.Client
	url    string
}

// NewFCMPusher builds a pusher for projectID. endpoint may override the default
// URL template; it must contain a single %s for the project id.
func NewFCMPusher(client *http.Client, projectID, endpoint string) (*FCMPusher, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("notify: empty fcm project id")
	}
	if endpoint == "" {
		endpoint = defaultFCMEndpoint
	}
	if strings.Count(endpoint, "%s") != 1 {
		return nil, fmt.Errorf("notify: fcm endpoint %q must contain one %%s", endpoint)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &FCMPusher{client: client, url: fmt.Sprintf(endpoint, projectID)}, nil
}

type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (p *FCMPusher) Push(ctx context.Context, accessToken string, n Notification) error {
	body, err := json.Marshal(fcmRequest{Message: fcmMessage{
		Token:        n.DeviceToken,
		Notification: fcmNotification{Title: n.Title, Body: n.Body},
		Data:         n.Data,
	}})
	if err != nil {
		return fmt.Errorf("encode fcm message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build fcm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return fmt.Errorf("fcm send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// LogPusher logs notifications instead of sending them. Used when no push gateway is configured.
type LogPusher struct {
	Log *slog.Logger
}

func (p LogPusher) Push(_ context.Context, _ string, n Notification) error {
	if p.Log != nil {
		p.Log.Info("notify.push.dry_run", "title", n.Title, "chat_id", n.Data["chat_id"], "message_id", n.Data["message_id"])
	}
	return nil
}
