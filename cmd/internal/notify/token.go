package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// FirebaseMessagingScope is the OAuth2 scope required by the FCM v1 API.
const FirebaseMessagingScope = "https://www.googleapis.com/auth/firebase.messaging"

// DefaultTokenTTL is how long a worker reuses an access token before asking for a new one.
const DefaultTokenTTL = 50 * time.Minute

// ServiceAccount is a Google service account credential usable for FCM.
type ServiceAccount struct {
	ProjectID string
	Tokens    oauth2.TokenSource
}

// LoadServiceAccount reads a service account JSON key and returns a token source that
// exchanges a signed JWT for access tokens with the firebase.messaging scope.
func LoadServiceAccount(ctx context.Context, path string) (ServiceAccount, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ServiceAccount{}, fmt.Errorf("read service account: %w", err)
	}
	return ParseServiceAccount(ctx, raw)
}

func ParseServiceAccount(ctx context.Context, raw []byte) (ServiceAccount, error) {
	cfg, err := google.JWTConfigFromJSON(raw, FirebaseMessagingScope)
	if err != nil {
		return ServiceAccount{}, fmt.Errorf("parse service account: %w", err)
	}

	var meta struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ServiceAccount{}, fmt.Errorf("parse service account: %w", err)
	}
	if meta.ProjectID == "" {
		return ServiceAccount{}, errors.New("parse service account: missing project_id")
	}
	return ServiceAccount{ProjectID: meta.ProjectID, Tokens: cfg.TokenSource(ctx)}, nil
}

// tokenCache is owned by a single worker.
// A failed refresh keeps serving the previous token, if any, and retries on the next call.
type tokenCache struct {
	src     oauth2.TokenSource
	ttl     time.Duration
	now     func() time.Time
	token   string
	fetched time.Time
}

func newTokenCache(src oauth2.TokenSource, ttl time.Duration, now func() time.Time) *tokenCache {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if now == nil {
		now = time.Now
	}
	return &tokenCache{src: src, ttl: ttl, now: now}
}

// Get returns the access token to use. A non-nil error with a non-empty token means
// the refresh failed and the stale token was returned.
func (c *tokenCache) Get() (string, error) {
	if c.src == nil {
		return "", nil
	}
	now := c.now()
	if c.token != "" && now.Sub(c.fetched) < c.ttl {
		return c.token, nil
	}

	tok, err := c.src.Token()
	if err != nil {
		return c.token, fmt.Errorf("refresh access token: %w", err)
	}
	if tok == nil || tok.AccessToken == "" {
		return c.token, errors.New("refresh access token: empty token")
	}
	c.token = tok.AccessToken
	c.fetched = now
	return c.token, nil
}
