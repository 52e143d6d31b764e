package auth

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Claims is the identity carried by a verified token.
// UserID is 0 when the authenticator does not bind tokens to users.
type Claims struct {
	UserID    int64
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Authenticator verifies an opaque bearer token.
type Authenticator interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// AllowAll accepts every non-empty token. Dev only.
type AllowAll struct{}

func (AllowAll) Verify(_ context.Context, token string) (Claims, error) {
	if strings.TrimSpace(token) == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{}, nil
}

// Permits reports whether c may act as userID.
func (c Claims) Permits(userID int64) bool {
	return c.UserID == 0 || c.UserID == userID
}

type claimsKey struct{}

// WithClaims returns a context carrying c.
func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims stored by RequireBearer.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// RequireBearer rejects requests without a valid bearer token.
func RequireBearer(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := a.Verify(r.Context(), BearerToken(r))
			if err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
