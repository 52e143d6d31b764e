package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/coder/websocket"

	"github.com/Aaliyah097/bochat/cmd/internal/auth"
	v1 "github.com/Aaliyah097/bochat/shared/contracts/chat/v1"
)

func startWSTestServer(t *testing.T, gw *WSGateway) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/messages/connect", gw)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newTestGateway(t *testing.T, authn auth.Authenticator, deps SessionDeps) *WSGateway {
	t.Helper()

	gw, err := NewWSGateway(testLogger(), GatewayConfig{}, authn, deps)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gw
}

func dialWS(t *testing.T, baseHTTPURL, query, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseHTTPURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/messages/connect"
	u.RawQuery = query

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var opts websocket.DialOptions
	if token != "" {
		opts.Subprotocols = []string{token}
	}
	return websocket.Dial(ctx, u.String(), &opts)
}

func readText(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return data
}

func writeText(t *testing.T, conn *websocket.Conn, s string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, []byte(s)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWSGateway_PingMessageAndScore(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ts := startWSTestServer(t, newTestGateway(t, auth.AllowAll{}, env.deps))

	author, _, err := dialWS(t, ts.URL, "chat_id=11&user_id=2&recipient_id=3&layer=1", "token-a")
	if err != nil {
		t.Fatalf("dial author: %v", err)
	}
	defer func() { _ = author.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := author.Subprotocol(); sp != "token-a" {
		t.Fatalf("expected echoed subprotocol, got %q", sp)
	}

	peer, _, err := dialWS(t, ts.URL, "chat_id=11&user_id=3&recipient_id=2&layer=first", "token-b")
	if err != nil {
		t.Fatalf("dial peer: %v", err)
	}
	defer func() { _ = peer.Close(websocket.StatusNormalClosure, "bye") }()

	// A PONG proves the session (and its subscription) is open.
	for _, c := range []*websocket.Conn{author, peer} {
		writeText(t, c, "PING")
		if got := string(readText(t, c)); got != "PONG" {
			t.Fatalf("expected PONG, got %q", got)
		}
	}

	writeText(t, author, "hello world")

	var mine, theirs v1.Package
	if err := json.Unmarshal(readText(t, author), &mine); err != nil {
		t.Fatalf("decode author package: %v", err)
	}
	if err := json.Unmarshal(readText(t, peer), &theirs); err != nil {
		t.Fatalf("decode peer package: %v", err)
	}

	if mine.Message.Text != "hello world" || mine.Message.ChatID != 11 || mine.Message.UserID != 2 {
		t.Fatalf("unexpected message: %+v", mine.Message)
	}
	if mine.PointsAwarded == nil || *mine.PointsAwarded != 1 {
		t.Fatalf("author must receive points: %+v", mine)
	}
	if theirs.Message.ID != mine.Message.ID || theirs.PointsAwarded != nil {
		t.Fatalf("unexpected peer package: %+v", theirs)
	}
	if env.queue.len() != 1 {
		t.Fatalf("expected one queued notification, got %d", env.queue.len())
	}
}

func TestWSGateway_BadHandshakeRejectedBeforeUpgrade(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ts := startWSTestServer(t, newTestGateway(t, auth.AllowAll{}, env.deps))

	for _, q := range []string{"user_id=2", "chat_id=1", "chat_id=x&user_id=2", "chat_id=1&user_id=2&layer=9"} {
		_, resp, err := dialWS(t, ts.URL, q, "token")
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			t.Fatalf("%s: expected handshake failure", q)
		}
		if resp == nil || resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %v", q, resp)
		}
	}
}

func TestWSGateway_InvalidTokenClosedWithPolicyViolation(t *testing.T) {
	t.Parallel()

	secret := paseto.NewV4AsymmetricSecretKey()
	signer, err := auth.NewPasetoSigner(secret.ExportHex(), "bochat", time.Minute)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	verifier, err := auth.NewPasetoVerifier(signer.PublicKeyHex(), "bochat", 0)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	env := newTestEnv(t)
	ts := startWSTestServer(t, newTestGateway(t, verifier, env.deps))

	otherUser, _ := signer.Issue(99, time.Now())
	for name, tok := range map[string]string{
		"garbage":    "not-a-token",
		"other user": otherUser,
	} {
		conn, _, err := dialWS(t, ts.URL, "chat_id=1&user_id=2", tok)
		if err != nil {
			t.Fatalf("%s: dial: %v", name, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _, err = conn.Read(ctx)
		cancel()
		if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
			t.Fatalf("%s: expected close 1008, got %v (%v)", name, got, err)
		}
	}

	good, _ := signer.Issue(2, time.Now())
	conn, _, err := dialWS(t, ts.URL, "chat_id=1&user_id=2", good)
	if err != nil {
		t.Fatalf("dial with valid token: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	writeText(t, conn, "PING")
	if got := string(readText(t, conn)); got != "PONG" {
		t.Fatalf("expected PONG, got %q", got)
	}
}

func TestParseHandshake(t *testing.T) {
	t.Parallel()

	q, _ := url.ParseQuery("chat_id=5&user_id=6&recipient_id=null&layer=2&reply_id=40")
	p, err := parseHandshake(q)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.ChatID != 5 || p.UserID != 6 || p.RecipientID != 0 || p.ReplyID != 40 || p.Tier != 2 {
		t.Fatalf("unexpected params: %+v", p)
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatternsFromAllowedOrigins([]string{"https://b.example:443", "http://a.example", "*", "a.example:80"})
	if len(got) != 2 || got[0] != "a.example" || got[1] != "b.example" {
		t.Fatalf("unexpected patterns: %v", got)
	}
}
