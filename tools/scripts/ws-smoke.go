// Package main provides a CI-friendly WebSocket smoke test for the bochat chat socket.
//
// It connects an author and a peer to the same chat, checks PING/PONG on both,
// sends one message from the author and asserts that both sides receive the same
// persisted message and that only the author's package carries points.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/Aaliyah097/bochat/shared/contracts/chat/v1"
)

const maxReadBytes = 1 << 20

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/messages/connect", "chat socket URL")
		origin  = flag.String("origin", "", "Origin header to send (browser-like WS handshake)")
		chatID  = flag.Int64("chat", 1, "chat id")
		author  = flag.Int64("author", 1, "author user id")
		peer    = flag.Int64("peer", 2, "peer user id")
		layer   = flag.String("layer", "1", "relationship tier sent in the handshake")
		tokenA  = flag.String("token-a", "dev", "bearer token of the author, sent as subprotocol")
		tokenB  = flag.String("token-b", "dev", "bearer token of the peer, sent as subprotocol")
		text    = flag.String("text", "hello bochat", "message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, *wsURL, *origin, *tokenA, handshake(*chatID, *author, *peer, *layer), *timeout)
	defer closeWS(a)
	b := mustConnect(root, *wsURL, *origin, *tokenB, handshake(*chatID, *peer, *author, *layer), *timeout)
	defer closeWS(b)

	mustPing(root, "author", a, *timeout)
	mustPing(root, "peer", b, *timeout)

	mustWrite(root, a, *text, *timeout)

	mine := mustReadPackage(root, "author", a, *timeout)
	theirs := mustReadPackage(root, "peer", b, *timeout)

	if mine.Message.ID <= 0 {
		fatalf("author package has no message id")
	}
	if theirs.Message.ID != mine.Message.ID {
		fatalf("message id mismatch: author=%d peer=%d", mine.Message.ID, theirs.Message.ID)
	}
	if mine.Message.Text != *text || mine.Message.ChatID != *chatID || mine.Message.UserID != *author {
		fatalf("unexpected message: %+v", mine.Message)
	}
	if theirs.PointsAwarded != nil {
		fatalf("peer package must not carry points")
	}
	if *verbose {
		fmt.Printf("author package: %+v\n", mine)
	}

	points := "none"
	if mine.PointsAwarded != nil {
		points = strconv.Itoa(*mine.PointsAwarded)
	}
	fmt.Printf("OK: chat_id=%d message_id=%d points=%s\n", *chatID, mine.Message.ID, points)
}

func handshake(chatID, userID, recipientID int64, layer string) url.Values {
	q := url.Values{}
	q.Set("chat_id", strconv.FormatInt(chatID, 10))
	q.Set("user_id", strconv.FormatInt(userID, 10))
	q.Set("recipient_id", strconv.FormatInt(recipientID, 10))
	q.Set("layer", layer)
	return q
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, origin, token string, q url.Values, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	u, _ := url.Parse(wsURL)
	u.RawQuery = q.Encode()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{token},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect user_id=%s: %v", q.Get("user_id"), err)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustPing(parent context.Context, name string, conn *websocket.Conn, stepTimeout time.Duration) {
	mustWrite(parent, conn, v1.FramePing, stepTimeout)
	if got := mustRead(parent, name, conn, stepTimeout); string(got) != v1.FramePong {
		fatalf("%s: expected %s, got %q", name, v1.FramePong, got)
	}
}

func mustReadPackage(parent context.Context, name string, conn *websocket.Conn, stepTimeout time.Duration) v1.Package {
	var p v1.Package
	if err := json.Unmarshal(mustRead(parent, name, conn, stepTimeout), &p); err != nil {
		fatalf("%s: decode package: %v", name, err)
	}
	return p
}

func mustRead(parent context.Context, name string, conn *websocket.Conn, stepTimeout time.Duration) []byte {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		fatalf("%s: read: %v", name, err)
	}
	return data
}

func mustWrite(parent context.Context, conn *websocket.Conn, text string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
