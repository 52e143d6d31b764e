package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Aaliyah097/bochat/cmd/internal/auth"
	"github.com/Aaliyah097/bochat/cmd/internal/lights"
	"github.com/Aaliyah097/bochat/cmd/internal/metrics"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3
)

// GatewayConfig tunes the socket loop. Zero values fall back to defaults.
type GatewayConfig struct {
	// OriginRequired rejects upgrades without an Origin header (browsers always send one).
	OriginRequired bool
	// AllowedOrigins lists full origins or hosts; "*" disables the origin check.
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

// WSGateway is the chat socket entrypoint: GET /messages/connect.
//
// It enforces origin policy, authenticates the token carried in the subprotocol,
// and runs the session tasks (ingest, relay, writer, heartbeat) until the first one ends.
type WSGateway struct {
	log   *slog.Logger
	cfg   GatewayConfig
	authn auth.Authenticator
	deps  SessionDeps

	// Derived for websocket.Accept origin checks.
	originPatterns []string
	anyOrigin      bool
}

// NewWSGateway constructs a gateway with secure defaults.
func NewWSGateway(log *slog.Logger, cfg GatewayConfig, authn auth.Authenticator, deps SessionDeps) (*WSGateway, error) {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if authn == nil {
		return nil, errors.New("realtime: nil authenticator")
	}
	if deps.Log == nil {
		deps.Log = log
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = wsDefaultWriteTimeout
	}
	if cfg.ReadIdleTimeout <= 0 {
		cfg.ReadIdleTimeout = wsDefaultReadIdle
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = wsDefaultSendQueueSize
	}
	if cfg.SendQueueSize < wsMinSendQueueSize {
		cfg.SendQueueSize = wsMinSendQueueSize
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = heartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = heartbeatTimeout
	}
	if cfg.RateEvents <= 0 {
		cfg.RateEvents = rateLimitEvents
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = rateLimitWindow
	}

	g := &WSGateway{log: log, cfg: cfg, authn: authn, deps: deps}
	for _, a := range cfg.AllowedOrigins {
		if strings.TrimSpace(a) == "*" {
			g.anyOrigin = true
		}
	}

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins)
	return g, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a chat session.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	params, err := parseHandshake(r.URL.Query())
	if err != nil {
		g.log.Info("ws.reject.handshake", "err", err, "remote", r.RemoteAddr)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The token travels as the offered subprotocol and is echoed back so browsers accept the upgrade.
	token := offeredSubprotocol(r)
	var subprotocols []string
	if token != "" {
		subprotocols = []string{token}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       subprotocols,
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.anyOrigin,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	claims, err := g.authn.Verify(r.Context(), token)
	if err == nil && !claims.Permits(params.UserID) {
		err = auth.ErrInvalidToken
	}
	if err != nil {
		g.log.Info("ws.reject.auth", "chat_id", params.ChatID, "user_id", params.UserID, "err", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "unauthorized")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := NewSessionID(time.Now())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess, err := OpenSession(ctx, g.deps, params, sessionID, g.cfg.SendQueueSize)
	if err != nil {
		g.log.Error("ws.session.open.fail", "session_id", sessionID, "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()

	g.log.Info("ws.session.open",
		"session_id", sessionID,
		"chat_id", params.ChatID,
		"user_id", params.UserID,
		"tier", params.Tier.String(),
	)

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close sess.Send.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			sess.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		g.writeLoop(gctx, conn, sess, shutdown)
		return nil
	})

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeatLoop(gctx, conn, sess, shutdown)
	}()

	grp.Go(func() error {
		err := sess.Relay(gctx)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, ErrSubscriberEvicted):
			shutdown(websocket.StatusTryAgainLater, "too slow")
		case errors.Is(err, ErrBusClosed):
			shutdown(websocket.StatusGoingAway, "shutting down")
		default:
			shutdown(websocket.StatusInternalError, "relay failed")
		}
		return err
	})

	grp.Go(func() error {
		g.readLoop(gctx, conn, sess, shutdown)
		return nil
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, ErrTransportClosed) {
		g.log.Info("ws.session.end", "session_id", sessionID, "err", err)
	}
	shutdown(websocket.StatusNormalClosure, "bye")

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	g.log.Info("ws.session.close", "session_id", sessionID, "chat_id", params.ChatID, "user_id", params.UserID)
}

func (g *WSGateway) readLoop(ctx context.Context, conn *websocket.Conn, sess *Session, shutdown func(websocket.StatusCode, string)) {
	rl := newFrameLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		mt, data, err := conn.Read(readCtx)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "session_id", sess.SessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			return
		}
		if mt != websocket.MessageText {
			continue
		}

		if !rl.Allow(time.Now()) {
			g.log.Info("ws.rate_limited", "session_id", sess.SessionID)
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			return
		}

		if err := sess.Ingest(ctx, data); err != nil {
			switch {
			case errors.Is(err, ErrValidation):
				g.log.Debug("ws.frame.dropped", "session_id", sess.SessionID, "err", err)
			case errors.Is(err, ErrTransportClosed):
				shutdown(websocket.StatusGoingAway, "transport closed")
				return
			case errors.Is(err, context.Canceled):
				shutdown(websocket.StatusNormalClosure, "context done")
				return
			default:
				g.log.Warn("ws.ingest.fail", "session_id", sess.SessionID, "err", err)
			}
		}
	}
}

func (g *WSGateway) writeLoop(ctx context.Context, conn *websocket.Conn, sess *Session, shutdown func(websocket.StatusCode, string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case frame := <-sess.Send:
			if err := writeFrame(ctx, conn, frame, g.cfg.WriteTimeout); err != nil {
				g.log.Info("ws.write.fail", "session_id", sess.SessionID, "close_status", websocket.CloseStatus(err), "err", err)
				shutdown(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (g *WSGateway) heartbeatLoop(ctx context.Context, conn *websocket.Conn, sess *Session, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "session_id", sess.SessionID, "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func writeFrame(parent context.Context, conn *websocket.Conn, frame []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}

// ---- handshake ----

func parseHandshake(q url.Values) (SessionParams, error) {
	var (
		p   SessionParams
		err error
	)
	if p.ChatID, err = queryID(q, "chat_id", true); err != nil {
		return SessionParams{}, err
	}
	if p.UserID, err = queryID(q, "user_id", true); err != nil {
		return SessionParams{}, err
	}
	if p.RecipientID, err = queryID(q, "recipient_id", false); err != nil {
		return SessionParams{}, err
	}
	if p.ReplyID, err = queryID(q, "reply_id", false); err != nil {
		return SessionParams{}, err
	}

	p.Tier = lights.LayerFirst
	if raw := strings.TrimSpace(q.Get("layer")); raw != "" {
		if p.Tier, err = lights.ParseLayer(raw); err != nil {
			return SessionParams{}, err
		}
	}
	return p, nil
}

func queryID(q url.Values, key string, required bool) (int64, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" || raw == "null" {
		if required {
			return 0, fmt.Errorf("missing %s", key)
		}
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 || (required && n == 0) {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func offeredSubprotocol(r *http.Request) string {
	for _, h := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(h, ",") {
			if p = strings.TrimSpace(p); p != "" {
				return p
			}
		}
	}
	return ""
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if g.anyOrigin {
		return nil
	}
	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}
		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
