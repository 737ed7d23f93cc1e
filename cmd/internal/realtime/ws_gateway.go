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
)

// DefaultDisplayID is used when a display subscriber does not name one.
const DefaultDisplayID = "default-display"

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 5 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Kiosks and dashboards are same-site in the demo, but file:// and
	// app-wrapped clients send no Origin header, so it is optional by default.
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// WSGateway is the WebSocket entrypoint for qrtrack subscribers.
//
// A connection authenticates exactly once, with a role and its bearer
// credential in the query string (browser WebSocket clients cannot set
// Authorization headers). After the handshake the gateway only pushes
// envelopes; inbound frames are tolerated under a rate limit and discarded.
type WSGateway struct {
	log    *slog.Logger
	hub    *Hub
	tokens RoleTokens

	devInsecure    bool
	originRequired bool
	allowedOrigins []string
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway, reading its tuning from QRTRACK_WS_*
// env vars. When hub is nil an empty one is created; tokens must carry the
// static role credentials.
func NewWSGateway(log *slog.Logger, hub *Hub, tokens RoleTokens) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log)
	}

	g := &WSGateway{
		log:    log,
		hub:    hub,
		tokens: tokens,

		// InsecureSkipVerify is a dev-only TLS knob, not an origin policy.
		devInsecure:    wsEnvBool("QRTRACK_WS_DEV_INSECURE", false),
		originRequired: wsEnvBool("QRTRACK_WS_ORIGIN_REQUIRED", false),
		allowedOrigins: wsEnvCSV("QRTRACK_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins),

		writeTimeout:    wsEnvDuration("QRTRACK_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout),
		readIdleTimeout: wsEnvDuration("QRTRACK_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle),
		sendQueueSize:   wsEnvInt("QRTRACK_WS_SEND_QUEUE", wsDefaultSendQueueSize),

		heartbeatEvery:   wsEnvDuration("QRTRACK_WS_HEARTBEAT_INTERVAL", heartbeatInterval),
		heartbeatTimeout: wsEnvDuration("QRTRACK_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout),

		rateEvents: wsEnvInt("QRTRACK_WS_RATE_EVENTS", rateLimitEvents),
		rateWindow: wsEnvDuration("QRTRACK_WS_RATE_WINDOW", rateLimitWindow),
	}

	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	// websocket.Accept runs its own origin check: same-host is implicit,
	// cross-origin needs OriginPatterns. Derive patterns from the allowlist so
	// both layers agree.
	g.originPatterns = hostPatterns(g.allowedOrigins)

	return g
}

// Hub exposes the underlying hub (for publishing and metrics).
func (g *WSGateway) Hub() *Hub { return g.hub }

// ServeHTTP adapter so the gateway can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request, authenticates the subscriber, and runs the
// push loop until disconnect.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.checkOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	q := r.URL.Query()
	role := strings.TrimSpace(q.Get("role"))
	bearer := strings.TrimSpace(q.Get("token"))
	displayID := strings.TrimSpace(q.Get("displayId"))
	if displayID == "" {
		displayID = DefaultDisplayID
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if !g.tokens.Match(role, bearer) {
		g.log.Info("ws.reject.auth", "role", role, "remote", r.RemoteAddr)
		if env, err := NewEnvelope(EventError, "unauthorized", time.Now().UTC()); err == nil {
			_ = g.push(ctx, conn, env)
		}
		_ = conn.Close(websocket.StatusPolicyViolation, "unauthorized")
		return
	}

	clientID := NewRandomHex(10)
	client := NewClient(clientID, role, displayID, g.sendQueueSize)

	// Membership follows the authenticated role. Scanners (role user)
	// subscribe to nothing; they only push over HTTP.
	var joined []*Group
	switch role {
	case RoleDisplay:
		joined = append(joined, g.hub.GetOrCreateGroup(DisplayGroup(displayID)))
	case RoleAdmin:
		joined = append(joined, g.hub.GetOrCreateGroup(GroupAdmin))
	}
	for _, grp := range joined {
		grp.Join(client)
	}

	// shutdown is idempotent. Membership removal happens before client.Close
	// so a broadcaster never writes into a tearing-down client.
	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			for _, grp := range joined {
				grp.Leave(clientID)
			}
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	pumpDone := make(chan struct{})
	go g.pump(ctx, conn, client, clientID, shutdown, pumpDone)

	// Handshake ack: role + effective display id.
	if ready, err := NewEnvelope(EventReady, map[string]string{"role": role, "displayId": displayID}, time.Now().UTC()); err == nil {
		select {
		case client.Send <- ready:
		default:
		}
	}

	g.log.Info("ws.connect", "client_id", clientID, "role", role, "display_id", displayID)

	g.drainReads(ctx, conn, clientID, shutdown)

	shutdown(websocket.StatusNormalClosure, "bye")
	select {
	case <-pumpDone:
	case <-time.After(wsCloseGrace):
	}
}

// pump is the single connection writer: it drains the client's send queue and
// interleaves heartbeat pings. Keeping all conn writes on one goroutine is
// what makes the write path race-free.
func (g *WSGateway) pump(ctx context.Context, conn *websocket.Conn, client *Client, clientID string, shutdown func(websocket.StatusCode, string), done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.heartbeatEvery)
	defer ticker.Stop()

	pingFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return

		case env := <-client.Send:
			if err := g.push(ctx, conn, env); err != nil {
				g.log.Info("ws.write.fail", "client_id", clientID, "close_status", websocket.CloseStatus(err), "err", err)
				shutdown(websocket.StatusAbnormalClosure, "write failed")
				return
			}

		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()

			if err == nil {
				pingFailures = 0
				continue
			}
			pingFailures++
			g.log.Info("ws.ping.fail", "client_id", clientID, "failures", pingFailures, "err", err)
			if pingFailures >= wsMaxPingFailures {
				shutdown(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

// drainReads discards inbound frames under a rate limit until the peer goes
// away. Subscribers have nothing to say; chatter within limits is tolerated.
func (g *WSGateway) drainReads(ctx context.Context, conn *websocket.Conn, clientID string, shutdown func(websocket.StatusCode, string)) {
	limiter := NewRateLimiter(g.rateEvents, g.rateWindow)

	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		_, _, err := conn.Read(readCtx)
		readCancel()

		if err != nil {
			switch {
			case websocket.CloseStatus(err) != -1:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				shutdown(websocket.StatusNormalClosure, "context done")
			case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "client_id", clientID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			return
		}

		if !limiter.Allow(time.Now().UTC()) {
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			return
		}
	}
}

// push writes one envelope under the write timeout.
func (g *WSGateway) push(parent context.Context, conn *websocket.Conn, env Envelope) error {
	b, err := envelopeJSON(env)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(parent, g.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- origin policy ----

func (g *WSGateway) checkOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (empty allowlist)")
	}

	host := originHost(origin)
	for _, allowed := range g.allowedOrigins {
		allowed = strings.TrimSpace(allowed)
		switch {
		case allowed == "":
			continue
		case allowed == "*":
			// Strongly discouraged, but honored when configured explicitly.
			return nil
		case allowed == origin:
			// Full match: scheme + host + optional port.
			return nil
		case host != "" && host == originHost(allowed):
			// Host match fallback, ignoring port and scheme.
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

// originHost extracts the lowercased host from a full origin URL or a bare
// host[:port] value.
func originHost(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return ""
		}
		s = u.Host
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// hostPatterns turns the origin allowlist into the host patterns
// websocket.Accept matches against. Strict: only allowlisted hosts.
func hostPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if h := originHost(a); h != "" && h != "*" {
			seen[h] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env readers (local: realtime cannot import app) ----

func wsEnvBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func wsEnvInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func wsEnvDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func wsEnvCSV(key, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}

	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
