// Package main provides a CI-friendly smoke test for the qrtrack realtime
// path.
//
// It validates:
//   - websocket handshake + ready ack for a display and an admin client
//   - admin issuance over HTTP -> qr:new fanout to the display
//   - scan submission over HTTP -> qr:consumed on the display,
//     scan:logged on the admin, then a successor qr:new on the display
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

// envelope mirrors the server's wire frame.
type envelope struct {
	Event   string          `json:"event"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type qrPayload struct {
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expiresAt"`
	ImageDataURL string    `json:"imageDataUrl"`
}

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan envelope
	errCh chan error
}

func main() {
	var (
		baseURL      = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL")
		origin       = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		displayID    = flag.String("display", "smoke-display-1", "Display ID to subscribe as")
		adminToken   = flag.String("admin-token", "dev-admin-token", "Admin bearer credential")
		displayToken = flag.String("display-token", "dev-display-token", "Display bearer credential")
		userToken    = flag.String("user-token", "dev-user-token", "User bearer credential")
		timeout      = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose      = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -base: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	display := mustConnect(root, "display", *baseURL, *origin, url.Values{
		"role":      {"display"},
		"token":     {*displayToken},
		"displayId": {*displayID},
	}, *timeout)
	defer closeWS(display.conn)

	admin := mustConnect(root, "admin", *baseURL, *origin, url.Values{
		"role":  {"admin"},
		"token": {*adminToken},
	}, *timeout)
	defer closeWS(admin.conn)

	if *verbose {
		fmt.Printf("connected: display=%s origin=%q\n", *displayID, *origin)
	}

	// Issue a session; the display must hear about it.
	issued := mustIssue(root, *baseURL, *adminToken, *displayID, *timeout)
	notified := mustReadPayload(root, display, "qr:new", *timeout)
	if notified.Token != issued.Token {
		fatalf("qr:new token mismatch: ws=%q http=%q", short(notified.Token), short(issued.Token))
	}
	if !strings.HasPrefix(notified.ImageDataURL, "data:image/png;base64,") {
		fatalf("qr:new image is not a png data url")
	}

	// Scan it; both audiences must hear about the consumption, and the
	// display must receive the successor session.
	mustScan(root, *baseURL, *userToken, issued.Token, *timeout)

	consumed := mustRead(root, display, "qr:consumed", *timeout)
	var c struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(consumed.Payload, &c); err != nil {
		fatalf("unmarshal qr:consumed payload: %v", err)
	}
	if c.Token != issued.Token {
		fatalf("qr:consumed token mismatch: got=%q want=%q", short(c.Token), short(issued.Token))
	}

	logged := mustRead(root, admin, "scan:logged", *timeout)
	var rec struct {
		ID        string `json:"id"`
		DisplayID string `json:"displayId"`
		Type      string `json:"type"`
	}
	if err := json.Unmarshal(logged.Payload, &rec); err != nil {
		fatalf("unmarshal scan:logged payload: %v", err)
	}
	if rec.DisplayID != *displayID {
		fatalf("scan:logged display mismatch: got=%q want=%q", rec.DisplayID, *displayID)
	}

	successor := mustReadPayload(root, display, "qr:new", *timeout)
	if successor.Token == issued.Token {
		fatalf("successor session reuses the consumed token")
	}

	fmt.Printf("OK: display=%s record=%s type=%s\n", *displayID, rec.ID, rec.Type)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func wsURL(base string, q url.Values) string {
	ws := strings.Replace(base, "http", "ws", 1)
	return ws + "/ws?" + q.Encode()
}

func mustConnect(parent context.Context, name, base, origin string, q url.Values, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL(base, q), &websocket.DialOptions{
		HTTPHeader: h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	ready := mustRead(parent, c, "ready", stepTimeout)
	var p struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(ready.Payload, &p); err != nil {
		fatalf("unmarshal ready payload (%s): %v", name, err)
	}
	if p.Role != q.Get("role") {
		fatalf("ready role mismatch (%s): got=%q want=%q", name, p.Role, q.Get("role"))
	}

	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustRead(parent context.Context, c *smokeClient, wantEvent string, stepTimeout time.Duration) envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantEvent, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantEvent, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantEvent, c.name)
			}
			if env.Event == wantEvent {
				return env
			}
			if env.Event == "error" {
				fatalf("server error (%s): %s", c.name, string(env.Payload))
			}
			// Unrelated events (e.g. an earlier qr:new) are skipped.
		}
	}
}

func mustReadPayload(parent context.Context, c *smokeClient, wantEvent string, stepTimeout time.Duration) qrPayload {
	env := mustRead(parent, c, wantEvent, stepTimeout)

	var p qrPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal %s payload (%s): %v", wantEvent, c.name, err)
	}
	if strings.TrimSpace(p.Token) == "" {
		fatalf("%s missing token (%s)", wantEvent, c.name)
	}
	return p
}

func mustIssue(parent context.Context, base, adminToken, displayID string, stepTimeout time.Duration) qrPayload {
	body := mustJSON(map[string]string{"displayId": displayID})
	data := mustPost(parent, base+"/admin/qr", adminToken, body, stepTimeout)

	var p qrPayload
	if err := json.Unmarshal(data, &p); err != nil {
		fatalf("unmarshal issue response: %v", err)
	}
	if strings.TrimSpace(p.Token) == "" {
		fatalf("issue response missing token")
	}
	return p
}

func mustScan(parent context.Context, base, userToken, token string, stepTimeout time.Duration) {
	body := mustJSON(map[string]any{
		"token":      token,
		"fullName":   "Smoke Tester",
		"jobTitle":   "CI",
		"employeeId": "SMOKE-1",
		"type":       "check-in",
		"lat":        13.7563,
		"lng":        100.5018,
		"accuracy":   10.0,
	})
	data := mustPost(parent, base+"/scan", userToken, body, stepTimeout)

	var resp struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		fatalf("unmarshal scan response: %v", err)
	}
	if !resp.OK {
		fatalf("scan rejected: %s", string(data))
	}
}

func mustPost(parent context.Context, rawURL, bearer string, body []byte, stepTimeout time.Duration) []byte {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		fatalf("build request %s: %v", rawURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("POST %s: %v", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		fatalf("read response %s: %v", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		fatalf("POST %s: status=%d body=%s", rawURL, resp.StatusCode, string(data))
	}
	return data
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func short(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12] + "..."
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
