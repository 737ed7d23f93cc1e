package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequestLogMeta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status     int
		wantLevel  slog.Level
		wantResult string
		wantClass  string
	}{
		{status: 101, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "1xx"},
		{status: 200, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "2xx"},
		{status: 302, wantLevel: slog.LevelInfo, wantResult: "redirect", wantClass: "3xx"},
		{status: 409, wantLevel: slog.LevelWarn, wantResult: "client_error", wantClass: "4xx"},
		{status: 410, wantLevel: slog.LevelWarn, wantResult: "client_error", wantClass: "4xx"},
		{status: 503, wantLevel: slog.LevelError, wantResult: "server_error", wantClass: "5xx"},
	}

	for _, tc := range cases {
		level, result := requestLogMeta(tc.status)
		if level != tc.wantLevel || result != tc.wantResult {
			t.Fatalf("status=%d level=%v result=%q; want level=%v result=%q", tc.status, level, result, tc.wantLevel, tc.wantResult)
		}
		if got := statusClass(tc.status); got != tc.wantClass {
			t.Fatalf("statusClass(%d)=%q want=%q", tc.status, got, tc.wantClass)
		}
	}
}

func TestWithRequestLoggingEmitsFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte(`{"valid":false,"reason":"expired_or_unknown_qr"}`))
	}), log)

	req := httptest.NewRequest(http.MethodPost, "/scan", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not one JSON object: %q", buf.String())
	}
	if entry["msg"] != "http.request" {
		t.Fatalf("msg=%v", entry["msg"])
	}
	if entry["method"] != "POST" || entry["path"] != "/scan" {
		t.Fatalf("request fields wrong: %v", entry)
	}
	// JSON numbers decode as float64.
	if entry["status"] != float64(http.StatusGone) || entry["status_class"] != "4xx" || entry["result"] != "client_error" {
		t.Fatalf("status fields wrong: %v", entry)
	}
	if entry["bytes"] == float64(0) {
		t.Fatalf("bytes not counted: %v", entry)
	}
	if entry["level"] != "WARN" {
		t.Fatalf("level=%v want WARN", entry["level"])
	}
}

func TestOriginAllowed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{name: "exact match", origin: "https://qrtrack.example.com", allowed: []string{"https://qrtrack.example.com"}, want: true},
		{name: "wildcard entry", origin: "https://anything.example.com", allowed: []string{"*"}, want: true},
		{name: "port wildcard", origin: "http://localhost:5173", allowed: []string{"http://localhost:*"}, want: true},
		{name: "port wildcard bare host", origin: "http://localhost", allowed: []string{"http://localhost:*"}, want: true},
		{name: "port wildcard non-numeric", origin: "http://localhost:abc", allowed: []string{"http://localhost:*"}, want: false},
		{name: "different host", origin: "https://evil.example.com", allowed: []string{"https://qrtrack.example.com"}, want: false},
		{name: "empty allowlist", origin: "https://qrtrack.example.com", allowed: nil, want: false},
		{name: "blank entries skipped", origin: "https://qrtrack.example.com", allowed: []string{"", "  "}, want: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := originAllowed(tc.origin, tc.allowed); got != tc.want {
				t.Fatalf("originAllowed(%q, %v)=%v want %v", tc.origin, tc.allowed, got, tc.want)
			}
		})
	}
}

func TestWithCORSPreflightAllowed(t *testing.T) {
	t.Parallel()

	cfg := Config{
		CORSAllowedOrigins:   []string{"https://dashboard.qrtrack.example.com"},
		CORSAllowCredentials: true,
		CORSMaxAgeSeconds:    600,
	}

	h := WithCORS(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Fatalf("next handler must not run for preflight")
	}), cfg, discardLogger())

	req := httptest.NewRequest(http.MethodOptions, "/scan", nil)
	req.Header.Set("Origin", "https://dashboard.qrtrack.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, Authorization")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status=%d want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://dashboard.qrtrack.example.com" {
		t.Fatalf("allow-origin=%q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("allow-credentials=%q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, Authorization" {
		t.Fatalf("allow-headers=%q", got)
	}
	if got := rr.Header().Get("Access-Control-Max-Age"); got != "600" {
		t.Fatalf("max-age=%q", got)
	}
}

func TestWithCORSDisallowedOrigin(t *testing.T) {
	t.Parallel()

	cfg := Config{
		CORSAllowedOrigins: []string{"https://dashboard.qrtrack.example.com"},
	}

	called := false
	h := WithCORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), cfg, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/admin/scans", nil)
	req.Header.Set("Origin", "https://evil.example.com")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d want 403", rr.Code)
	}
	if called {
		t.Fatalf("next handler must not run for a denied origin")
	}
}

func TestWithCORSNoOriginPassesThrough(t *testing.T) {
	t.Parallel()

	// curl and the display kiosk send no Origin header.
	cfg := Config{CORSAllowedOrigins: []string{"https://dashboard.qrtrack.example.com"}}

	h := WithCORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), cfg, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow-origin without Origin header: %q", got)
	}
}

func TestWithCORSWildcardPortAllowed(t *testing.T) {
	t.Parallel()

	// Dev kiosks bind an arbitrary local port.
	cfg := Config{CORSAllowedOrigins: []string{"http://127.0.0.1:*"}}

	h := WithCORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), cfg, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/display/qr/current", nil)
	req.Header.Set("Origin", "http://127.0.0.1:55123")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://127.0.0.1:55123" {
		t.Fatalf("allow-origin=%q", got)
	}
}

func TestWithSecurityHeaders(t *testing.T) {
	t.Parallel()

	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d want 204", rr.Code)
	}
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	} {
		if got := rr.Header().Get(header); got != want {
			t.Fatalf("%s=%q want %q", header, got, want)
		}
	}
}
