// Package httpapi exposes the QR attendance service over HTTP: session
// issuance and lookup, scan validation and submission, dashboard queries,
// exports, and the administrative reset.
package httpapi

import (
	"os"
	"strconv"

	"qrtrack/cmd/internal/realtime"
)

// Config defines runtime configuration for the HTTP API.
type Config struct {
	// Static bearer credentials, one per role. The demo trust model: shared
	// secrets distributed out of band to dashboards, kiosks, and the scanner
	// app.
	AdminToken   string
	DisplayToken string
	UserToken    string

	// MaxBodyBytes bounds request bodies. Must exceed the scan image bound
	// (the JSON wrapping adds overhead on top of the data URL).
	MaxBodyBytes int64
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		AdminToken:   "dev-admin-token",
		DisplayToken: "dev-display-token",
		UserToken:    "dev-user-token",
		MaxBodyBytes: 20 << 20, // 20 MiB
	}
}

// LoadConfigFromEnv loads API configuration from environment variables.
//
// Optional:
//   - QRTRACK_ADMIN_TOKEN
//   - QRTRACK_DISPLAY_TOKEN
//   - QRTRACK_USER_TOKEN
//   - QRTRACK_MAX_BODY_BYTES
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("QRTRACK_ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if v := os.Getenv("QRTRACK_DISPLAY_TOKEN"); v != "" {
		cfg.DisplayToken = v
	}
	if v := os.Getenv("QRTRACK_USER_TOKEN"); v != "" {
		cfg.UserToken = v
	}
	if v := os.Getenv("QRTRACK_MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return Config{}, errConfig
		}
		cfg.MaxBodyBytes = n
	}

	return cfg, nil
}

// RoleTokens returns the role credential map shared with the websocket
// gateway.
func (c Config) RoleTokens() realtime.RoleTokens {
	return realtime.RoleTokens{
		realtime.RoleAdmin:   c.AdminToken,
		realtime.RoleDisplay: c.DisplayToken,
		realtime.RoleUser:    c.UserToken,
	}
}
