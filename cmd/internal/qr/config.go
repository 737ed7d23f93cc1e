package qr

import (
	"os"
	"strconv"
	"time"
)

// Config defines runtime configuration for the QR session subsystem.
//
// It controls the session TTL ceiling, the sweep cadence, the symmetric token
// key, payload bounds, and the explicit multi-scan test override.
type Config struct {
	// TTL is the age ceiling for an active session. Sessions older than TTL
	// are demoted to expired by the sweep (or inline on validate/submit).
	TTL time.Duration

	// SweepInterval is the cadence of the background expiry sweep.
	SweepInterval time.Duration

	// KeyHex is the hex-encoded 32-byte symmetric key for the token codec.
	// When empty, an ephemeral key is generated (dev only: tokens do not
	// survive a restart).
	KeyHex string

	// MaxImageBytes bounds the optional scan image attachment (data URL).
	MaxImageBytes int

	// AllowMultiScan permits re-use of a consumed token. Test/demo override
	// only; it must never be enabled in the default configuration, as it
	// bypasses the single-use gate.
	AllowMultiScan bool
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		TTL:            60 * time.Second,
		SweepInterval:  5 * time.Second,
		MaxImageBytes:  15_000_000,
		AllowMultiScan: false,
	}
}

// LoadConfigFromEnv loads QR configuration from environment variables.
//
// Optional:
//   - QRTRACK_QR_TTL (Go duration)
//   - QRTRACK_QR_SWEEP_INTERVAL (Go duration)
//   - QRTRACK_QR_KEY_HEX (64 hex chars)
//   - QRTRACK_MAX_IMAGE_BYTES
//   - QRTRACK_ALLOW_MULTI_SCAN (bool)
//
// Returns ErrConfig if a provided value is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("QRTRACK_QR_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TTL = d
	}

	if v := os.Getenv("QRTRACK_QR_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.SweepInterval = d
	}

	if v := os.Getenv("QRTRACK_MAX_IMAGE_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.MaxImageBytes = n
	}

	if v := os.Getenv("QRTRACK_ALLOW_MULTI_SCAN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.AllowMultiScan = b
	}

	cfg.KeyHex = os.Getenv("QRTRACK_QR_KEY_HEX")

	return cfg, nil
}
