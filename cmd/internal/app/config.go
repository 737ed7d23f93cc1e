package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// CORS policy for the browser clients (dashboard, kiosk, scanner PWA).
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("QRTRACK_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("QRTRACK_LOG_LEVEL", "info"),
		LogFormat: EnvString("QRTRACK_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("QRTRACK_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		// Read/write timeouts must accommodate scan submissions carrying a
		// multi-megabyte image data URL on slow phone uplinks.
		ReadTimeout:  EnvDuration("QRTRACK_HTTP_READ_TIMEOUT", 60*time.Second),
		WriteTimeout: EnvDuration("QRTRACK_HTTP_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:  EnvDuration("QRTRACK_HTTP_IDLE_TIMEOUT", 120*time.Second),

		MaxHeaderBytes: EnvInt("QRTRACK_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("QRTRACK_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("QRTRACK_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("QRTRACK_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("QRTRACK_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvStringList("QRTRACK_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("QRTRACK_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("QRTRACK_CORS_MAX_AGE_SECONDS", 600),
	}
}
