package realtime

import "time"

// Security/performance limits for subscriber connections.
const (
	// Max bytes per websocket frame read (hard limit). Subscribers only send
	// tiny control frames; anything larger is abuse.
	maxFrameBytes = 16 << 10 // 16 KiB

	// Heartbeat defaults (overridable by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (inbound events per window).
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)
