// Package realtime is the broadcast fan-out: named subscriber groups (one per
// display plus a shared admin group) fed by lifecycle events over WebSocket.
//
// Delivery is best-effort. Nothing is persisted or replayed; a disconnected
// subscriber resynchronizes via the HTTP "current state" endpoints.
package realtime

import (
	"encoding/json"
	"time"
)

// Connection roles. A subscriber authenticates once at connect time with a
// role and its bearer credential.
const (
	RoleAdmin   = "admin"
	RoleDisplay = "display"
	RoleUser    = "user"
)

// GroupAdmin is the shared group all admin dashboards join.
const GroupAdmin = "admin"

// DisplayGroup returns the group name of one display's subscribers.
func DisplayGroup(displayID string) string {
	return "display:" + displayID
}

// Event names pushed to subscribers.
const (
	EventReady          = "ready"
	EventQRNew          = "qr:new"
	EventQRConsumed     = "qr:consumed"
	EventScanLogged     = "scan:logged"
	EventDashboardReset = "dashboard:reset"
	EventError          = "error"
)

// Envelope is the wire frame for every pushed event.
type Envelope struct {
	Event   string          `json:"event"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope. A nil payload is allowed
// (events like dashboard:reset carry none).
func NewEnvelope(event string, payload any, at time.Time) (Envelope, error) {
	env := Envelope{Event: event, At: at}
	if payload == nil {
		return env, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = raw
	return env, nil
}

// envelopeJSON serializes one envelope for the wire.
func envelopeJSON(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// RoleTokens maps a role name to its static bearer credential. This is the
// demo's whole authentication story; hardening is explicitly out of scope.
type RoleTokens map[string]string

// Match reports whether the presented credential is the one configured for
// role. Unknown roles never match.
func (t RoleTokens) Match(role, token string) bool {
	want, ok := t[role]
	return ok && want != "" && token == want
}
