package realtime

import (
	"log/slog"
	"sync"
	"time"
)

// Hub owns the in-memory subscriber groups and implements the
// publish-to-group half of the broadcast contract.
//
// It is intentionally minimal: no persistence, no replay. Publish is
// fire-and-forget and never suspends the caller.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	groups map[string]*Group
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:    log,
		groups: make(map[string]*Group),
	}
}

// GetOrCreateGroup returns a stable group handle.
func (h *Hub) GetOrCreateGroup(name string) *Group {
	h.mu.Lock()
	defer h.mu.Unlock()

	if g, ok := h.groups[name]; ok {
		return g
	}

	g := NewGroup(h.log, name)
	h.groups[name] = g
	return g
}

// Publish delivers event to every current member of group. Best-effort:
// marshal failures are logged, an empty or missing group is a silent no-op.
func (h *Hub) Publish(group, event string, payload any) {
	env, err := NewEnvelope(event, payload, time.Now().UTC())
	if err != nil {
		h.log.Error("hub.publish.marshal_fail", "group", group, "event", event, "err", err)
		return
	}

	h.mu.RLock()
	g := h.groups[group]
	h.mu.RUnlock()

	if g == nil {
		// Nobody ever subscribed; expected, not an error.
		return
	}

	g.Broadcast(env)
}

// ClientCount returns the number of members across all groups. A client that
// joined two groups counts twice; the metric tracks subscriptions, which is
// what backpressure cares about.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, g := range h.groups {
		n += g.Size()
	}
	return n
}
