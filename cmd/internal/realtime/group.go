package realtime

import (
	"log/slog"
	"sync"
)

// Group is an in-memory membership + broadcast fanout primitive: one per
// display plus the shared admin group.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Group struct {
	log  *slog.Logger
	Name string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewGroup constructs a group.
func NewGroup(log *slog.Logger, name string) *Group {
	return &Group{
		log:     log,
		Name:    name,
		members: make(map[string]*Client),
	}
}

// Join adds a client to membership.
func (g *Group) Join(client *Client) {
	if g == nil || client == nil || client.ID == "" {
		return
	}

	g.mu.Lock()
	g.members[client.ID] = client
	g.mu.Unlock()

	g.log.Info("group.member.join", "group", g.Name, "client_id", client.ID, "role", client.Role)
}

// Leave removes a client from membership and signals shutdown for it.
func (g *Group) Leave(clientID string) {
	if g == nil || clientID == "" {
		return
	}

	var cl *Client

	g.mu.Lock()
	cl = g.members[clientID]
	delete(g.members, clientID)
	g.mu.Unlock()

	// Signal shutdown only after removing from membership, so a broadcaster
	// holding the pointer never races the teardown.
	if cl != nil {
		cl.Close()
	}

	g.log.Info("group.member.leave", "group", g.Name, "client_id", clientID)
}

// Broadcast fanouts an envelope to all members. Non-blocking: members with a
// full queue or a shutdown in progress are skipped.
func (g *Group) Broadcast(env Envelope) {
	if g == nil {
		return
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, m := range g.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- env:
		default:
			// Drop rather than block the whole group.
		}
	}
}

// Size returns the current member count.
func (g *Group) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}
