// Package clients tracks live UI-facing connections on the client channel.
package clients

import (
	"sync"
	"time"

	"github.com/szaher/llmhub/internal/protocol"
)

// ClientSession is one connected UI client.
type ClientSession struct {
	ID           string    `json:"id"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`

	conn protocol.Sender
}

// Tracker is the live set of client sessions. Joins, broadcasts, and
// removals share one mutex, so a joining client's welcome message is
// ordered before any broadcast that follows its admission.
type Tracker struct {
	mu      sync.Mutex
	clients map[string]*ClientSession
	now     func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		clients: make(map[string]*ClientSession),
		now:     time.Now,
	}
}

// Join admits a connection and, while still holding the tracker lock,
// invokes welcome so the caller can send the join-time snapshot before any
// subsequent broadcast can reach the new client.
func (t *Tracker) Join(conn protocol.Sender, welcome func(protocol.Sender)) *ClientSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	c := &ClientSession{
		ID:           conn.ID(),
		ConnectedAt:  now,
		LastActivity: now,
		conn:         conn,
	}
	t.clients[c.ID] = c
	if welcome != nil {
		welcome(conn)
	}
	return c
}

// Remove drops a client session. Unknown ids are a no-op.
func (t *Tracker) Remove(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.clients[sessionID]
	delete(t.clients, sessionID)
	return ok
}

// Touch refreshes a client's last-activity timestamp.
func (t *Tracker) Touch(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[sessionID]; ok {
		c.LastActivity = t.now()
	}
}

// Broadcast pushes an event to every connected client. Delivery is
// best-effort and unordered across recipients; per-recipient ordering is
// the transport's responsibility.
func (t *Tracker) Broadcast(event string, data any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.clients {
		_ = c.conn.Send(event, data)
	}
}

// List returns a snapshot of all client sessions.
func (t *Tracker) List() []ClientSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ClientSession, 0, len(t.clients))
	for _, c := range t.clients {
		out = append(out, *c)
	}
	return out
}

// Len reports the number of connected clients.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}
