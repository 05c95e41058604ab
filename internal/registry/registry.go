// Package registry tracks live adapter connections: identity, capability
// metadata, self-reported status, and last activity. Entries exist only
// for the lifetime of their transport connection; a reconnecting adapter
// gets a fresh identity, never a reused one.
package registry

import (
	"sort"
	"sync"
	"time"
)

// Status is an adapter's last self-reported state.
type Status string

const (
	StatusConnected  Status = "connected"
	StatusProcessing Status = "processing"
	StatusIdle       Status = "idle"
	StatusError      Status = "error"
)

// AdapterSession is one registered adapter connection. Field names match
// the wire shape clients receive in roster snapshots and llm-update events.
type AdapterSession struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Kind         string    `json:"type"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Endpoint     string    `json:"endpoint,omitempty"`
	Role         string    `json:"role"`
	Status       Status    `json:"status"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// DefaultRole is assigned when an adapter registers without one.
const DefaultRole = "AI Assistant"

// Notifier receives roster change events. Disconnect events carry only the
// identity because the snapshot is already gone.
type Notifier interface {
	AdapterConnected(a AdapterSession)
	AdapterStatusChanged(id string, status Status)
	AdapterDisconnected(id string)
}

// NopNotifier discards all roster events.
type NopNotifier struct{}

func (NopNotifier) AdapterConnected(AdapterSession)     {}
func (NopNotifier) AdapterStatusChanged(string, Status) {}
func (NopNotifier) AdapterDisconnected(string)          {}

// Registry is the live directory of registered adapters. All operations
// are total: unknown ids are tolerated, never fatal.
type Registry struct {
	mu       sync.Mutex
	adapters map[string]*AdapterSession
	notify   Notifier
	now      func() time.Time
}

// New creates an empty registry. Roster changes are reported to notify.
func New(notify Notifier) *Registry {
	if notify == nil {
		notify = NopNotifier{}
	}
	return &Registry{
		adapters: make(map[string]*AdapterSession),
		notify:   notify,
		now:      time.Now,
	}
}

// Register records an adapter session, overwriting any stale entry for the
// same session id, and notifies clients with the new snapshot.
func (r *Registry) Register(sessionID string, p RegisterParams) AdapterSession {
	r.mu.Lock()
	now := r.now()
	role := p.Role
	if role == "" {
		role = DefaultRole
	}
	a := &AdapterSession{
		ID:           sessionID,
		Name:         p.Name,
		Kind:         p.Kind,
		Capabilities: p.Capabilities,
		Endpoint:     p.Endpoint,
		Role:         role,
		Status:       StatusConnected,
		RegisteredAt: now,
		LastActivity: now,
	}
	r.adapters[sessionID] = a
	snapshot := *a
	r.mu.Unlock()

	r.notify.AdapterConnected(snapshot)
	return snapshot
}

// RegisterParams carries the adapter handshake fields.
type RegisterParams struct {
	Name         string
	Kind         string
	Capabilities []string
	Endpoint     string
	Role         string
}

// UpdateStatus records a self-reported status change. Unknown session ids
// are a no-op; the caller may log them.
func (r *Registry) UpdateStatus(sessionID string, status Status) bool {
	r.mu.Lock()
	a, ok := r.adapters[sessionID]
	if ok {
		a.Status = status
		a.LastActivity = r.now()
	}
	r.mu.Unlock()

	if ok {
		r.notify.AdapterStatusChanged(sessionID, status)
	}
	return ok
}

// Touch refreshes an adapter's last-activity timestamp.
func (r *Registry) Touch(sessionID string) {
	r.mu.Lock()
	if a, ok := r.adapters[sessionID]; ok {
		a.LastActivity = r.now()
	}
	r.mu.Unlock()
}

// Remove drops the entry for a disconnected transport and notifies clients
// with the identity. Removing an unknown id is a no-op.
func (r *Registry) Remove(sessionID string) bool {
	r.mu.Lock()
	_, ok := r.adapters[sessionID]
	delete(r.adapters, sessionID)
	r.mu.Unlock()

	if ok {
		r.notify.AdapterDisconnected(sessionID)
	}
	return ok
}

// Get returns a snapshot of one adapter session.
func (r *Registry) Get(sessionID string) (AdapterSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.adapters[sessionID]
	if !ok {
		return AdapterSession{}, false
	}
	return *a, true
}

// List returns a snapshot of all registered adapters, ordered by
// registration time then id for stable output.
func (r *Registry) List() []AdapterSession {
	r.mu.Lock()
	out := make([]AdapterSession, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, *a)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IDs returns the identities of all registered adapters.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	return ids
}

// Has reports whether the session id is currently registered.
func (r *Registry) Has(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.adapters[sessionID]
	return ok
}

// Len reports the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.adapters)
}
