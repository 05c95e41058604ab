// Package correlator maps each chat request to the adapters asked to
// answer it and tracks which answers have arrived. Completed entries are
// garbage-collected; responses for unknown requests are tolerated and left
// to the caller to forward (availability over strict correlation).
package correlator

import (
	"sync"
	"time"

	"github.com/szaher/llmhub/internal/protocol"
)

// ChatRequest is the bookkeeping record for one submitted chat.
type ChatRequest struct {
	ID          string
	OriginID    string
	Message     string
	Framework   string
	Targets     []string
	SubmittedAt time.Time
}

type entry struct {
	req      ChatRequest
	expected map[string]struct{}
	received map[string]struct{}
}

func (e *entry) done() bool {
	if len(e.expected) == 0 {
		return false
	}
	for id := range e.expected {
		if _, ok := e.received[id]; !ok {
			return false
		}
	}
	return true
}

// Correlator allocates request ids and tracks in-flight requests. Safe for
// concurrent use; id allocation never produces duplicates.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*entry
	now     func() time.Time
}

// New creates an empty correlator.
func New() *Correlator {
	return &Correlator{
		pending: make(map[string]*entry),
		now:     time.Now,
	}
}

// Submit records a chat request against its expected responder set and
// returns the freshly allocated request id. It never blocks on responses.
func (c *Correlator) Submit(originID, message, framework string, targets []string) ChatRequest {
	req := ChatRequest{
		ID:          protocol.NewChatID(),
		OriginID:    originID,
		Message:     message,
		Framework:   framework,
		Targets:     targets,
		SubmittedAt: c.now(),
	}

	e := &entry{
		req:      req,
		expected: make(map[string]struct{}, len(targets)),
		received: make(map[string]struct{}),
	}
	for _, id := range targets {
		e.expected[id] = struct{}{}
	}

	c.mu.Lock()
	c.pending[req.ID] = e
	c.mu.Unlock()
	return req
}

// RecordResponse tallies one adapter's response. known is false for orphan
// responses (unknown request id, or an adapter that was never asked);
// orphans are not tracked but should still be forwarded by the caller.
// done is true when every expected adapter has answered at least once, at
// which point the entry is released.
func (c *Correlator) RecordResponse(requestID, adapterID string) (known, done bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.pending[requestID]
	if !ok {
		return false, false
	}
	if _, expected := e.expected[adapterID]; !expected {
		return false, false
	}
	e.received[adapterID] = struct{}{}
	if e.done() {
		delete(c.pending, requestID)
		return true, true
	}
	return true, false
}

// FailPending returns the requests still waiting on adapterID and marks
// them answered, so a disconnecting adapter's debts can be settled with
// synthetic error responses exactly once.
func (c *Correlator) FailPending(adapterID string) []ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	var owed []ChatRequest
	for id, e := range c.pending {
		if _, expected := e.expected[adapterID]; !expected {
			continue
		}
		if _, answered := e.received[adapterID]; answered {
			continue
		}
		owed = append(owed, e.req)
		e.received[adapterID] = struct{}{}
		if e.done() {
			delete(c.pending, id)
		}
	}
	return owed
}

// Expired holds a reaped request and the adapters that never answered it.
type Expired struct {
	Request    ChatRequest
	Unanswered []string
}

// Reap removes requests older than ttl and reports who still owed answers.
// A ttl of zero disables reaping.
func (c *Correlator) Reap(ttl time.Duration) []Expired {
	if ttl <= 0 {
		return nil
	}
	cutoff := c.now().Add(-ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Expired
	for id, e := range c.pending {
		if e.req.SubmittedAt.After(cutoff) {
			continue
		}
		ex := Expired{Request: e.req}
		for adapterID := range e.expected {
			if _, answered := e.received[adapterID]; !answered {
				ex.Unanswered = append(ex.Unanswered, adapterID)
			}
		}
		out = append(out, ex)
		delete(c.pending, id)
	}
	return out
}

// Pending reports the number of in-flight requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
