// Package router decides which adapters receive a chat request and sends
// the process message to each one point-to-point. Routing decisions are
// pure in-memory snapshots; unknown or stale targets are silently dropped,
// matching the hub's soft-miss policy.
package router

import (
	"log/slog"

	"github.com/szaher/llmhub/internal/protocol"
	"github.com/szaher/llmhub/internal/registry"
)

// Router resolves targeting and dispatches work orders.
type Router struct {
	log *slog.Logger
}

// New creates a router.
func New(log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{log: log}
}

// ResolveTargets maps a client's model selection to adapter identities.
// Broadcast selections snapshot every adapter registered at this moment;
// explicit selections are intersected with the registry, and misses drop
// silently. An empty result is valid: the request is still accepted but
// nothing is dispatched.
func (r *Router) ResolveTargets(targets protocol.ModelTargets, reg *registry.Registry) []string {
	if targets.Broadcast() {
		return reg.IDs()
	}

	resolved := make([]string, 0, len(targets))
	seen := make(map[string]struct{}, len(targets))
	for _, id := range targets {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if reg.Has(id) {
			resolved = append(resolved, id)
		} else {
			r.log.Debug("dropping unknown chat target", "target", id)
		}
	}
	return resolved
}

// Dispatch sends a process message to each target's own connection. The
// lookup returns nil for sessions that vanished after resolution; those
// are skipped, never retried.
func (r *Router) Dispatch(req protocol.ProcessPayload, targets []string, lookup func(id string) protocol.Sender) int {
	sent := 0
	for _, id := range targets {
		conn := lookup(id)
		if conn == nil {
			r.log.Debug("target disappeared before dispatch", "adapter_id", id, "chat_id", req.ChatID)
			continue
		}
		if err := conn.Send(protocol.EventProcess, req); err != nil {
			r.log.Warn("dispatch failed", "adapter_id", id, "chat_id", req.ChatID, "error", err)
			continue
		}
		sent++
	}
	return sent
}
