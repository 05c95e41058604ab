// Package hub wires the registry, client tracker, correlator, and router
// into the three-channel message core. Each channel gets a single inbound
// handler; messages outside a channel's vocabulary are logged and dropped.
// Nothing on the routing path is fatal to the process.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/szaher/llmhub/internal/clients"
	"github.com/szaher/llmhub/internal/correlator"
	"github.com/szaher/llmhub/internal/protocol"
	"github.com/szaher/llmhub/internal/registry"
	"github.com/szaher/llmhub/internal/router"
	"github.com/szaher/llmhub/internal/store"
	"github.com/szaher/llmhub/internal/telemetry"
)

// ErrEmptyMessage rejects chat submissions without a message body.
var ErrEmptyMessage = errors.New("message is required")

// Channel is one logical channel's connection lifecycle handler. The
// transport calls Connect once per connection, Message for every decoded
// envelope, and Disconnect exactly once when the transport closes.
type Channel interface {
	Connect(conn protocol.Sender)
	Message(conn protocol.Sender, env protocol.Envelope)
	Disconnect(conn protocol.Sender)
}

// Config tunes hub behavior.
type Config struct {
	// RequestTTL bounds how long an unanswered chat request is tracked.
	// Zero disables expiry.
	RequestTTL time.Duration

	// AuditQueue is the audit write queue depth.
	AuditQueue int
}

// Hub is the registration-and-routing core.
type Hub struct {
	log     *slog.Logger
	metrics *telemetry.Metrics
	cfg     Config

	registry   *registry.Registry
	tracker    *clients.Tracker
	correlator *correlator.Correlator
	router     *router.Router

	// mu serializes composite roster/dispatch sequences so a joining
	// client's snapshot is consistent with every broadcast it later sees.
	// Scale is hundreds of connections; one lock is enough.
	mu           sync.Mutex
	adapterConns map[string]protocol.Sender
	stateConns   map[string]protocol.Sender

	auditStore store.Store
	auditCh    chan auditWrite
}

type auditWrite struct {
	key    string
	fields map[string]string
}

// New creates a hub. The store may be nil to disable auditing.
func New(log *slog.Logger, metrics *telemetry.Metrics, auditStore store.Store, cfg Config) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	if cfg.AuditQueue <= 0 {
		cfg.AuditQueue = 256
	}
	h := &Hub{
		log:          log,
		metrics:      metrics,
		cfg:          cfg,
		tracker:      clients.NewTracker(),
		correlator:   correlator.New(),
		router:       router.New(log.With("component", "router")),
		adapterConns: make(map[string]protocol.Sender),
		stateConns:   make(map[string]protocol.Sender),
		auditStore:   auditStore,
		auditCh:      make(chan auditWrite, cfg.AuditQueue),
	}
	h.registry = registry.New(rosterNotifier{h})
	return h
}

// Run drains the audit queue and reaps expired requests until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	var reap <-chan time.Time
	if h.cfg.RequestTTL > 0 {
		interval := h.cfg.RequestTTL / 4
		if interval < time.Second {
			interval = time.Second
		}
		if interval > 30*time.Second {
			interval = 30 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		reap = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case w := <-h.auditCh:
			h.flushAudit(ctx, w)
		case <-reap:
			h.reapExpired()
		}
	}
}

// Registry exposes the live adapter directory for read-only surfaces.
func (h *Hub) Registry() *registry.Registry { return h.registry }

// Counts reports connected clients and registered adapters.
func (h *Hub) Counts() (clientCount, adapterCount int) {
	return h.tracker.Len(), h.registry.Len()
}

// Submit runs the chat submission path: validate, resolve targets against
// the current roster, record the request, and dispatch a process message
// to each target's own connection. It returns the acknowledgment
// immediately; responses stream asynchronously. An empty target set is
// accepted silently, the request simply sees no further activity.
func (h *Hub) Submit(originID string, p protocol.ChatPayload) (protocol.ChatAckPayload, error) {
	if p.Message == "" {
		return protocol.ChatAckPayload{}, ErrEmptyMessage
	}
	framework := p.Framework
	if framework == "" {
		framework = protocol.DefaultFramework
	}

	h.mu.Lock()
	targets := h.router.ResolveTargets(p.Models, h.registry)
	req := h.correlator.Submit(originID, p.Message, framework, targets)
	sent := h.router.Dispatch(protocol.ProcessPayload{
		ChatID:    req.ID,
		Message:   p.Message,
		Framework: framework,
	}, targets, h.adapterSender)
	h.mu.Unlock()

	h.metrics.ChatsTotal.Inc()
	h.metrics.DispatchesTotal.Add(float64(sent))
	h.metrics.DispatchTargets.Observe(float64(len(targets)))

	log := telemetry.ChatLogger(h.log, req.ID, originID)
	if len(targets) == 0 {
		log.Info("chat accepted with no matching adapters")
	} else {
		log.Info("chat dispatched", "targets", len(targets), "sent", sent)
	}

	h.audit("chat:"+req.ID, map[string]string{
		"message":   p.Message,
		"framework": framework,
		"clientId":  originID,
		"timestamp": protocol.Timestamp(req.SubmittedAt),
		"status":    "received",
	})

	return protocol.ChatAckPayload{
		Status:    "processing",
		ChatID:    req.ID,
		Timestamp: protocol.Timestamp(time.Now()),
	}, nil
}

// adapterSender looks up the live connection for a registered adapter.
// Callers must hold h.mu.
func (h *Hub) adapterSender(id string) protocol.Sender {
	return h.adapterConns[id]
}

// ConnectedPayload is the join-time snapshot sent to a new client.
type ConnectedPayload struct {
	Type          string                    `json:"type"`
	Message       string                    `json:"message"`
	Timestamp     string                    `json:"timestamp"`
	AvailableLLMs []registry.AdapterSession `json:"availableLLMs"`
	ClientID      string                    `json:"clientId"`
}

// LLMUpdatePayload notifies clients of roster changes.
type LLMUpdatePayload struct {
	Type   string                   `json:"type"`
	LLM    *registry.AdapterSession `json:"llm,omitempty"`
	LLMID  string                   `json:"llmId,omitempty"`
	Status registry.Status          `json:"status,omitempty"`
}

// rosterNotifier relays registry events to the client channel.
type rosterNotifier struct{ h *Hub }

func (n rosterNotifier) AdapterConnected(a registry.AdapterSession) {
	n.h.tracker.Broadcast(protocol.EventLLMUpdate, LLMUpdatePayload{
		Type: "connected",
		LLM:  &a,
	})
}

func (n rosterNotifier) AdapterStatusChanged(id string, status registry.Status) {
	n.h.tracker.Broadcast(protocol.EventLLMUpdate, LLMUpdatePayload{
		Type:   "status-change",
		LLMID:  id,
		Status: status,
	})
}

func (n rosterNotifier) AdapterDisconnected(id string) {
	n.h.tracker.Broadcast(protocol.EventLLMUpdate, LLMUpdatePayload{
		Type:  "disconnected",
		LLMID: id,
	})
}

// forwardResponse streams one response record to every client and appends
// it to the audit store.
func (h *Hub) forwardResponse(chatID, modelID, response, status string) {
	if status == "" {
		status = "complete"
	}
	now := protocol.Timestamp(time.Now())
	h.tracker.Broadcast(protocol.EventLLMResponse, protocol.LLMResponsePayload{
		ChatID:    chatID,
		ModelID:   modelID,
		Response:  response,
		Status:    status,
		Timestamp: now,
	})
	h.metrics.ResponsesTotal.WithLabelValues(status).Inc()
	h.audit("response:"+chatID+":"+modelID, map[string]string{
		"response":  response,
		"modelId":   modelID,
		"status":    status,
		"timestamp": now,
	})
}

// reapExpired settles requests past the configured TTL. Clients are told
// once per unanswered adapter; requests that never had targets expire
// silently, the same silence a no-adapters submission gets.
func (h *Hub) reapExpired() {
	for _, ex := range h.correlator.Reap(h.cfg.RequestTTL) {
		log := telemetry.ChatLogger(h.log, ex.Request.ID, ex.Request.OriginID)
		log.Warn("chat request expired", "unanswered", len(ex.Unanswered))
		for _, adapterID := range ex.Unanswered {
			h.forwardResponse(ex.Request.ID, adapterID, "request timed out", "error")
		}
	}
}

// audit enqueues a fire-and-forget store write. A full queue drops the
// record rather than stall the routing path.
func (h *Hub) audit(key string, fields map[string]string) {
	if h.auditStore == nil {
		return
	}
	select {
	case h.auditCh <- auditWrite{key: key, fields: fields}:
	default:
		h.metrics.AuditDropped.Inc()
		h.log.Warn("audit queue full, dropping record", "key", key)
	}
}

func (h *Hub) flushAudit(ctx context.Context, w auditWrite) {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.auditStore.Put(writeCtx, w.key, w.fields); err != nil {
		h.metrics.AuditFailures.Inc()
		h.log.Error("audit write failed", "key", w.key, "error", err)
	}
}
