package hub

import (
	"time"

	"github.com/szaher/llmhub/internal/protocol"
	"github.com/szaher/llmhub/internal/registry"
)

// ClientChannel returns the handler for UI-facing connections.
func (h *Hub) ClientChannel() Channel { return clientChannel{h} }

// AdapterChannel returns the handler for LLM adapter connections.
func (h *Hub) AdapterChannel() Channel { return adapterChannel{h} }

// StateChannel returns the handler for state-manager connections.
func (h *Hub) StateChannel() Channel { return stateChannel{h} }

type clientChannel struct{ h *Hub }

func (c clientChannel) Connect(conn protocol.Sender) {
	h := c.h
	h.mu.Lock()
	h.tracker.Join(conn, func(s protocol.Sender) {
		roster := h.registry.List()
		if roster == nil {
			roster = []registry.AdapterSession{}
		}
		_ = s.Send(protocol.EventConnected, ConnectedPayload{
			Type:          "connected",
			Message:       "Connected to LLM Orchestrator",
			Timestamp:     protocol.Timestamp(time.Now()),
			AvailableLLMs: roster,
			ClientID:      s.ID(),
		})
	})
	h.mu.Unlock()

	h.metrics.ConnectedClients.Inc()
	h.log.Info("client connected", "client_id", conn.ID())
}

func (c clientChannel) Message(conn protocol.Sender, env protocol.Envelope) {
	h := c.h
	switch env.Event {
	case protocol.EventChat:
		var p protocol.ChatPayload
		if err := env.Decode(&p); err != nil {
			h.sendChatError(conn, err.Error())
			return
		}
		ack, err := h.Submit(conn.ID(), p)
		if err != nil {
			h.sendChatError(conn, err.Error())
			return
		}
		h.tracker.Touch(conn.ID())
		_ = conn.Send(protocol.EventChatAck, ack)

	case protocol.EventPing:
		h.tracker.Touch(conn.ID())
		now := time.Now()
		_ = conn.Send(protocol.EventPong, protocol.PongPayload{
			Type:       "pong",
			Timestamp:  protocol.Timestamp(now),
			ServerTime: now.UnixMilli(),
		})

	default:
		h.log.Debug("unexpected event on client channel", "event", env.Event, "client_id", conn.ID())
	}
}

func (c clientChannel) Disconnect(conn protocol.Sender) {
	h := c.h
	h.mu.Lock()
	removed := h.tracker.Remove(conn.ID())
	h.mu.Unlock()

	if removed {
		h.metrics.ConnectedClients.Dec()
		h.log.Info("client disconnected", "client_id", conn.ID())
	}
}

// sendChatError rejects a malformed submission; the connection stays open.
func (h *Hub) sendChatError(conn protocol.Sender, msg string) {
	h.log.Warn("rejecting chat request", "client_id", conn.ID(), "error", msg)
	_ = conn.Send(protocol.EventChatAck, protocol.ChatAckPayload{
		Status:    "error",
		Error:     msg,
		Timestamp: protocol.Timestamp(time.Now()),
	})
}

type adapterChannel struct{ h *Hub }

func (a adapterChannel) Connect(conn protocol.Sender) {
	h := a.h
	h.mu.Lock()
	h.adapterConns[conn.ID()] = conn
	h.mu.Unlock()

	// Not yet in the registry: the session only becomes routable after it
	// sends a register message.
	h.log.Info("adapter transport connected", "adapter_id", conn.ID())
}

func (a adapterChannel) Message(conn protocol.Sender, env protocol.Envelope) {
	h := a.h
	switch env.Event {
	case protocol.EventRegister:
		var p protocol.RegisterPayload
		if err := env.Decode(&p); err != nil {
			h.log.Warn("bad register payload", "adapter_id", conn.ID(), "error", err)
			return
		}
		h.mu.Lock()
		adapter := h.registry.Register(conn.ID(), registry.RegisterParams{
			Name:         p.Name,
			Kind:         p.Type,
			Capabilities: p.Capabilities,
			Endpoint:     p.Endpoint,
			Role:         p.Role,
		})
		h.mu.Unlock()

		h.metrics.ConnectedAdapters.Inc()
		h.log.Info("adapter registered",
			"adapter_id", adapter.ID, "name", adapter.Name, "type", adapter.Kind, "endpoint", adapter.Endpoint)
		_ = conn.Send(protocol.EventRegistered, protocol.RegisteredPayload{
			Success:   true,
			ID:        adapter.ID,
			Timestamp: protocol.Timestamp(time.Now()),
		})

	case protocol.EventResponse:
		var p protocol.ResponsePayload
		if err := env.Decode(&p); err != nil {
			h.log.Warn("bad response payload", "adapter_id", conn.ID(), "error", err)
			return
		}
		h.registry.Touch(conn.ID())
		modelID := p.ModelID
		if modelID == "" {
			modelID = conn.ID()
		}
		known, done := h.correlator.RecordResponse(p.ChatID, conn.ID())
		if !known {
			h.log.Debug("forwarding orphan response", "chat_id", p.ChatID, "adapter_id", conn.ID())
		}
		// Forwarded regardless of correlation state.
		h.forwardResponse(p.ChatID, modelID, p.Response, p.Status)
		if done {
			h.log.Debug("all expected responses received", "chat_id", p.ChatID)
		}

	case protocol.EventStatusUpdate:
		var p protocol.StatusUpdatePayload
		if err := env.Decode(&p); err != nil {
			h.log.Warn("bad status-update payload", "adapter_id", conn.ID(), "error", err)
			return
		}
		h.mu.Lock()
		ok := h.registry.UpdateStatus(conn.ID(), registry.Status(p.Status))
		h.mu.Unlock()
		if !ok {
			h.log.Debug("status update from unregistered adapter", "adapter_id", conn.ID())
		}

	case protocol.EventFileRequest:
		var p protocol.FileRequestPayload
		if err := env.Decode(&p); err != nil {
			h.log.Warn("bad file-request payload", "adapter_id", conn.ID(), "error", err)
			return
		}
		_ = conn.Send(protocol.EventFileAck, protocol.FileAckPayload{
			Status:    "processing",
			FileID:    p.FileID,
			Timestamp: protocol.Timestamp(time.Now()),
		})
		h.broadcastState(protocol.EventFileOperation, protocol.FileOperationPayload{
			FileID:      p.FileID,
			Operation:   p.Operation,
			RequesterID: conn.ID(),
		})

	default:
		h.log.Debug("unexpected event on adapter channel", "event", env.Event, "adapter_id", conn.ID())
	}
}

func (a adapterChannel) Disconnect(conn protocol.Sender) {
	h := a.h
	h.mu.Lock()
	delete(h.adapterConns, conn.ID())
	removed := h.registry.Remove(conn.ID())
	owed := h.correlator.FailPending(conn.ID())
	h.mu.Unlock()

	if removed {
		h.metrics.ConnectedAdapters.Dec()
		h.log.Info("adapter disconnected", "adapter_id", conn.ID(), "pending", len(owed))
	}
	// Settle outstanding work so clients get closure instead of silence.
	for _, req := range owed {
		h.forwardResponse(req.ID, conn.ID(), "adapter disconnected before responding", "error")
	}
}

type stateChannel struct{ h *Hub }

func (s stateChannel) Connect(conn protocol.Sender) {
	h := s.h
	h.mu.Lock()
	h.stateConns[conn.ID()] = conn
	h.mu.Unlock()
	h.log.Info("state manager connected", "state_id", conn.ID())
}

func (s stateChannel) Message(conn protocol.Sender, env protocol.Envelope) {
	h := s.h
	switch env.Event {
	case protocol.EventStateUpdate:
		var p protocol.StateUpdatePayload
		if err := env.Decode(&p); err != nil {
			h.log.Warn("bad state-update payload", "state_id", conn.ID(), "error", err)
			return
		}
		h.tracker.Broadcast(protocol.EventStateChange, protocol.StateChangePayload{
			Type:      p.Type,
			Payload:   p.Payload,
			Timestamp: protocol.Timestamp(time.Now()),
		})

	default:
		h.log.Debug("unexpected event on state channel", "event", env.Event, "state_id", conn.ID())
	}
}

func (s stateChannel) Disconnect(conn protocol.Sender) {
	h := s.h
	h.mu.Lock()
	delete(h.stateConns, conn.ID())
	h.mu.Unlock()
	h.log.Info("state manager disconnected", "state_id", conn.ID())
}

// broadcastState pushes an event to every state-channel connection.
func (h *Hub) broadcastState(event string, data any) {
	h.mu.Lock()
	conns := make([]protocol.Sender, 0, len(h.stateConns))
	for _, c := range h.stateConns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.Send(event, data)
	}
}
