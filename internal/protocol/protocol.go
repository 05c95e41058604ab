// Package protocol defines the wire contract for the hub's three logical
// channels: the client channel (UI frontends), the adapter channel (LLM
// backends), and the state channel (state managers). Each channel has a
// disjoint inbound vocabulary; messages arriving on the wrong channel are
// logged and dropped by the hub.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names accepted from clients.
const (
	EventChat = "chat"
	EventPing = "ping"
)

// Event names accepted from adapters.
const (
	EventRegister     = "register"
	EventResponse     = "response"
	EventStatusUpdate = "status-update"
	EventFileRequest  = "file-request"
)

// Event names accepted from state managers.
const (
	EventStateUpdate = "state-update"
)

// Event names pushed by the hub.
const (
	EventConnected     = "connected"
	EventLLMUpdate     = "llm-update"
	EventLLMResponse   = "llm-response"
	EventStateChange   = "state-change"
	EventPong          = "pong"
	EventChatAck       = "chat-ack"
	EventRegistered    = "registered"
	EventProcess       = "process"
	EventFileAck       = "file-ack"
	EventFileOperation = "file-operation"
)

// Envelope is the framing for every message on every channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Event, err)
	}
	return nil
}

// Sender is one connected session the hub can push events to. Sends are
// non-blocking and best-effort; per-connection ordering is preserved.
type Sender interface {
	ID() string
	Send(event string, data any) error
}

// TargetAll is the broadcast sentinel for chat targeting.
const TargetAll = "all"

// ModelTargets is the client's adapter selection. The wire form is either a
// single string or an array of strings; an empty selection means broadcast.
type ModelTargets []string

// UnmarshalJSON accepts "id", ["id", ...], or null.
func (m *ModelTargets) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*m = ModelTargets{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("models must be a string or array of strings")
	}
	*m = ModelTargets(many)
	return nil
}

// Broadcast reports whether the selection means every registered adapter.
func (m ModelTargets) Broadcast() bool {
	if len(m) == 0 {
		return true
	}
	for _, t := range m {
		if t == TargetAll {
			return true
		}
	}
	return false
}

// ChatPayload is a client chat submission.
type ChatPayload struct {
	Message   string       `json:"message"`
	Models    ModelTargets `json:"models,omitempty"`
	Framework string       `json:"framework,omitempty"`
}

// DefaultFramework is echoed back when the client names none. It has no
// effect on routing.
const DefaultFramework = "BMAD-METHOD"

// ChatAckPayload is the synchronous reply to a chat submission.
type ChatAckPayload struct {
	Status    string `json:"status"`
	ChatID    string `json:"chatId,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// PongPayload answers a client ping.
type PongPayload struct {
	Type       string `json:"type"`
	Timestamp  string `json:"timestamp"`
	ServerTime int64  `json:"serverTime"`
}

// RegisterPayload is an adapter's handshake.
type RegisterPayload struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities,omitempty"`
	Endpoint     string   `json:"endpoint,omitempty"`
	Role         string   `json:"role,omitempty"`
}

// RegisteredPayload acknowledges an adapter registration.
type RegisteredPayload struct {
	Success   bool   `json:"success"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
}

// ResponsePayload is an adapter's answer to a process message.
type ResponsePayload struct {
	ChatID   string `json:"chatId"`
	Response string `json:"response"`
	ModelID  string `json:"modelId,omitempty"`
	Status   string `json:"status,omitempty"`
}

// StatusUpdatePayload is an adapter's self-reported state change.
type StatusUpdatePayload struct {
	Status string `json:"status"`
}

// FileRequestPayload is an adapter asking the state channel for a file.
type FileRequestPayload struct {
	FileID    string `json:"fileId"`
	Operation string `json:"operation"`
}

// FileAckPayload acknowledges a file request.
type FileAckPayload struct {
	Status    string `json:"status"`
	FileID    string `json:"fileId"`
	Timestamp string `json:"timestamp"`
}

// FileOperationPayload is relayed to the state channel.
type FileOperationPayload struct {
	FileID      string `json:"fileId"`
	Operation   string `json:"operation"`
	RequesterID string `json:"requesterId"`
}

// StateUpdatePayload is an inbound state-manager event.
type StateUpdatePayload struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StateChangePayload is the client-facing rebroadcast of a state update.
type StateChangePayload struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// ProcessPayload is the point-to-point work order sent to one adapter.
type ProcessPayload struct {
	ChatID    string `json:"chatId"`
	Message   string `json:"message"`
	Framework string `json:"framework"`
}

// LLMResponsePayload streams one adapter's response to all clients.
type LLMResponsePayload struct {
	ChatID    string `json:"chatId"`
	ModelID   string `json:"modelId,omitempty"`
	Response  string `json:"response"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Timestamp renders t in the wire format used everywhere on the protocol.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
