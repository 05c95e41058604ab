// Package httpapi serves the health/status surface and the HTTP chat
// fallback alongside the realtime channels.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/szaher/llmhub/internal/hub"
	"github.com/szaher/llmhub/internal/protocol"
	"github.com/szaher/llmhub/internal/registry"
	"github.com/szaher/llmhub/internal/telemetry"
	"github.com/szaher/llmhub/internal/ws"
)

// Version reported by the health endpoint.
const Version = "1.0.0"

// Server is the HTTP front for the hub.
type Server struct {
	hub       *hub.Hub
	mux       *http.ServeMux
	server    *http.Server
	logger    *slog.Logger
	startTime time.Time
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates the HTTP server, mounting the realtime channel
// endpoints, the REST surface, and metrics on one mux.
func NewServer(h *hub.Hub, transport *ws.Server, metrics *telemetry.Metrics, opts ...ServerOption) *Server {
	s := &Server{
		hub:       h,
		logger:    slog.Default(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /api/llms", s.handleLLMs)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	if transport != nil {
		transport.Mount(mux)
	}

	s.mux = mux
	return s
}

// Handler returns the HTTP handler for use with httptest or custom servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	s.logger.Info("orchestrator server starting", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	clientCount, adapterCount := s.hub.Counts()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"service":   "orchestrator",
		"timestamp": protocol.Timestamp(time.Now()),
		"version":   Version,
		"uptime":    time.Since(s.startTime).String(),
		"connections": map[string]int{
			"clients": clientCount,
			"llms":    adapterCount,
		},
	})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	adapters := s.hub.Registry().List()
	models := make([]registry.AdapterSession, 0, len(adapters))
	for _, a := range adapters {
		if a.Role == registry.DefaultRole {
			a.Role = "Connected Model"
		}
		models = append(models, a)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"models":  models,
	})
}

func (s *Server) handleLLMs(w http.ResponseWriter, _ *http.Request) {
	adapters := s.hub.Registry().List()
	if adapters == nil {
		adapters = []registry.AdapterSession{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"llms":    adapters,
		"count":   len(adapters),
	})
}

// handleChat is the HTTP fallback running the same submit path as the
// client channel. Responses still stream to realtime clients only.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req protocol.ChatPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	ack, err := s.hub.Submit("http:"+r.RemoteAddr, req)
	if err != nil {
		if errors.Is(err, hub.ErrEmptyMessage) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"chatId":    ack.ChatID,
		"status":    ack.Status,
		"timestamp": ack.Timestamp,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   code,
		"message": message,
	})
}
