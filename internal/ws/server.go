package ws

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/szaher/llmhub/internal/hub"
)

// Server upgrades HTTP requests into channel-bound WebSocket connections.
type Server struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	client  hub.Channel
	adapter hub.Channel
	state   hub.Channel
}

// NewServer creates the transport front for the hub's three channels.
func NewServer(h *hub.Hub, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The desktop shell connects from a file:// origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		client:  h.ClientChannel(),
		adapter: h.AdapterChannel(),
		state:   h.StateChannel(),
	}
}

// Mount registers the channel endpoints on mux.
func (s *Server) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /client", s.handlerFor("client", s.client))
	mux.HandleFunc("GET /llm", s.handlerFor("llm", s.adapter))
	mux.HandleFunc("GET /state", s.handlerFor("state", s.state))
}

func (s *Server) handlerFor(channel string, ch hub.Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("upgrade failed", "channel", channel, "remote", r.RemoteAddr, "error", err)
			return
		}

		c := newConn(wsConn, s.log.With("channel", channel))
		ch.Connect(c)
		go c.writePump()
		c.readPump(ch)

		// readPump returned: the transport is gone.
		ch.Disconnect(c)
	}
}
