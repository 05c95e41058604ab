// Package ws carries the hub's three logical channels over WebSocket.
// Each channel is its own endpoint (/client, /llm, /state); messages are
// JSON envelopes, and every connection gets a read pump and a write pump
// so pushes to one recipient stay ordered.
package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/szaher/llmhub/internal/protocol"
)

// Keepalive windows the desktop shell and adapters are tuned for.
const (
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
	writeWait  = 10 * time.Second

	maxMessageSize = 1 << 20
	sendQueueSize  = 64
)

// ErrConnClosed is returned by Send after the connection shut down.
var ErrConnClosed = errors.New("connection closed")

// ErrSendQueueFull is returned when a slow consumer's queue overflows.
// Broadcast delivery is best-effort; the frame is dropped.
var ErrSendQueueFull = errors.New("send queue full")

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// conn is one transport connection bound to a logical channel.
type conn struct {
	id   string
	ws   *websocket.Conn
	log  *slog.Logger
	send chan outbound

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(ws *websocket.Conn, log *slog.Logger) *conn {
	id := protocol.NewConnID()
	return &conn{
		id:   id,
		ws:   ws,
		log:  log.With("conn_id", id),
		send: make(chan outbound, sendQueueSize),
		done: make(chan struct{}),
	}
}

// ID returns the connection identity, unique per connection lifetime.
func (c *conn) ID() string { return c.id }

// Send enqueues an event for this connection. Non-blocking: a full queue
// drops the frame and a closed connection reports ErrConnClosed.
func (c *conn) Send(event string, data any) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- outbound{Event: event, Data: data}:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		c.log.Warn("dropping frame for slow consumer", "event", event)
		return ErrSendQueueFull
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// readPump decodes inbound envelopes and hands them to the channel
// handler. It owns the read side; returning tears the connection down.
func (c *conn) readPump(handler interface {
	Message(conn protocol.Sender, env protocol.Envelope)
}) {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read error", "error", err)
			}
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("dropping unparseable frame", "error", err)
			continue
		}
		if env.Event == "" {
			c.log.Warn("dropping frame without event")
			continue
		}
		handler.Message(c, env)
	}
}

// writePump serializes all writes for the connection, interleaving
// protocol pings. Queue order is delivery order.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case out := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(out); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
