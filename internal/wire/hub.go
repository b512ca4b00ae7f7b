package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/matthewbaird/lifecycle/internal/activity"
	"github.com/matthewbaird/lifecycle/internal/monitor"
)

const (
	// sendBuffer is the per-client queue; a client that falls this far behind
	// misses messages.
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

// StatsFunc returns the current monitoring stats.
type StatsFunc func() monitor.Stats

// Hub fans activity entries and monitoring stats out to WebSocket clients.
// It subscribes to the event bus as a handler.
type Hub struct {
	logger *zap.Logger
	stats  StatsFunc

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	send chan ServerMessage

	mu      sync.RWMutex
	eventID string
}

func (c *client) wants(e activity.Entry) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.eventID == "" || c.eventID == e.EventID
}

func NewHub(stats StatsFunc, logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger.Named("wire"),
		stats:   stats,
		clients: make(map[*client]struct{}),
	}
}

// HandleEntry broadcasts an activity entry to interested clients.
func (h *Hub) HandleEntry(_ context.Context, e activity.Entry) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.wants(e) {
			h.enqueue(c, ServerMessage{Type: "activity", Data: e})
		}
	}
	return nil
}

// PublishStats broadcasts monitoring stats to every client.
func (h *Hub) PublishStats(s monitor.Stats) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.enqueue(c, ServerMessage{Type: "stats", Data: s})
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) enqueue(c *client, msg ServerMessage) {
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("client_too_slow_dropping_message", zap.String("type", msg.Type))
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ServeHTTP upgrades to WebSocket and runs the message loop.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket_accept_failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{
		send:    make(chan ServerMessage, sendBuffer),
		eventID: r.URL.Query().Get("event_id"),
	}
	h.register(c)
	defer h.unregister(c)

	if h.stats != nil {
		c.send <- ServerMessage{Type: "stats", Data: h.stats()}
	}
	go h.writeLoop(ctx, conn, c)

	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				h.logger.Debug("connection_closed", zap.Int("status", int(status)))
			}
			return
		}

		switch msg.Type {
		case "subscribe":
			var data SubscribeData
			if len(msg.Data) > 0 {
				if err := json.Unmarshal(msg.Data, &data); err != nil {
					h.enqueue(c, errorMessage(msg.ID, "invalid_data", "invalid subscribe data"))
					continue
				}
			}
			c.mu.Lock()
			c.eventID = data.EventID
			c.mu.Unlock()
			h.enqueue(c, ServerMessage{Type: "subscribed", RequestID: msg.ID, Data: data})
		case "stats":
			if h.stats != nil {
				h.enqueue(c, ServerMessage{Type: "stats", RequestID: msg.ID, Data: h.stats()})
			}
		case "ping":
			h.enqueue(c, ServerMessage{Type: "pong", RequestID: msg.ID})
		default:
			h.enqueue(c, errorMessage(msg.ID, "unknown_type", fmt.Sprintf("unknown message type: %s", msg.Type)))
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, msg)
			cancel()
			if err != nil {
				h.logger.Debug("websocket_write_failed", zap.Error(err))
				conn.CloseNow()
				return
			}
		}
	}
}

func errorMessage(requestID, code, message string) ServerMessage {
	return ServerMessage{
		Type:      "error",
		RequestID: requestID,
		Data:      ErrorData{Code: code, Message: message},
	}
}
