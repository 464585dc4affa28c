// Package ws streams build stages and agent progress to browser clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/ForgeBot/internal/logger"
)

const (
	writeTimeout = 5 * time.Second
	outboxSize   = 64
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// client is one subscriber. A non-empty requestID or buildID restricts it to
// events carrying that correlation ID.
type client struct {
	ws        *websocket.Conn
	outbox    chan []byte
	cancel    context.CancelFunc
	requestID string
	buildID   string
}

func (c *client) wants(requestID, buildID string) bool {
	return (c.requestID == "" || c.requestID == requestID) &&
		(c.buildID == "" || c.buildID == buildID)
}

// Hub fans events out to subscribers. Broadcast never waits on a socket:
// each client has a bounded outbox, and a client that lets it fill is
// disconnected.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// HandleWS upgrades the connection. The optional query parameters request
// and build narrow the subscription to one request or build.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin is checked by the CORS middleware
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "websocket accept failed", "error", err)
		return
	}

	// The socket outlives the handler.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &client{
		ws:        ws,
		outbox:    make(chan []byte, outboxSize),
		cancel:    cancel,
		requestID: r.URL.Query().Get("request"),
		buildID:   r.URL.Query().Get("build"),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.InfoContext(ctx, "websocket subscribed", "remote", r.RemoteAddr, "request_filter", c.requestID, "build_filter", c.buildID)

	go h.writeLoop(ctx, c)
	// Clients send nothing; reading only surfaces close frames and pings.
	go func() {
		defer h.drop(c, websocket.StatusNormalClosure, "")
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.outbox:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("websocket write failed", "error", err)
				h.drop(c, websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// Broadcast queues msg for every client whose filter matches the correlation
// IDs carried by ctx.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.ErrorContext(ctx, "websocket marshal failed", "error", err)
		return
	}
	requestID, buildID := logger.RequestID(ctx), logger.BuildID(ctx)

	var slow []*client
	h.mu.Lock()
	for c := range h.clients {
		if !c.wants(requestID, buildID) {
			continue
		}
		select {
		case c.outbox <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		slog.WarnContext(ctx, "websocket client too slow, disconnecting", "type", msg.Type)
		h.drop(c, websocket.StatusPolicyViolation, "too slow")
	}
}

// ConnectionCount returns the number of subscribers.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.cancel()
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutdown")
	}
}

// drop unregisters c and closes its socket. Later calls for the same client
// are no-ops.
func (h *Hub) drop(c *client, code websocket.StatusCode, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.cancel()
	if c.ws != nil {
		_ = c.ws.Close(code, reason)
	}
	slog.Info("websocket unsubscribed", "reason", reason)
}
