package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/hilo/internal/domain"
	"github.com/alejandrodnm/hilo/internal/metrics"
	"github.com/alejandrodnm/hilo/internal/ports"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

// Message is one push to the browser.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type stillPending struct {
	TxHash common.Hash `json:"tx_hash"`
	Waited string      `json:"waited"`
}

// Hub fans notifications out to every connected websocket client. It
// implements ports.Notifier and ports.TxObserver. A client that cannot keep
// up is dropped.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	last    *Message // latest state, replayed to new clients
}

var (
	_ ports.Notifier   = (*Hub)(nil)
	_ ports.TxObserver = (*Hub)(nil)
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub. checkOrigin nil allows same-host only.
func NewHub(checkOrigin func(*http.Request) bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[*client]struct{}),
	}
}

// Clients counts connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams messages until the client goes
// away. Incoming messages are ignored.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("httpapi: websocket upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		if b, err := json.Marshal(h.last); err == nil {
			c.send <- b
		}
	}
	h.mu.Unlock()
	metrics.WebsocketConnected()

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) StateChanged(_ context.Context, s domain.GameState) {
	h.broadcast(Message{Type: "state", Payload: s}, true)
}

func (h *Hub) PendingChanged(_ context.Context, a domain.PendingAction) {
	h.broadcast(Message{Type: "pending", Payload: a}, false)
}

func (h *Hub) Outcome(_ context.Context, o domain.Outcome) {
	h.broadcast(Message{Type: "outcome", Payload: o}, false)
}

func (h *Hub) Banner(_ context.Context, b domain.Banner) {
	h.broadcast(Message{Type: "banner", Payload: b}, false)
}

// StillPending is pushed as a banner so the UI can show it passively.
func (h *Hub) StillPending(_ context.Context, txHash common.Hash, waited time.Duration) {
	hash := txHash
	h.broadcast(Message{Type: "banner", Payload: domain.Banner{
		Kind:    domain.BannerStillPending,
		Message: "Your transaction is still pending. It may take a while to confirm.",
		TxHash:  &hash,
		At:      time.Now().UTC(),
	}}, false)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (h *Hub) broadcast(m Message, keep bool) {
	b, err := json.Marshal(m)
	if err != nil {
		slog.Error("httpapi: encode push", "type", m.Type, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if keep {
		h.last = &m
	}
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			slog.Warn("httpapi: websocket client too slow, dropping")
			h.dropLocked(c)
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.WebsocketDisconnected()
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		h.drop(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case b, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
