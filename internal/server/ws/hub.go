// Package ws streams SignalBus traffic to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Channels are the bus channels relayed to clients.
var Channels = []string{domain.ChannelQuotes, domain.ChannelPlans, domain.ChannelExecutions}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is guarded by its key, not by origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Envelope is one frame sent to clients. Data is the bus payload verbatim.
type Envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// control is a client request to narrow or widen its channels.
type control struct {
	Action   string   `json:"action"` // subscribe | unsubscribe
	Channels []string `json:"channels"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

func (c *client) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

// Hub relays bus messages to every connected client subscribed to the
// message's channel. A client that falls behind loses messages.
type Hub struct {
	bus    domain.SignalBus
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		bus:     bus,
		logger:  logger.With(slog.String("component", "ws_hub")),
		clients: make(map[*client]struct{}),
	}
}

// Run subscribes to every relayed channel and forwards until ctx is done,
// then disconnects all clients.
func (h *Hub) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, ch := range Channels {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			h.logger.ErrorContext(ctx, "subscribe failed",
				slog.String("channel", ch),
				slog.String("error", err.Error()),
			)
			continue
		}
		wg.Add(1)
		go func(channel string, msgs <-chan []byte) {
			defer wg.Done()
			for data := range msgs {
				h.broadcast(channel, data)
			}
		}(ch, msgs)
	}

	<-ctx.Done()
	wg.Wait()

	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	return nil
}

func (h *Hub) broadcast(channel string, data []byte) {
	if !json.Valid(data) {
		h.logger.Warn("dropping non-json payload", slog.String("channel", channel))
		return
	}
	frame, err := json.Marshal(Envelope{Channel: channel, Data: data})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(channel) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("slow client, message dropped", slog.String("channel", channel))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades GET /ws. Clients start subscribed to every channel.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize), subs: make(map[string]bool)}
	for _, ch := range Channels {
		c.subs[ch] = true
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", slog.Int("clients", n))

	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client disconnected", slog.Int("clients", n))
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg control
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		c.apply(msg)
	}
}

func (c *client) apply(msg control) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range msg.Channels {
		switch msg.Action {
		case "subscribe":
			c.subs[ch] = true
		case "unsubscribe":
			delete(c.subs, ch)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
