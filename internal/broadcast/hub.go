package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	clientBuffer   = 256
)

// ClientMessage is an inbound subscription request from a websocket client.
type ClientMessage struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// Client is one websocket connection.
type Client struct {
	ID       string
	Channels []string
	Send     chan []byte
}

// Hub tracks websocket clients and their channel subscriptions and fans
// frames out to them. It implements Transport.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // channel -> clients
	all     map[*Client]struct{}

	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHub returns an empty hub. allowedOrigin restricts the websocket
// handshake; empty or "*" allows any origin.
func NewHub(allowedOrigin string, logger zerolog.Logger) *Hub {
	h := &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "ws-hub").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedOrigin == "" || allowedOrigin == "*" || origin == "" || origin == allowedOrigin
		},
	}
	return h
}

// Register adds a client and subscribes it to its initial channels.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, ch := range client.Channels {
		h.addLocked(client, ch)
	}
}

// Unregister removes a client and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(client)
}

func (h *Hub) unregisterLocked(client *Client) {
	if _, ok := h.all[client]; !ok {
		return
	}
	for _, ch := range client.Channels {
		h.removeLocked(client, ch)
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds channels to a registered client.
func (h *Hub) Subscribe(client *Client, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, ch := range channels {
		if h.subscribedLocked(client, ch) {
			continue
		}
		h.addLocked(client, ch)
		client.Channels = append(client.Channels, ch)
	}
}

// Unsubscribe removes channels from a registered client.
func (h *Hub) Unsubscribe(client *Client, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	drop := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		drop[ch] = struct{}{}
		h.removeLocked(client, ch)
	}

	remaining := client.Channels[:0]
	for _, ch := range client.Channels {
		if _, ok := drop[ch]; !ok {
			remaining = append(remaining, ch)
		}
	}
	client.Channels = remaining
}

func (h *Hub) subscribedLocked(client *Client, channel string) bool {
	_, ok := h.clients[channel][client]
	return ok
}

func (h *Hub) addLocked(client *Client, channel string) {
	if h.clients[channel] == nil {
		h.clients[channel] = make(map[*Client]struct{})
	}
	h.clients[channel][client] = struct{}{}
}

func (h *Hub) removeLocked(client *Client, channel string) {
	subs, ok := h.clients[channel]
	if !ok {
		return
	}
	delete(subs, client)
	if len(subs) == 0 {
		delete(h.clients, channel)
	}
}

// ProcessMessage applies a subscribe or unsubscribe request.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Channels)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Channels)
	}
}

// Broadcast queues data for every subscriber of channel. Clients whose
// buffer is full miss the message.
func (h *Hub) Broadcast(channel string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for client := range h.clients[channel] {
		select {
		case client.Send <- data:
			sent++
		default:
			h.logger.Warn().Str("client_id", client.ID).Msg("client buffer full, frame skipped")
		}
	}
	return sent
}

func (h *Hub) Name() string { return "websocket" }

// Send implements Transport.
func (h *Hub) Send(_ context.Context, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	h.Broadcast(frame.Channel, data)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// ChannelCount returns the number of clients subscribed to channel.
func (h *Hub) ChannelCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[channel])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.all {
		h.unregisterLocked(client)
	}
}

// HandleConnect upgrades the request and subscribes the client to the
// record channel.
func (h *Hub) HandleConnect(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		ID:       uuid.New().String(),
		Channels: []string{Channel},
		Send:     make(chan []byte, clientBuffer),
	}
	h.Register(client)
	h.logger.Debug().Str("client_id", client.ID).Msg("client connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
}

func (h *Hub) readPump(client *Client, ws *websocket.Conn) {
	defer func() {
		h.Unregister(client)
		ws.Close()
		h.logger.Debug().Str("client_id", client.ID).Msg("client disconnected")
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.ProcessMessage(client, msg)
	}
}

func (h *Hub) writePump(client *Client, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
