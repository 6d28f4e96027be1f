// Package hub tracks live websocket connections and routes per-turn payloads
// to them. Each connection gets a channel reference the client echoes back
// when submitting a message, so the turn's output lands on the right socket.
package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"concierge/internal/chat"
	"concierge/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// envelope is the wire frame for every push payload.
type envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client
	log     zerolog.Logger
}

func New() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		log:     logging.With("hub"),
	}
}

// Register creates a client for the connection and announces its channel
// reference on the socket. Call WritePump and ReadPump on the result.
func (h *Hub) Register(userID int64, conn *websocket.Conn) *Client {
	c := &Client{
		userID: userID,
		ref:    uuid.NewString(),
		conn:   conn,
		send:   make(chan envelope, sendBuffer),
		done:   make(chan struct{}),
		hub:    h,
	}
	h.mu.Lock()
	h.clients[c.ref] = c
	h.mu.Unlock()

	c.enqueue(envelope{Type: "ready", Data: map[string]string{"channelId": c.ref}})
	h.log.Debug().Int64("user_id", userID).Str("channel_ref", c.ref).Msg("client registered")
	return c
}

// Resolve returns the channel for the reference, nil when the connection is
// gone or belongs to another user.
func (h *Hub) Resolve(userID int64, channelRef string) chat.Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[channelRef]
	if !ok || c.userID != userID {
		return nil
	}
	return c
}

// Remove drops the client and closes its socket. Idempotent.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	if existing, ok := h.clients[c.ref]; !ok || existing != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ref)
	h.mu.Unlock()

	c.shutdown()
	h.log.Debug().Int64("user_id", c.userID).Str("channel_ref", c.ref).Msg("client removed")
}

// Client is one live websocket connection. It satisfies chat.Channel; sends
// never block, a full buffer drops the payload.
type Client struct {
	userID int64
	ref    string
	conn   *websocket.Conn
	send   chan envelope
	done   chan struct{}
	hub    *Hub

	closeOnce sync.Once
}

// Ref is the channel reference the client echoes back on submissions.
func (c *Client) Ref() string { return c.ref }

func (c *Client) SendChunk(p chat.ChunkPayload) {
	c.enqueue(envelope{Type: "chunk", Data: p})
}

func (c *Client) SendStatus(p chat.StatusPayload) {
	c.enqueue(envelope{Type: "status", Data: p})
}

func (c *Client) SendError(p chat.ErrorPayload) {
	c.enqueue(envelope{Type: "error", Data: p})
}

// enqueue never blocks and never panics. A turn goroutine may still hold this
// client after the connection is gone; its emissions land here and are
// dropped so the turn can finish persisting.
func (c *Client) enqueue(env envelope) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- env:
	default:
		c.hub.log.Warn().Str("channel_ref", c.ref).Str("type", env.Type).Msg("send buffer full, payload dropped")
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// WritePump drains the send queue onto the socket and keeps the connection
// alive with pings. Returns when the socket breaks or the client is removed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.Remove(c)
	}()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump discards inbound frames until the peer goes away, then removes
// the client. Submissions come over REST, not the socket.
func (c *Client) ReadPump() {
	defer c.hub.Remove(c)
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
