package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mahaj/snappy-realtime/pkg/auth"
	"github.com/mahaj/snappy-realtime/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 << 10

	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Client is a middleman between the websocket connection and the hub. It is
// the presence.Session for one device.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound events.
	send chan []byte

	// Closed when the read pump exits; Send becomes a no-op.
	done      chan struct{}
	closeOnce sync.Once

	id     string
	userID string
	log    *slog.Logger
}

func (c *Client) ID() string { return c.id }

// Send queues ev without blocking. A full buffer drops the event.
func (c *Client) Send(ev model.Event) bool {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.log.Error("Failed to marshal event", "event", ev.Name, "error", err)
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.log.Warn("send buffer full, dropping event", "event", ev.Name)
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump pumps events from the websocket connection to the hub.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.close()
		c.hub.Disconnect(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read failed", "error", err)
			}
			return
		}

		var ev model.Event
		if err := json.Unmarshal(message, &ev); err != nil || ev.Name == "" {
			c.log.Warn("dropping malformed frame", "error", err, "bytes", len(message))
			continue
		}
		c.hub.HandleClientEvent(ctx, c, ev)
	}
}

// writePump pumps events from the hub to the websocket connection, one
// frame per event.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWs authenticates the peer and starts its pumps. The session joins
// presence only when it sends setup.
func serveWs(ctx context.Context, hub *Hub, issuer *auth.Issuer, w http.ResponseWriter, r *http.Request) {
	claims, err := issuer.Authenticate(r)
	if err != nil {
		hub.log.Warn("Unauthorized websocket upgrade", "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Error("websocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		id:     id,
		userID: claims.UserID,
		log:    hub.log.With("session", id, "user", claims.UserID),
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump(ctx)
}
