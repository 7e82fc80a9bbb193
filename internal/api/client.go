package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Client is one websocket connection. Requests are handled one at a time on the read
// goroutine; everything written to the connection goes through send.
type Client struct {
	id      string
	account string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte

	// Guarded by hub.mu.
	rooms map[string]struct{}
	// Players joined through this connection, by player id. Only touched by the read goroutine.
	players map[string]string
}

func newClient(h *Hub, conn *websocket.Conn, account string) *Client {
	return &Client{
		id:      uuid.NewString(),
		account: account,
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		rooms:   make(map[string]struct{}),
		players: make(map[string]string),
	}
}

// owns reports whether the player was joined to the room through this connection.
func (c *Client) owns(playerID, roomID string) bool {
	r, ok := c.players[playerID]
	return ok && r == roomID
}

func (c *Client) readPump(ctx context.Context, handle func(ctx context.Context, c *Client, req request)) {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()

		slog.InfoContext(ctx, "ws: connection closed", "client", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var req request
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.WarnContext(ctx, "ws: read failed", "client", c.id, "error", err)
			}
			return
		}

		handle(ctx, c, req)
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.WarnContext(ctx, "ws: write failed", "client", c.id, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.WarnContext(ctx, "ws: ping failed", "client", c.id, "error", err)
				return
			}
		}
	}
}
