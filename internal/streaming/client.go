// Package streaming serves GET /sessions/{id}/stream: one websocket
// connection per session, fed by internal/eventlog's live bus subject plus
// a ListSince catch-up replay, with a bounded per-client send queue so a
// slow reader can never block the event log's writer.
package streaming

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/orbweave/coordinator/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendBufferSize = 256
)

// Client is one subscriber connection to a single session's event stream.
type Client struct {
	ID        string
	SessionID string

	conn *websocket.Conn
	send chan []byte
	hub  *Hub
	log  *logger.Logger
}

// NewClient constructs a Client bound to sessionID.
func NewClient(id, sessionID string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:        id,
		SessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		hub:       hub,
		log:       log.WithFields(zap.String("client_id", id), zap.String("session_id", sessionID)),
	}
}

// ReadPump discards inbound client traffic but keeps the read deadline
// alive via pong handling; GET /sessions/{id}/stream is a server-push-only
// feed, so no subscription protocol is needed here.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// WritePump drains the send queue to the connection and pings on idle.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
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

// trySend enqueues msg without blocking, reporting whether the client's
// bounded queue had room.
func (c *Client) trySend(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close unregisters the client, which in turn closes its send channel.
func (c *Client) Close() {
	c.hub.Unregister(c)
}
