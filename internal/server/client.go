// Package server manages individual WebSocket sessions, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	pingInterval  = 54 * time.Second
)

// Client represents one live session: a WebSocket connection, its unique
// session id, and its buffered outbound queue. Registration state lives in
// the hub's roster, not here.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool
	maxMessageSize int64
	limiter        *rateLimiter
	rateLimit      RateLimitConfig
}

// NewClient creates a Client for the given connection with a fresh session
// id. The send channel is buffered so slow readers do not stall the hub.
func NewClient(conn *websocket.Conn, hub *Hub, id, addr string) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, cfg.SendBuffer),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        newRateLimiter(cfg.RateLimitBurst, cfg.RateLimitRefillInterval),
		rateLimit: RateLimitConfig{
			Burst:          cfg.RateLimitBurst,
			RefillInterval: cfg.RateLimitRefillInterval,
		},
	}
}

// GetSendChan exposes the outbound queue for tests that play the role of the
// write pump.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Start launches the read and write pumps. The client must already be
// attached to the hub so no broadcast is missed between attach and pump
// start.
func (c *Client) Start() {
	c.hub.wg.Add(2)
	go func() {
		defer c.hub.wg.Done()
		c.writePump()
	}()
	go func() {
		defer c.hub.wg.Done()
		c.readPump()
	}()
}

// readPump decodes inbound frames and forwards them to the hub until the
// connection dies, then reports the detach exactly once.
func (c *Client) readPump() {
	defer func() {
		// During hub shutdown the loop no longer drains detach; don't block.
		select {
		case c.hub.detach <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			slog.Warn("error closing connection in read pump", "sessionId", c.id, "error", err)
		}
	}()

	c.setupReadDeadlines()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if c.limiter != nil && !c.limiter.allow() {
			slog.Warn("rate limit exceeded, discarding frame",
				"sessionId", c.id, "burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
			continue
		}

		var event InboundEvent
		if err := json.Unmarshal(frame, &event); err != nil {
			slog.Debug("discarding malformed frame", "sessionId", c.id, "error", err)
			continue
		}

		select {
		case c.hub.inbound <- Envelope{Client: c, Event: event}:
		case <-c.hub.ctx.Done():
			return
		}
	}
}

func (c *Client) setupReadDeadlines() {
	if err := c.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		slog.Warn("error setting read deadline", "sessionId", c.id, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
}

// logReadError classifies a read failure so expected disconnects stay quiet.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		slog.Warn("frame exceeded maximum size", "sessionId", c.id, "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		slog.Info("client disconnected", "sessionId", c.id)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		slog.Info("connection closed", "sessionId", c.id)
	default:
		slog.Warn("websocket read error", "sessionId", c.id, "error", err)
	}
}

// writePump drains the send channel onto the wire and keeps the connection
// alive with periodic pings. It exits when the channel closes or a write
// fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			slog.Warn("error closing connection in write pump", "sessionId", c.id, "error", err)
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				slog.Warn("error setting write deadline", "sessionId", c.id, "error", err)
				return
			}
			if !ok {
				// Hub dropped us: say goodbye properly.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
					slog.Warn("error writing close message", "sessionId", c.id, "error", err)
				}
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !isExpectedCloseError(err) {
					slog.Warn("error writing frame", "sessionId", c.id, "error", err)
				}
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				slog.Warn("error setting ping deadline", "sessionId", c.id, "error", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.hub.ctx.Done():
			return
		}
	}
}
