package server

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/damso-chat/damso/internal/logging"
)

// Client wraps one WebSocket connection. The read pump feeds inbound
// envelopes to the hub's router; the write pump drains the send channel and
// keeps the connection alive with pings.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	addr    string
	session *Session
	limiter *rateLimiter
	socket  SocketConfig
}

// NewClient wraps an upgraded connection. conn may be nil in tests; the hub
// only starts pumps for real connections.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, cfg SocketConfig) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		addr:    addr,
		limiter: newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		socket:  cfg,
	}
}

// Session returns the session the hub bound to this connection.
func (c *Client) Session() *Session { return c.session }

func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(c.socket.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.socket.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.allow() {
			logging.L().Warn().Str("addr", c.addr).Msg("rate limit exceeded, discarding envelope")
			continue
		}

		c.hub.HandleInbound(c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.socket.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.socket.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.socket.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		logging.L().Warn().
			Str("addr", c.addr).
			Int64("limit", c.socket.MaxMessageSize).
			Msg("inbound message exceeded size limit")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure),
		errors.Is(err, io.EOF),
		isExpectedCloseError(err):
		logging.L().Debug().Str("addr", c.addr).Err(err).Msg("connection closed")
	default:
		logging.L().Warn().Str("addr", c.addr).Err(err).Msg("websocket read error")
	}
}

// isExpectedCloseError checks for the network errors that routinely show up
// when a peer goes away mid-write.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
