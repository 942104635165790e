// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gmtsync/gmtsync/lib/push"
)

const (
	// DefaultHandshakeTimeout bounds the HTTP upgrade.
	DefaultHandshakeTimeout = 15 * time.Second

	// DefaultSendBuffer is the number of frames Send may queue ahead
	// of the write pump.
	DefaultSendBuffer = 64

	writeTimeout   = 10 * time.Second
	maxMessageSize = 4 << 20
)

// ErrSendBufferFull is returned by Send when the write pump has fallen
// behind by more than the configured buffer.
var ErrSendBufferFull = errors.New("transport: websocket send buffer full")

// Compile-time interface checks.
var (
	_ push.Dialer = (*WebSocketDialer)(nil)
	_ push.Conn   = (*webSocketConn)(nil)
)

// WebSocketDialer opens push sockets.
type WebSocketDialer struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// Header is sent with the upgrade request.
	Header http.Header

	// HandshakeTimeout bounds the upgrade. Zero means
	// DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// PingInterval, when positive, sends WebSocket pings so idle
	// intermediaries keep the connection open.
	PingInterval time.Duration

	// SendBuffer is the outbound queue depth. Zero means
	// DefaultSendBuffer.
	SendBuffer int

	// Logger is used for structured logging. If nil, slog.Default() is
	// used.
	Logger *slog.Logger
}

// Dial connects to d.URL. OnOpen is delivered before Dial returns.
func (d *WebSocketDialer) Dial(ctx context.Context, handler push.Handler) (push.Conn, error) {
	handshakeTimeout := d.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  handshakeTimeout,
		EnableCompression: true,
	}
	conn, response, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("transport: websocket upgrade to %s: status %d: %w", d.URL, response.StatusCode, err)
		}
		return nil, fmt.Errorf("transport: dialing %s: %w", d.URL, err)
	}
	conn.SetReadLimit(maxMessageSize)

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := newWebSocketConn(conn, handler, d.SendBuffer, logger.With("component", "websocket", "url", d.URL))
	handler.OnOpen()
	go c.readPump()
	go c.writePump(d.PingInterval)
	return c, nil
}

type webSocketConn struct {
	conn     *websocket.Conn
	handler  push.Handler
	logger   *slog.Logger
	outbound chan []byte
	done     chan struct{}

	closing       atomic.Bool
	terminateOnce sync.Once
}

func newWebSocketConn(conn *websocket.Conn, handler push.Handler, sendBuffer int, logger *slog.Logger) *webSocketConn {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &webSocketConn{
		conn:     conn,
		handler:  handler,
		logger:   logger,
		outbound: make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

// Send queues data for the write pump.
func (c *webSocketConn) Send(data []byte) error {
	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}
	select {
	case c.outbound <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close sends a close frame and tears the socket down. The handler is
// not notified.
func (c *webSocketConn) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("close frame not sent", "error", err)
	}
	c.terminate(nil)
	return nil
}

// terminate stops both pumps and reports the first terminal condition
// to the handler, unless the close was local.
func (c *webSocketConn) terminate(err error) {
	c.terminateOnce.Do(func() {
		close(c.done)
		c.conn.Close()
		if c.closing.Load() {
			return
		}
		if err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			c.handler.OnClose()
			return
		}
		c.handler.OnError(err)
	})
}

func (c *webSocketConn) readPump() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.terminate(err)
			return
		}
		c.handler.OnMessage(data)
	}
}

func (c *webSocketConn) writePump(pingInterval time.Duration) {
	var ping <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case <-c.done:
			return
		case data := <-c.outbound:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.terminate(err)
				return
			}
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.terminate(err)
				return
			}
		}
	}
}
