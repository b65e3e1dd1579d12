// File: relay/client.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Client binds one admitted socket to the hub: a reader goroutine feeds
// decoded frames to the hub as events, a writer goroutine drains the send
// queue. The hub goroutine is the only sender on the queue, which lets it
// close the queue to initiate teardown; the writer then flushes whatever
// is left and closes the socket.

package relay

import (
	"bufio"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/momentics/relay-ws/protocol"
)

// Teardown reasons reported on leave events and metrics labels.
const (
	ReasonClientClose   = "client close"
	ReasonReadError     = "read error"
	ReasonProtocolError = "protocol error"
	ReasonRateLimit     = "rate limit"
	ReasonKeepalive     = "keepalive timeout"
	ReasonSlowConsumer  = "slow consumer"
	ReasonShutdown      = "shutdown"
)

const readChunkSize = 4096

// Client is one admitted relay connection.
type Client struct {
	id   uint64
	nick string

	conn net.Conn
	br   *bufio.Reader
	hub  *Hub

	logger *slog.Logger

	// send carries encoded frames. The hub goroutine is the sole sender
	// and closes the channel to start teardown.
	send chan []byte

	writeTimeout time.Duration
	closed       int32

	// Hub-owned state. Only the hub goroutine touches these.
	alive bool
	rate  RateWindow
}

// NewClient wraps an upgraded socket. br must be the reader the handshake
// request was parsed from, so frame bytes that arrived with the request
// head are not lost.
func NewClient(conn net.Conn, br *bufio.Reader, queueSize int, writeTimeout time.Duration, logger *slog.Logger) *Client {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Client{
		conn:         conn,
		br:           br,
		send:         make(chan []byte, queueSize),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// ID returns the connection identifier assigned at join.
func (c *Client) ID() uint64 { return c.id }

// Nick returns the unique nickname assigned at join.
func (c *Client) Nick() string { return c.nick }

// RemoteAddr returns the peer address for logging.
func (c *Client) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// enqueue offers an encoded frame to the send queue without blocking.
// Called only from the hub goroutine while the client is registered.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// WriteLoop drains the send queue onto the socket. It exits when the hub
// closes the queue, closing the socket after the final flush so queued
// teardown frames still reach the peer. A write failure stops the flush
// and closes the socket immediately.
func (c *Client) WriteLoop() {
	defer c.closeConn()
	for data := range c.send {
		if c.writeTimeout > 0 {
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		}
		if _, err := c.conn.Write(data); err != nil {
			c.logger.Debug("write failed", "id", c.id, "err", err)
			return
		}
		c.hub.metrics.FramesWritten.Inc()
	}
}

// ReadLoop accumulates socket bytes, decodes complete frames, and feeds
// them to the hub. It returns when the peer disconnects, violates the
// protocol, or asks to close. Teardown is reported to the hub exactly
// once per cause; the hub deduplicates.
func (c *Client) ReadLoop() {
	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)

	for {
		for {
			frame, consumed, err := protocol.DecodeFrame(buf)
			if err != nil {
				c.logger.Warn("protocol violation", "id", c.id, "err", err)
				c.hub.Drop(c, ReasonProtocolError)
				return
			}
			if frame == nil {
				break // need more bytes
			}
			buf = append(buf[:0], buf[consumed:]...)
			c.hub.metrics.FramesRead.Inc()
			if c.handleFrame(frame) {
				return
			}
		}

		n, err := c.br.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			c.hub.Drop(c, ReasonReadError)
			return
		}
	}
}

// handleFrame dispatches one decoded frame. It reports whether the read
// loop should stop.
func (c *Client) handleFrame(f *protocol.Frame) bool {
	switch f.Opcode {
	case protocol.OpcodeClose:
		c.hub.CloseRequest(c, f.Payload)
		return true
	case protocol.OpcodePing:
		c.hub.Ping(c, f.Payload)
	case protocol.OpcodePong:
		c.hub.Alive(c)
	case protocol.OpcodeText, protocol.OpcodeContinuation:
		c.handleText(f.Payload)
	}
	// Binary and reserved opcodes are ignored.
	return false
}

func (c *Client) handleText(payload []byte) {
	in, err := DecodeInbound(payload)
	if err != nil {
		// Malformed application payloads are discarded; the connection
		// stays up.
		c.logger.Debug("discarding inbound payload", "id", c.id, "err", err)
		return
	}
	switch in.Type {
	case TypeMessage:
		c.hub.Chat(c, in.Text)
	case TypePing:
		c.hub.Alive(c)
	}
}

// closeConn closes the socket exactly once.
func (c *Client) closeConn() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		_ = c.conn.Close()
	}
}
