// File: server/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-socket orchestration. Each accepted socket gets one goroutine that
// parses the request head, routes it, and on a successful chat upgrade
// becomes the connection's read loop. Admission is checked before the
// handshake so a full relay never upgrades a socket it cannot keep.

package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/momentics/relay-ws/control"
	"github.com/momentics/relay-ws/protocol"
	"github.com/momentics/relay-ws/relay"
	"github.com/momentics/relay-ws/web"
)

func (s *Server) serveConn(conn net.Conn) {
	tuneConn(conn)

	if s.cfg.ReadHeaderTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadHeaderTimeout))
	}
	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		_ = conn.Close()
		return
	}
	// Liveness of an upgraded connection is the keepalive cycle's job.
	_ = conn.SetReadDeadline(time.Time{})

	if protocol.IsUpgrade(req) {
		c, ok := s.upgrade(conn, br, req)
		if !ok {
			return
		}
		go c.WriteLoop()
		c.ReadLoop()
		return
	}
	s.servePlain(conn, req)
}

// upgrade negotiates the WebSocket handshake and registers the client.
// On any failure the socket is already dealt with and ok is false.
func (s *Server) upgrade(conn net.Conn, br *bufio.Reader, req *http.Request) (*relay.Client, bool) {
	logger := s.logger.With("remote", conn.RemoteAddr().String())
	_, span := control.Tracer().Start(req.Context(), "relay.handshake",
		trace.WithAttributes(attribute.String("http.path", req.URL.Path)))
	defer span.End()

	// Upgrades outside the chat path are destroyed without a response.
	if req.URL.Path != s.cfg.ChatPath {
		s.metrics.HandshakeFailures.WithLabelValues(control.FailurePath).Inc()
		logger.Debug("upgrade on unexpected path", "path", req.URL.Path)
		_ = conn.Close()
		return nil, false
	}

	if !s.hub.Reserve() {
		s.metrics.HandshakeFailures.WithLabelValues(control.FailureCapacity).Inc()
		logger.Info("upgrade refused at capacity")
		writeResponse(conn, http.StatusServiceUnavailable, "text/plain; charset=utf-8",
			[]byte("service unavailable\n"))
		_ = conn.Close()
		return nil, false
	}

	key, err := protocol.ValidateUpgrade(req)
	if err != nil {
		// Fatal per the upgrade contract: close with no response.
		s.hub.Release()
		s.metrics.HandshakeFailures.WithLabelValues(control.FailureHeaders).Inc()
		logger.Debug("handshake rejected", "err", err)
		span.RecordError(err)
		_ = conn.Close()
		return nil, false
	}

	// Origin is recorded for audit and never used to reject.
	if origin := req.Header.Get("Origin"); origin != "" {
		logger.Debug("upgrade origin", "origin", origin)
	}

	if _, err := conn.Write(protocol.AcceptResponse(key)); err != nil {
		s.hub.Release()
		s.metrics.HandshakeFailures.WithLabelValues(control.FailureIO).Inc()
		logger.Debug("write handshake response", "err", err)
		_ = conn.Close()
		return nil, false
	}

	c := relay.NewClient(conn, br, s.cfg.SendQueueSize, s.cfg.WriteTimeout,
		s.logger.With("component", "conn"))
	if err := s.hub.Join(c, req.URL.Query().Get("nick")); err != nil {
		_ = conn.Close()
		return nil, false
	}
	return c, true
}

// servePlain answers non-upgrade HTTP requests: the embedded chat page on
// the root path, 404 elsewhere. The connection is single-shot.
func (s *Server) servePlain(conn net.Conn, req *http.Request) {
	defer conn.Close()

	if req.Method != http.MethodGet {
		writeResponse(conn, http.StatusMethodNotAllowed, "text/plain; charset=utf-8",
			[]byte("method not allowed\n"))
		return
	}
	switch req.URL.Path {
	case "/", "/index.html":
		writeResponse(conn, http.StatusOK, "text/html; charset=utf-8", web.IndexHTML)
	default:
		writeResponse(conn, http.StatusNotFound, "text/plain; charset=utf-8",
			[]byte("not found\n"))
	}
}

// writeResponse writes a minimal single-shot HTTP/1.1 response.
func writeResponse(conn net.Conn, status int, contentType string, body []byte) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	sb.WriteString("Connection: close\r\n")
	if contentType != "" {
		sb.WriteString("Content-Type: " + contentType + "\r\n")
	}
	fmt.Fprintf(&sb, "Content-Length: %d\r\n\r\n", len(body))

	// Fire-and-forget: the peer may already be gone.
	if _, err := conn.Write([]byte(sb.String())); err != nil {
		return
	}
	_, _ = conn.Write(body)
}
