// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/relay-ws/control"
	"github.com/momentics/relay-ws/relay"
)

// ErrServerClosed is returned by Run after a clean Shutdown.
var ErrServerClosed = errors.New("server closed")

// Server ties the accept loop, the hub, and the admin endpoint together.
type Server struct {
	cfg      *Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *control.Metrics
	hub      *relay.Hub

	ln    net.Listener
	admin *http.Server

	closed int32
	wg     sync.WaitGroup
}

// NewServer builds the relay server. A nil cfg selects DefaultConfig.
func NewServer(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = NewLogger(cfg.Log)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = control.NewMetrics(s.registry)
	s.hub = relay.NewHub(relay.HubConfig{
		Capacity:          cfg.MaxConnections,
		HistoryLimit:      cfg.HistoryLimit,
		NickMaxLen:        cfg.NickMaxLen,
		TextMaxLen:        cfg.MessageMaxLen,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Rate:              relay.RatePolicy{Limit: cfg.RateLimit, Window: cfg.RateWindow},
	}, s.logger, s.metrics)
	return s, nil
}

// Hub exposes the relay hub, mainly for health probes.
func (s *Server) Hub() *relay.Hub {
	return s.hub
}

// Addr returns the bound listener address once Run has started.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Run binds the relay listener and accepts connections until Shutdown.
// After a clean shutdown it returns ErrServerClosed.
func (s *Server) Run() error {
	lc := net.ListenConfig{Control: listenControl}
	ln, err := lc.Listen(context.Background(), "tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.ln = ln
	s.hub.Start()
	if s.cfg.AdminAddr != "" {
		s.startAdmin()
	}
	s.logger.Info("relay listening",
		"addr", ln.Addr().String(), "chat_path", s.cfg.ChatPath, "capacity", s.cfg.MaxConnections)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.closed) == 1 {
				return ErrServerClosed
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// Shutdown closes the listener, disconnects every client through the hub,
// and waits up to the configured timeout for connection goroutines to
// drain. Safe to call more than once.
func (s *Server) Shutdown() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	s.logger.Info("shutting down")
	if s.ln != nil {
		_ = s.ln.Close()
	}
	if s.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		_ = s.admin.Shutdown(ctx)
	}
	s.hub.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		return fmt.Errorf("shutdown timeout after %v", s.cfg.ShutdownTimeout)
	}
}

// startAdmin serves metrics and health on the admin address. The admin
// surface is plain HTTP on its own listener, never the relay port.
func (s *Server) startAdmin() {
	handler := control.NewAdminHandler(s.registry, func() control.HealthStatus {
		return control.HealthStatus{Status: "ok", Connections: s.hub.Count()}
	})
	s.admin = &http.Server{
		Addr:              s.cfg.AdminAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.logger.Info("admin endpoint listening", "addr", s.cfg.AdminAddr)
		if err := s.admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin endpoint failed", "err", err)
		}
	}()
}
