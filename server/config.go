// File: server/config.go
// Package server runs the relay: a raw TCP accept loop, the in-process
// handshake and routing of each socket, and the optional admin endpoint.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server-side configuration parameters.
type Config struct {
	ListenAddr        string        `yaml:"listen_addr"`        // TCP bind address, e.g. ":8080"
	AdminAddr         string        `yaml:"admin_addr"`         // metrics/health bind address, empty disables
	ChatPath          string        `yaml:"chat_path"`          // upgrade path accepted for chat
	MaxConnections    int           `yaml:"max_connections"`    // admission cap
	HistoryLimit      int           `yaml:"history_limit"`      // retained backlog envelopes
	NickMaxLen        int           `yaml:"nick_max_len"`       // nickname cap, runes
	MessageMaxLen     int           `yaml:"message_max_len"`    // chat text cap, runes
	RateLimit         int           `yaml:"rate_limit"`         // messages per rate window
	RateWindow        time.Duration `yaml:"rate_window"`        // rate window length
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // keepalive probe period
	SendQueueSize     int           `yaml:"send_queue_size"`    // per-connection outbound queue
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	Log LogConfig `yaml:"log"`
}

// LogConfig selects the slog handler built by NewLogger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:        ":8080",
		AdminAddr:         "",
		ChatPath:          "/ws",
		MaxConnections:    100,
		HistoryLimit:      50,
		NickMaxLen:        24,
		MessageMaxLen:     1000,
		RateLimit:         5,
		RateWindow:        time.Second,
		HeartbeatInterval: 30 * time.Second,
		SendQueueSize:     64,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		Log:               LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads a YAML file over the defaults. Unset keys keep their
// default values.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// NewLogger builds the slog logger described by the config.
func NewLogger(cfg LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
