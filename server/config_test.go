// File: server/config_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/relay-ws/server"
)

func TestDefaultConfig(t *testing.T) {
	cfg := server.DefaultConfig()
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "/ws", cfg.ChatPath)
	assert.Equal(t, 100, cfg.MaxConnections)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, 24, cfg.NickMaxLen)
	assert.Equal(t, 1000, cfg.MessageMaxLen)
	assert.Equal(t, 5, cfg.RateLimit)
	assert.Equal(t, time.Second, cfg.RateWindow)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Empty(t, cfg.AdminAddr, "admin endpoint is off by default")
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	data := []byte("listen_addr: \":9000\"\nrate_limit: 10\nlog:\n  level: debug\n  format: json\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := server.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 10, cfg.RateLimit)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Unset keys keep their defaults.
	assert.Equal(t, 100, cfg.MaxConnections)
	assert.Equal(t, time.Second, cfg.RateWindow)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := server.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: [oops"), 0o600))
	_, err := server.LoadConfig(path)
	assert.Error(t, err)
}

func TestNewLoggerFormats(t *testing.T) {
	for _, format := range []string{"text", "json", ""} {
		logger := server.NewLogger(server.LogConfig{Level: "warn", Format: format})
		require.NotNil(t, logger)
		assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
		assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
	}
}
