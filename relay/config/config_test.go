package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            3000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			WriteWait:      10 * time.Second,
			PongWait:       time.Minute,
			MaxMessageSize: 4096,
			SendBuffer:     256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func TestValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestServerAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:3000", validConfig().Server.Addr())
}

func TestPingPeriod(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, 54*time.Second, cfg.WebSocket.PingPeriod())
	assert.Less(t, cfg.WebSocket.PingPeriod(), cfg.WebSocket.PongWait)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.WebSocket.WriteWait)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, int64(4096), cfg.WebSocket.MaxMessageSize)
	assert.Equal(t, 256, cfg.WebSocket.SendBuffer)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Ngrok.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	err := os.WriteFile(path, []byte(`
server:
  host: 127.0.0.1
  port: 8181
  shutdown_timeout: 3s
websocket:
  pong_wait: 30s
  send_buffer: 16
logging:
  level: debug
  format: console
`), 0644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8181", cfg.Server.Addr())
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, 16, cfg.WebSocket.SendBuffer)
	assert.Equal(t, 10*time.Second, cfg.WebSocket.WriteWait, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().WebSocket, cfg.WebSocket)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MAPNUDGE_LOGGING_LEVEL", "warn")
	t.Setenv("MAPNUDGE_WEBSOCKET_SEND_BUFFER", "32")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 32, cfg.WebSocket.SendBuffer)
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv("PORT", "4321")
	t.Setenv("NGROK_AUTHTOKEN", "tok")
	t.Setenv("NGROK_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4321, cfg.Server.Port)
	assert.True(t, cfg.Ngrok.Enabled)
	assert.Equal(t, "tok", cfg.Ngrok.AuthToken)
}

func TestLoadWithOverrides_ValidatesMergedResult(t *testing.T) {
	t.Setenv("MAPNUDGE_SERVER_PORT", "99999")
	t.Setenv("NGROK_ENABLED", "true")
	t.Setenv("NGROK_AUTHTOKEN", "")
	t.Setenv("NGROK_AUTH_TOKEN", "")

	_, err := Load("")
	require.Error(t, err)

	cfg, err := LoadWithOverrides("", map[string]any{
		"server.port":     4100,
		"ngrok.authtoken": "tok",
	})
	require.NoError(t, err)
	assert.Equal(t, 4100, cfg.Server.Port)
	assert.True(t, cfg.Ngrok.Enabled)
	assert.Equal(t, "tok", cfg.Ngrok.AuthToken)
}

func TestLoadWithOverrides_BeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\n  format: xml\n"), 0644))

	cfg, err := LoadWithOverrides(path, map[string]any{"logging.format": "console"})
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: trace
websocket:
  send_buffer: 0
`), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
	assert.Contains(t, err.Error(), "websocket.send_buffer")
}

func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"negative port", func(c *Config) { c.Server.Port = -1 }, "server.port"},
		{"zero shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "server.shutdown_timeout"},
		{"zero pong wait", func(c *Config) { c.WebSocket.PongWait = 0 }, "websocket.pong_wait"},
		{"tiny messages", func(c *Config) { c.WebSocket.MaxMessageSize = 10 }, "websocket.max_message_size"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"ngrok without token", func(c *Config) { c.Ngrok.Enabled = true }, "ngrok.authtoken"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPropertyValidPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.IntRange(0, 65535).Draw(t, "port")
		cfg := validConfig()
		cfg.Server.Port = port
		if err := cfg.Validate(); err != nil {
			t.Fatalf("valid port %d rejected: %v", port, err)
		}
	})
}

func TestPropertyInvalidPortRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		port := rapid.OneOf(
			rapid.IntRange(-1000, -1),
			rapid.IntRange(65536, 100000),
		).Draw(t, "port")
		cfg := validConfig()
		cfg.Server.Port = port
		if err := cfg.Validate(); err == nil {
			t.Fatalf("invalid port %d accepted", port)
		}
	})
}
