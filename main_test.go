package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/wricardo/mapnudge-relay/api"
	"github.com/wricardo/mapnudge-relay/relay/config"
	"github.com/wricardo/mapnudge-relay/relay/protocol"
)

func TestConstants(t *testing.T) {
	assert.NotEmpty(t, Version)
	assert.Equal(t, "MapNudge Location Relay", AppName)
}

func TestNewApp(t *testing.T) {
	app := newApp()

	assert.Equal(t, Version, app.Version)
	var names []string
	for _, c := range app.Commands {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"serve", "mcp", "check-config"}, names)
}

// runLoadConfig parses args through the real flag set and returns the
// resulting configuration.
func runLoadConfig(t *testing.T, args ...string) (config.Config, error) {
	t.Helper()

	var (
		cfg config.Config
		err error
	)
	app := newApp()
	app.Action = func(ctx context.Context, cmd *cli.Command) error {
		cfg, err = loadConfig(cmd)
		return nil
	}
	require.NoError(t, app.Run(context.Background(), append([]string{"mapnudge-relay"}, args...)))
	return cfg, err
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := runLoadConfig(t)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Server.Port, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	cfg, err := runLoadConfig(t, "--host", "127.0.0.1", "--port", "4100", "--debug")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4100", cfg.Server.Addr())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadConfig_FileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 5000\nlogging:\n  level: warn\n"), 0644))

	cfg, err := runLoadConfig(t, "-c", path, "--port", "5001")
	require.NoError(t, err)
	assert.Equal(t, 5001, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfig_NgrokNeedsToken(t *testing.T) {
	t.Setenv("NGROK_AUTHTOKEN", "")
	t.Setenv("NGROK_AUTH_TOKEN", "")

	_, err := runLoadConfig(t, "--ngrok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ngrok.authtoken")

	cfg, err := runLoadConfig(t, "--ngrok", "--ngrok-auth", "tok", "--ngrok-domain", "relay.example.com")
	require.NoError(t, err)
	assert.True(t, cfg.Ngrok.Enabled)
	assert.Equal(t, "tok", cfg.Ngrok.AuthToken)
	assert.Equal(t, "relay.example.com", cfg.Ngrok.Domain)
}

func TestLoadConfig_FlagsRepairEnvironment(t *testing.T) {
	t.Setenv("MAPNUDGE_SERVER_PORT", "99999")
	t.Setenv("NGROK_ENABLED", "true")
	t.Setenv("NGROK_AUTHTOKEN", "")
	t.Setenv("NGROK_AUTH_TOKEN", "")

	cfg, err := runLoadConfig(t, "--port", "4100", "--ngrok-auth", "X")
	require.NoError(t, err)
	assert.Equal(t, 4100, cfg.Server.Port)
	assert.True(t, cfg.Ngrok.Enabled)
	assert.Equal(t, "X", cfg.Ngrok.AuthToken)
}

func TestReportConfigs(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(good, []byte("server:\n  port: 8080\n"), 0644))
	require.NoError(t, os.WriteFile(bad, []byte("logging:\n  format: xml\n"), 0644))

	var out bytes.Buffer
	assert.True(t, reportConfigs(&out, []string{good}))
	assert.Contains(t, out.String(), "✅ VALID")
	assert.Contains(t, out.String(), "listen: 0.0.0.0:8080")
	assert.Contains(t, out.String(), "All configurations are valid")

	out.Reset()
	assert.False(t, reportConfigs(&out, []string{good, bad}))
	assert.Contains(t, out.String(), "❌ INVALID")
	assert.Contains(t, out.String(), "logging.format")
	assert.Contains(t, out.String(), "Some configurations have errors")
}

func TestReportConfigs_DefaultsOnly(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, reportConfigs(&out, []string{""}))
	assert.Contains(t, out.String(), "(defaults + environment)")
}

func TestLoopbackURL(t *testing.T) {
	tests := []struct {
		addr net.Addr
		want string
	}{
		{&net.TCPAddr{IP: net.IPv4zero, Port: 3000}, "http://127.0.0.1:3000"},
		{&net.TCPAddr{IP: net.IPv6unspecified, Port: 3000}, "http://127.0.0.1:3000"},
		{&net.TCPAddr{Port: 3000}, "http://127.0.0.1:3000"},
		{&net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 8080}, "http://10.0.0.5:8080"},
		{&net.TCPAddr{IP: net.ParseIP("::1"), Port: 8080}, "http://[::1]:8080"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, loopbackURL(tt.addr))
	}
}

func TestWsURL(t *testing.T) {
	assert.Equal(t, "wss://abc.ngrok.app", wsURL("https://abc.ngrok.app"))
	assert.Equal(t, "ws://localhost:3000", wsURL("http://localhost:3000"))
	assert.Equal(t, "ftp://x", wsURL("ftp://x"))
}

func TestRelayEndToEnd(t *testing.T) {
	srv := httptest.NewUnstartedServer(nil)
	r := newRelay(config.Default(), zap.NewNop(), srv.Listener)
	srv.Config.Handler = r.api
	srv.Start()
	t.Cleanup(func() {
		srv.Close()
		r.close()
	})

	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	dial := func() *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(wsBase, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}
	send := func(conn *websocket.Conn, event string, payload any) {
		frame, err := protocol.Encode(event, payload)
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
	}
	expect := func(conn *websocket.Conn, event string) {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		require.Equal(t, event, env.Event, string(data))
	}

	alice := dial()
	send(alice, protocol.EventJoinRoom, protocol.JoinRequest{RoomID: "trip", UserID: "alice"})
	expect(alice, protocol.EventJoinedRoom)

	lat, lon := 48.8566, 2.3522
	send(alice, protocol.EventShareLocation, protocol.ShareLocationRequest{
		RoomID: "trip", UserID: "alice", Latitude: &lat, Longitude: &lon,
	})
	expect(alice, protocol.EventLocationShared)

	bob := dial()
	send(bob, protocol.EventJoinRoom, protocol.JoinRequest{RoomID: "trip", UserID: "bob"})
	expect(bob, protocol.EventJoinedRoom)
	expect(bob, protocol.EventExistingLocations)
	expect(alice, protocol.EventUserJoined)

	resp, err := http.Get(srv.URL + "/room/trip")
	require.NoError(t, err)
	defer resp.Body.Close()
	var roomResp api.RoomResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&roomResp))
	assert.True(t, roomResp.Exists)
	assert.Equal(t, []string{"alice", "bob"}, roomResp.Users)
	require.NotNil(t, roomResp.Locations["alice"].Latitude)
	assert.Equal(t, lat, *roomResp.Locations["alice"].Latitude)

	statusResp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer statusResp.Body.Close()
	var status api.StatusResponse
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&status))
	assert.Equal(t, 1, status.ActiveRooms)
	assert.Equal(t, 2, status.ConnectedUsers)
	assert.Equal(t, 2, status.Connections)

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`
	mcpResp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer mcpResp.Body.Close()
	assert.Equal(t, http.StatusOK, mcpResp.StatusCode)

	bob.Close()
	expect(alice, protocol.EventUserLeft)
	assert.Equal(t, []string{"alice"}, mustMembers(t, r))
}

func mustMembers(t *testing.T, r *relay) []string {
	t.Helper()
	ids, err := r.registry.MemberIDs("trip")
	require.NoError(t, err)
	return ids
}

func TestRunHTTPServer_StopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runHTTPServer(ctx, cfg, zap.NewNop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runHTTPServer did not return after cancel")
	}
}

func TestRelayReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.True(t, relayReachable(context.Background(), srv.URL))
	assert.False(t, relayReachable(context.Background(), "http://127.0.0.1:1"))
}
