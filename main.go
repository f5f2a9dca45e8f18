// Command mapnudge-relay starts the real-time location sharing relay.
//
// It supports three commands:
//  1. "serve" (default) – runs the HTTP server exposing the WebSocket relay, diagnostics, and an /mcp endpoint
//  2. "mcp" – runs an MCP stdio server against a relay, starting an internal one if none is reachable
//  3. "check-config" – validates configuration files without starting anything
//
// Flags control host/port, config file, debug logging, and optional ngrok
// tunneling for easy external access during development.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/mapnudge-relay/api"
	"github.com/wricardo/mapnudge-relay/relay/config"
	"github.com/wricardo/mapnudge-relay/relay/logging"
	"github.com/wricardo/mapnudge-relay/relay/protocol"
	"github.com/wricardo/mapnudge-relay/relay/room"
	"github.com/wricardo/mapnudge-relay/transport/mcp"
	"github.com/wricardo/mapnudge-relay/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "MapNudge Location Relay"
)

const defaultAPIURL = "http://localhost:3000"

// main loads .env, wires signals into a context and runs the CLI.
func main() {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newApp builds the command tree. Root flags are persistent, so every
// subcommand sees them.
func newApp() *cli.Command {
	serveFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			Sources: cli.EnvVars("MAPNUDGE_CONFIG"),
		},
		&cli.StringFlag{Name: "host", Usage: "HTTP server host"},
		&cli.IntFlag{Name: "port", Usage: "HTTP server port"},
		&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
		&cli.BoolFlag{Name: "ngrok", Usage: "Enable ngrok tunnel"},
		&cli.StringFlag{Name: "ngrok-auth", Usage: "Ngrok auth token (or use NGROK_AUTHTOKEN env var)"},
		&cli.StringFlag{Name: "ngrok-domain", Usage: "Custom ngrok domain (optional)"},
	}

	return &cli.Command{
		Name:    "mapnudge-relay",
		Usage:   "Relay live locations between members of a room",
		Version: Version,
		Flags:   serveFlags,
		Action:  serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run HTTP server with WebSocket relay, diagnostics, and MCP endpoint (default)",
				Action: serveAction,
			},
			{
				Name:  "mcp",
				Usage: "Run MCP stdio server against a relay",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "api-url",
						Usage:   "Base URL of a running relay",
						Value:   defaultAPIURL,
						Sources: cli.EnvVars("MAPNUDGE_API_URL"),
					},
				},
				Action: mcpAction,
			},
			{
				Name:      "check-config",
				Usage:     "Validate configuration files",
				ArgsUsage: "[file...]",
				Action:    checkConfigAction,
			},
		},
	}
}

// loadConfig reads the config file and environment with flags layered on
// top, then validates the merged result.
func loadConfig(cmd *cli.Command) (config.Config, error) {
	overrides := map[string]any{}
	if cmd.IsSet("host") {
		overrides["server.host"] = cmd.String("host")
	}
	if cmd.IsSet("port") {
		overrides["server.port"] = int(cmd.Int("port"))
	}
	if cmd.Bool("ngrok") {
		overrides["ngrok.enabled"] = true
	}
	if cmd.IsSet("ngrok-auth") {
		overrides["ngrok.authtoken"] = cmd.String("ngrok-auth")
	}
	if cmd.IsSet("ngrok-domain") {
		overrides["ngrok.domain"] = cmd.String("ngrok-domain")
	}
	if cmd.Bool("debug") {
		debug := logging.Debug(config.LoggingConfig{})
		overrides["logging.level"] = debug.Level
		overrides["logging.format"] = debug.Format
	}

	return config.LoadWithOverrides(cmd.String("config"), overrides)
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting", zap.String("app", AppName), zap.String("version", Version))
	return runHTTPServer(ctx, cfg, logger)
}

// relay is one fully wired server: registry, hub, protocol handler and
// HTTP routes.
type relay struct {
	registry *room.Registry
	hub      *websocket.Hub
	api      *api.Server
	hubDone  chan struct{}
	stopHub  context.CancelFunc
}

// newRelay wires the components and starts the hub loop. The /mcp tools
// call back into the API through listener's address.
func newRelay(cfg config.Config, logger *zap.Logger, listener net.Listener) *relay {
	registry := room.NewRegistry()
	hub := websocket.NewHub(cfg.WebSocket, logger)
	handler := protocol.NewHandler(registry, hub, logger)

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(hubCtx, handler)
	}()

	apiServer := api.NewServer(registry, hub, logger)
	mcpClient := mcp.NewClient(loopbackURL(listener.Addr()), Version, logger)
	apiServer.Mount("/mcp", mcpClient.HTTPHandler(), http.MethodPost)

	return &relay{
		registry: registry,
		hub:      hub,
		api:      apiServer,
		hubDone:  hubDone,
		stopHub:  stopHub,
	}
}

func (r *relay) close() {
	r.stopHub()
	<-r.hubDone
}

// runHTTPServer starts the HTTP server with the WebSocket relay, diagnostics and an /mcp endpoint.
// If ngrok is enabled, it also provisions a public tunnel. It returns once ctx is done and
// everything has shut down.
func runHTTPServer(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	addr := cfg.Server.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	r := newRelay(cfg, logger, listener)
	defer r.close()

	httpServer := &http.Server{
		Handler:      r.api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()

		base := listener.Addr().String()
		logger.Info("HTTP server listening",
			zap.String("addr", base),
			zap.String("websocket", fmt.Sprintf("ws://%s/ws", base)),
			zap.String("mcp", fmt.Sprintf("http://%s/mcp", base)),
		)

		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	if cfg.Ngrok.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runTunnel(ctx, cfg.Ngrok, r.api, logger); err != nil {
				// The local server keeps running without the tunnel.
				logger.Error("ngrok tunnel failed", zap.Error(err))
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
	}
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	wg.Wait()
	logger.Info("server stopped")
	return runErr
}

// runTunnel exposes handler through ngrok until ctx is done.
func runTunnel(ctx context.Context, cfg config.NgrokConfig, handler http.Handler, logger *zap.Logger) error {
	logger.Info("starting ngrok tunnel")

	var tunnel ngrokConfig.Tunnel
	if cfg.Domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.Domain))
		logger.Info("using custom ngrok domain", zap.String("domain", cfg.Domain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.AuthToken))
	if err != nil {
		return fmt.Errorf("start ngrok tunnel: %w", err)
	}

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			logger.Warn("failed to close ngrok tunnel", zap.Error(err))
		}
	}()

	ngrokURL := tun.URL()
	logger.Info("ngrok tunnel established",
		zap.String("url", ngrokURL),
		zap.String("websocket", wsURL(ngrokURL)+"/ws"),
	)

	if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		return fmt.Errorf("ngrok serve: %w", err)
	}
	logger.Info("ngrok tunnel closed")
	return nil
}

// mcpAction runs an MCP stdio server. It reuses the relay at --api-url when
// one answers; otherwise it starts an internal relay on a random loopback
// port and targets that.
func mcpAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	baseURL := cmd.String("api-url")
	if relayReachable(ctx, baseURL) {
		logger.Info("using external relay for MCP", zap.String("url", baseURL))
	} else {
		logger.Info("no relay found, starting internal HTTP server", zap.String("tried", baseURL))

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}

		r := newRelay(cfg, logger, listener)
		defer r.close()

		httpServer := &http.Server{Handler: r.api}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("internal HTTP server error", zap.Error(err))
			}
		}()
		defer httpServer.Close()

		baseURL = loopbackURL(listener.Addr())
	}

	mcpClient := mcp.NewClient(baseURL, Version, logger)
	logger.Info("MCP stdio server ready", zap.String("api_url", baseURL))

	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}

// relayReachable reports whether a relay answers /health at baseURL.
func relayReachable(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// loopbackURL turns a listener address into a URL reachable from this
// process, replacing wildcard hosts with 127.0.0.1.
func loopbackURL(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return "http://" + addr.String()
	}
	host := "127.0.0.1"
	if tcp.IP != nil && !tcp.IP.IsUnspecified() {
		host = tcp.IP.String()
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprint(tcp.Port)))
}

// wsURL maps an http(s) URL to its ws(s) equivalent.
func wsURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	}
	return httpURL
}
