// Command simulate drives a fake member through a relay room. It joins a
// room over WebSocket, walks a small circle around a starting point while
// sharing its location, periodically asks for everyone's locations, and
// prints every event it receives.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/wricardo/mapnudge-relay/relay/config"
	"github.com/wricardo/mapnudge-relay/relay/logging"
	"github.com/wricardo/mapnudge-relay/relay/protocol"
)

const metersPerDegree = 111320.0

// Options configures one simulated member.
type Options struct {
	URL       string
	Room      string
	User      string
	Interval  time.Duration
	Lat, Lon  float64
	Radius    float64 // meters
	Steps     int
	PollEvery int
}

// Walker yields points on a circle around a center.
type Walker struct {
	CenterLat, CenterLon float64
	Radius               float64
	Steps                int
}

// Position returns the point for tick, wrapping every Steps ticks.
func (w Walker) Position(tick int) (lat, lon float64) {
	steps := w.Steps
	if steps < 1 {
		steps = 1
	}
	angle := 2 * math.Pi * float64(tick%steps) / float64(steps)
	dLat := w.Radius * math.Cos(angle) / metersPerDegree
	dLon := w.Radius * math.Sin(angle) / (metersPerDegree * math.Cos(w.CenterLat*math.Pi/180))
	return w.CenterLat + dLat, w.CenterLon + dLon
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "simulate",
		Usage: "Walk a simulated member around a relay room",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "ws://localhost:3000/ws", Usage: "Relay WebSocket URL"},
			&cli.StringFlag{Name: "room", Value: "demo", Usage: "Room to join"},
			&cli.StringFlag{Name: "user", Usage: "User id (random when empty)"},
			&cli.DurationFlag{Name: "interval", Value: 2 * time.Second, Usage: "Time between location shares"},
			&cli.FloatFlag{Name: "lat", Value: 52.5200, Usage: "Center latitude"},
			&cli.FloatFlag{Name: "lon", Value: 13.4050, Usage: "Center longitude"},
			&cli.FloatFlag{Name: "radius", Value: 50, Usage: "Circle radius in meters"},
			&cli.IntFlag{Name: "steps", Value: 36, Usage: "Points per lap"},
			&cli.IntFlag{Name: "poll-every", Value: 5, Usage: "Request all locations every N shares (0 disables)"},
			&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logCfg := config.LoggingConfig{Level: "info", Format: "console"}
			if cmd.Bool("debug") {
				logCfg = logging.Debug(logCfg)
			}
			logger, err := logging.NewLogger(logCfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			user := cmd.String("user")
			if user == "" {
				user = "sim-" + uuid.NewString()[:8]
			}

			return Run(ctx, Options{
				URL:       cmd.String("url"),
				Room:      cmd.String("room"),
				User:      user,
				Interval:  cmd.Duration("interval"),
				Lat:       cmd.Float("lat"),
				Lon:       cmd.Float("lon"),
				Radius:    cmd.Float("radius"),
				Steps:     int(cmd.Int("steps")),
				PollEvery: int(cmd.Int("poll-every")),
			}, os.Stdout, logger)
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Run connects, joins and walks until ctx is done or the relay hangs up.
// Every inbound event is printed to out.
func Run(ctx context.Context, opts Options, out io.Writer, logger *zap.Logger) error {
	if opts.Interval <= 0 {
		return errors.New("interval must be positive")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	defer conn.Close()

	logger.Info("connected",
		zap.String("url", opts.URL),
		zap.String("room_id", opts.Room),
		zap.String("user_id", opts.User),
	)

	readDone := make(chan error, 1)
	go func() { readDone <- printEvents(conn, out) }()

	if err := send(conn, protocol.EventJoinRoom, protocol.JoinRequest{RoomID: opts.Room, UserID: opts.User}); err != nil {
		return err
	}

	walker := Walker{CenterLat: opts.Lat, CenterLon: opts.Lon, Radius: opts.Radius, Steps: opts.Steps}
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for tick := 0; ; {
		select {
		case <-ctx.Done():
			logger.Info("leaving room", zap.String("room_id", opts.Room))
			send(conn, protocol.EventLeaveRoom, struct{}{})
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil

		case err := <-readDone:
			return fmt.Errorf("relay closed the connection: %w", err)

		case <-ticker.C:
			lat, lon := walker.Position(tick)
			err := send(conn, protocol.EventShareLocation, protocol.ShareLocationRequest{
				RoomID:    opts.Room,
				UserID:    opts.User,
				Latitude:  &lat,
				Longitude: &lon,
			})
			if err != nil {
				return err
			}
			logger.Debug("shared location", zap.Float64("latitude", lat), zap.Float64("longitude", lon))

			tick++
			if opts.PollEvery > 0 && tick%opts.PollEvery == 0 {
				if err := send(conn, protocol.EventGetAllLocations, protocol.GetAllLocationsRequest{RoomID: opts.Room}); err != nil {
					return err
				}
			}
		}
	}
}

func send(conn *websocket.Conn, event string, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

// printEvents writes one line per inbound event until the connection fails.
func printEvents(conn *websocket.Conn, out io.Writer) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			fmt.Fprintf(out, "[?] %s\n", data)
			continue
		}
		fmt.Fprintf(out, "[%s] %s\n", env.Event, env.Data)
	}
}
