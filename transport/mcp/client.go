package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/wricardo/mapnudge-relay/api"
)

// Client is a thin MCP server that proxies to the HTTP diagnostics API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
	logger     *zap.Logger
}

// NewClient creates a new MCP client that calls the diagnostics API at baseURL
func NewClient(baseURL, version string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.Named("mcp"),
	}

	c.initMCPServer(version)
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer(version string) {
	c.mcpServer = server.NewMCPServer(
		"MapNudge Location Relay",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions(`MapNudge Location Relay - MCP Interface

Read-only view of a real-time location sharing relay. Users join rooms over
WebSocket and share their coordinates with everyone else in the room.

AVAILABLE TOOLS:
- relay_status: Server uptime check with room, user and connection counts
- list_rooms: Every active room with its user count
- get_room: Members of one room with their last known coordinates

Rooms exist only while someone is in them; an unknown room simply has no users.`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "relay_status",
		Description: "Get relay status: active rooms, tracked users and live connections",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleRelayStatus)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_rooms",
		Description: "List all active rooms",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListRooms)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_room",
		Description: "Get the members of a room and their last known locations",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room_id": map[string]interface{}{
					"type":        "string",
					"description": "Room ID to inspect",
				},
			},
			Required: []string{"room_id"},
		},
	}, c.handleGetRoom)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// HTTPHandler serves single JSON-RPC messages posted to it.
func (c *Client) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := c.mcpServer.HandleMessage(r.Context(), body)
		if response == nil {
			// Notifications have no reply.
			w.WriteHeader(http.StatusAccepted)
			return
		}

		responseData, err := json.Marshal(response)
		if err != nil {
			c.logger.Error("marshal mcp response", zap.Error(err))
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(responseData)
	})
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

// Tool handlers

func (c *Client) handleRelayStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var status api.StatusResponse
	if err := c.apiCall(ctx, http.MethodGet, "/", &status); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatStatus(&status)), nil
}

func (c *Client) handleListRooms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response api.RoomListResponse
	if err := c.apiCall(ctx, http.MethodGet, "/rooms", &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatRoomList(&response)), nil
}

func (c *Client) handleGetRoom(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	roomID, _ := args["room_id"].(string)
	if roomID == "" {
		return mcp.NewToolResultError("room_id is required"), nil
	}

	var response api.RoomResponse
	if err := c.apiCall(ctx, http.MethodGet, "/room/"+url.PathEscape(roomID), &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatRoom(roomID, &response)), nil
}

// Formatting helpers

func formatStatus(status *api.StatusResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", status.Message)
	fmt.Fprintf(&b, "Time: %s\n", status.Timestamp.Time().Format(time.RFC3339))
	fmt.Fprintf(&b, "Active rooms: %d\n", status.ActiveRooms)
	fmt.Fprintf(&b, "Users in rooms: %d\n", status.ConnectedUsers)
	fmt.Fprintf(&b, "Live connections: %d\n", status.Connections)
	return b.String()
}

func formatRoomList(list *api.RoomListResponse) string {
	if list.Count == 0 {
		return "No active rooms.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Active Rooms (%d):\n\n", list.Count)
	for _, r := range list.Rooms {
		fmt.Fprintf(&b, "- %s (%d users, created %s)\n",
			r.ID, r.UserCount, r.CreatedAt.Time().Format("15:04:05"))
	}
	return b.String()
}

func formatRoom(roomID string, room *api.RoomResponse) string {
	if !room.Exists {
		return fmt.Sprintf("Room %s not found (no one is in it).\n", roomID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Room %s\n", roomID)
	if room.CreatedAt != nil {
		fmt.Fprintf(&b, "Created: %s\n", room.CreatedAt.Time().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Users (%d):\n", room.UserCount)

	for _, userID := range room.Users {
		loc, ok := room.Locations[userID]
		if !ok || loc.Latitude == nil || loc.Longitude == nil {
			fmt.Fprintf(&b, "- %s: no location yet\n", userID)
			continue
		}
		line := fmt.Sprintf("- %s: %.6f, %.6f", userID, *loc.Latitude, *loc.Longitude)
		if loc.LastUpdate != nil {
			line += fmt.Sprintf(" (updated %s)", loc.LastUpdate.Time().Format("15:04:05"))
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}
