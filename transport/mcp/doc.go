// Package mcp provides the Model Context Protocol surface of the location
// relay.
//
// The mcp package implements:
//   - An MCP server whose tools read the relay's diagnostics API
//   - Plain-text formatting of rooms and locations for AI agents
//   - A POST handler for single JSON-RPC messages
//
// MCP Tools:
//   - relay_status: counts of rooms, users and live connections
//   - list_rooms: every active room with its user count
//   - get_room: members of one room and their last known coordinates
//
// Transport Modes:
//   - Stdio: server.ServeStdio(client.GetMCPServer())
//   - HTTP: mounted at /mcp next to the diagnostics API
//
// The tools never touch the registry directly. They go through HTTP, so
// the stdio mode can run as a separate process pointed at a live relay.
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:3000", version, logger)
//	apiServer.Mount("/mcp", client.HTTPHandler(), http.MethodPost)
package mcp
