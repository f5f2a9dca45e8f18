// Package api provides the HTTP diagnostics server for the location relay.
//
// The api package implements:
//   - Server status and counters
//   - Per-room membership and last known locations
//   - Room listing
//   - WebSocket upgrade routing
//   - CORS and panic recovery middleware
//
// Endpoints:
//   - GET /              - status, active rooms, tracked users, live connections
//   - GET /health        - liveness probe
//   - GET /rooms         - every room with its user count
//   - GET /room/{roomId} - members and locations of one room
//   - GET /ws            - WebSocket upgrade, handed to the Transport
//
// Extra handlers such as the MCP endpoint are attached with Mount and share
// the same middleware.
//
// Response Format:
//
// All endpoints return JSON. An unknown room is not an HTTP error:
//
//	{
//	  "exists": false,
//	  "users": [],
//	  "message": "Room not found"
//	}
//
// Members that have not shared a location yet are reported with null
// latitude, longitude and lastUpdate.
//
// The server only reads the registry. Every mutation happens on the
// websocket hub's event loop.
package api
