package api

import (
	"github.com/wricardo/mapnudge-relay/relay/protocol"
	"github.com/wricardo/mapnudge-relay/relay/room"
)

// Timestamps use the same millisecond format as the WebSocket events.

// StatusResponse is the body of GET /.
type StatusResponse struct {
	Message        string             `json:"message"`
	Timestamp      protocol.Timestamp `json:"timestamp"`
	ActiveRooms    int                `json:"activeRooms"`
	ConnectedUsers int                `json:"connectedUsers"`
	Connections    int                `json:"connections"`
}

// MemberLocation is one member as seen by GET /room/{roomId}. Coordinates
// are null until the member first shares a location.
type MemberLocation struct {
	ConnectionID string              `json:"connectionId"`
	Latitude     *float64            `json:"latitude"`
	Longitude    *float64            `json:"longitude"`
	LastUpdate   *protocol.Timestamp `json:"lastUpdate"`
}

// RoomResponse is the body of GET /room/{roomId}.
type RoomResponse struct {
	Exists    bool                      `json:"exists"`
	Users     []string                  `json:"users"`
	UserCount int                       `json:"userCount,omitempty"`
	CreatedAt *protocol.Timestamp       `json:"createdAt,omitempty"`
	Locations map[string]MemberLocation `json:"locations,omitempty"`
	Message   string                    `json:"message,omitempty"`
}

// RoomSummary is one entry of GET /rooms.
type RoomSummary struct {
	ID        string             `json:"roomId"`
	UserCount int                `json:"userCount"`
	CreatedAt protocol.Timestamp `json:"createdAt"`
}

func newRoomSummaries(rooms []room.Summary) []RoomSummary {
	out := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, RoomSummary{
			ID:        r.ID,
			UserCount: r.UserCount,
			CreatedAt: protocol.Timestamp(r.CreatedAt),
		})
	}
	return out
}

// RoomListResponse is the body of GET /rooms.
type RoomListResponse struct {
	Count int           `json:"count"`
	Rooms []RoomSummary `json:"rooms"`
}
