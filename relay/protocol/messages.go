package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wricardo/mapnudge-relay/relay/room"
)

// Inbound event names.
const (
	EventJoinRoom        = "join-room"
	EventShareLocation   = "share-location"
	EventGetAllLocations = "get-all-locations"
	EventLeaveRoom       = "leave-room"
)

// Outbound event names.
const (
	EventJoinedRoom        = "joined-room"
	EventExistingLocations = "existing-locations"
	EventUserJoined        = "user-joined"
	EventLocationUpdate    = "location-update"
	EventLocationShared    = "location-shared"
	EventAllLocations      = "all-locations"
	EventUserLeft          = "user-left"
	EventError             = "error"
)

// Envelope is the frame exchanged over the event channel in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRequest is the payload of join-room.
type JoinRequest struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// ShareLocationRequest is the payload of share-location. Coordinates are
// pointers so a missing field can be told apart from 0.
type ShareLocationRequest struct {
	RoomID    string   `json:"roomId"`
	UserID    string   `json:"userId"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// GetAllLocationsRequest is the payload of get-all-locations.
type GetAllLocationsRequest struct {
	RoomID string `json:"roomId"`
}

// Timestamp marshals as RFC 3339 UTC with millisecond precision,
// e.g. 2024-05-01T12:00:00.000Z.
type Timestamp time.Time

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).UTC().Format(timestampLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	*t = Timestamp(parsed)
	return nil
}

// Time returns t as a time.Time.
func (t Timestamp) Time() time.Time { return time.Time(t) }

// JoinedRoom confirms a join to the joining connection.
type JoinedRoom struct {
	Success     bool     `json:"success"`
	RoomID      string   `json:"roomId"`
	UserID      string   `json:"userId"`
	Message     string   `json:"message"`
	UsersInRoom []string `json:"usersInRoom"`
}

// MembershipChange is the payload of user-joined and user-left.
type MembershipChange struct {
	UserID      string   `json:"userId"`
	Message     string   `json:"message"`
	UsersInRoom []string `json:"usersInRoom"`
}

// LocationUpdate is broadcast to the other members when someone moves.
type LocationUpdate struct {
	UserID    string    `json:"userId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp Timestamp `json:"timestamp"`
}

// LocationShared acknowledges a share-location to its sender.
type LocationShared struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp Timestamp `json:"timestamp"`
}

// LocationEntry is one member's last known point.
type LocationEntry struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	LastUpdate Timestamp `json:"lastUpdate"`
}

// LocationSet maps user id to last known point. It is the payload of
// existing-locations and all-locations.
type LocationSet map[string]LocationEntry

// NewLocationSet converts a registry snapshot into its wire form.
func NewLocationSet(locations map[string]room.Location) LocationSet {
	set := make(LocationSet, len(locations))
	for userID, loc := range locations {
		set[userID] = LocationEntry{
			Latitude:   loc.Latitude,
			Longitude:  loc.Longitude,
			LastUpdate: Timestamp(loc.UpdatedAt),
		}
	}
	return set
}

// ErrorMessage reports a failed request to its sender.
type ErrorMessage struct {
	Message string `json:"message"`
}

// Encode builds a complete frame for event with payload as its data.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return frame, nil
}
