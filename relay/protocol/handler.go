package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wricardo/mapnudge-relay/relay/room"
)

// Sender delivers an encoded frame to one connection. Implementations must
// not block.
type Sender interface {
	Send(connID string, frame []byte)
}

// Handler turns inbound connection events into registry mutations and
// outbound messages.
//
// A Handler is not safe for concurrent use: callers must hand it one event
// at a time so that each event's mutation and emissions are atomic.
type Handler struct {
	registry *room.Registry
	sender   Sender
	logger   *zap.Logger
}

// NewHandler creates a handler bound to registry that emits through sender.
func NewHandler(registry *room.Registry, sender Sender, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry: registry,
		sender:   sender,
		logger:   logger.Named("protocol"),
	}
}

// HandleMessage decodes one inbound frame from connID and routes it.
// Every failure is reported to connID as an error event; the returned error
// is for logging only.
func (h *Handler) HandleMessage(connID string, frame []byte) error {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		h.sendError(connID, err.Error())
		return err
	}

	switch env.Event {
	case EventJoinRoom:
		var req JoinRequest
		if err := h.decode(connID, env, &req); err != nil {
			return err
		}
		return h.Join(connID, req.RoomID, req.UserID)

	case EventShareLocation:
		var req ShareLocationRequest
		if err := h.decode(connID, env, &req); err != nil {
			return err
		}
		return h.ShareLocation(connID, req)

	case EventGetAllLocations:
		var req GetAllLocationsRequest
		if err := h.decode(connID, env, &req); err != nil {
			return err
		}
		return h.GetAllLocations(connID, req.RoomID)

	case EventLeaveRoom:
		h.Leave(connID)
		return nil

	default:
		err := fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
		h.sendError(connID, err.Error())
		return err
	}
}

func (h *Handler) decode(connID string, env Envelope, target any) error {
	if len(env.Data) == 0 {
		err := missingField("data")
		h.sendError(connID, err.Error())
		return err
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Event, err)
		h.sendError(connID, err.Error())
		return err
	}
	return nil
}

// Join binds connID to userID inside roomID, leaving any previous room first.
func (h *Handler) Join(connID, roomID, userID string) error {
	if err := requireFields("roomId", roomID, "userId", userID); err != nil {
		h.sendError(connID, err.Error())
		return err
	}

	if prev, ok := h.registry.Binding(connID); ok && prev != (room.Binding{RoomID: roomID, UserID: userID}) {
		h.Leave(connID)
	}

	arrival := h.registry.Join(connID, roomID, userID)
	if arrival.Replaced != "" {
		// The user id moved to this connection; the old one keeps its socket
		// but no longer acts as anyone.
		h.logger.Info("user id taken over by new connection",
			zap.String("room_id", roomID),
			zap.String("user_id", userID),
			zap.String("conn_id", connID),
			zap.String("replaced_conn_id", arrival.Replaced),
		)
	}
	members := arrival.Members

	h.emit(connID, EventJoinedRoom, JoinedRoom{
		Success:     true,
		RoomID:      roomID,
		UserID:      userID,
		Message:     fmt.Sprintf("Successfully joined room %s", roomID),
		UsersInRoom: members,
	})

	h.broadcast(roomID, connID, EventUserJoined, MembershipChange{
		UserID:      userID,
		Message:     fmt.Sprintf("%s joined the room", userID),
		UsersInRoom: members,
	})

	existing, err := h.registry.SnapshotLocations(roomID, userID)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", roomID, err)
	}
	if len(existing) > 0 {
		h.emit(connID, EventExistingLocations, NewLocationSet(existing))
	}

	h.logger.Info("user joined room",
		zap.String("room_id", roomID),
		zap.String("user_id", userID),
		zap.String("conn_id", connID),
		zap.Int("members", len(members)),
	)
	return nil
}

// ShareLocation records the sender's coordinates and relays them to the
// rest of the room.
func (h *Handler) ShareLocation(connID string, req ShareLocationRequest) error {
	if err := requireFields("roomId", req.RoomID, "userId", req.UserID); err != nil {
		h.sendError(connID, err.Error())
		return err
	}
	if req.Latitude == nil || req.Longitude == nil {
		err := missingField("latitude and longitude")
		h.sendError(connID, err.Error())
		return err
	}
	lat, lon := *req.Latitude, *req.Longitude
	if err := ValidateCoordinates(lat, lon); err != nil {
		h.sendError(connID, err.Error())
		return err
	}

	ts, err := h.registry.UpdateLocation(req.RoomID, req.UserID, lat, lon)
	if err != nil {
		if errors.Is(err, room.ErrNotFound) {
			h.sendError(connID, msgMemberNotFound)
		}
		return fmt.Errorf("share location of %s in %s: %w", req.UserID, req.RoomID, err)
	}

	h.broadcast(req.RoomID, connID, EventLocationUpdate, LocationUpdate{
		UserID:    req.UserID,
		Latitude:  lat,
		Longitude: lon,
		Timestamp: Timestamp(ts),
	})

	h.emit(connID, EventLocationShared, LocationShared{
		Success:   true,
		Message:   "Location shared successfully",
		Timestamp: Timestamp(ts),
	})

	h.logger.Debug("location shared",
		zap.String("room_id", req.RoomID),
		zap.String("user_id", req.UserID),
		zap.Float64("latitude", lat),
		zap.Float64("longitude", lon),
	)
	return nil
}

// GetAllLocations sends connID every known location in roomID.
func (h *Handler) GetAllLocations(connID, roomID string) error {
	if err := requireFields("roomId", roomID); err != nil {
		h.sendError(connID, err.Error())
		return err
	}

	locations, err := h.registry.SnapshotLocations(roomID)
	if err != nil {
		if errors.Is(err, room.ErrNotFound) {
			h.sendError(connID, msgRoomNotFound)
		}
		return fmt.Errorf("get all locations of %s: %w", roomID, err)
	}

	h.emit(connID, EventAllLocations, NewLocationSet(locations))
	return nil
}

// Leave removes connID from its room. Unbound connections are ignored.
func (h *Handler) Leave(connID string) {
	d, err := h.registry.Leave(connID)
	if errors.Is(err, room.ErrNotBound) {
		return
	}
	if err != nil {
		h.logger.Warn("binding without membership",
			zap.String("room_id", d.RoomID),
			zap.String("user_id", d.UserID),
			zap.String("conn_id", connID),
			zap.Error(err),
		)
		return
	}

	h.logger.Info("user left room",
		zap.String("room_id", d.RoomID),
		zap.String("user_id", d.UserID),
		zap.String("conn_id", connID),
	)

	if d.RoomDeleted {
		h.logger.Info("room deleted (empty)", zap.String("room_id", d.RoomID))
		return
	}

	h.broadcast(d.RoomID, connID, EventUserLeft, MembershipChange{
		UserID:      d.UserID,
		Message:     fmt.Sprintf("%s left the room", d.UserID),
		UsersInRoom: d.Remaining,
	})
}

// Disconnect runs the leave path for a connection whose transport is gone.
func (h *Handler) Disconnect(connID string) {
	h.Leave(connID)
	h.logger.Debug("connection closed", zap.String("conn_id", connID))
}

func (h *Handler) emit(connID, event string, payload any) {
	frame, err := Encode(event, payload)
	if err != nil {
		h.logger.Error("encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	h.sender.Send(connID, frame)
}

// broadcast sends one frame to every connection bound to roomID except
// excludeConn. Recipients come from the registry, never from the transport.
func (h *Handler) broadcast(roomID, excludeConn, event string, payload any) {
	recipients := h.registry.Recipients(roomID, excludeConn)
	if len(recipients) == 0 {
		return
	}

	frame, err := Encode(event, payload)
	if err != nil {
		h.logger.Error("encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	for _, id := range recipients {
		h.sender.Send(id, frame)
	}
}

func (h *Handler) sendError(connID, message string) {
	h.emit(connID, EventError, ErrorMessage{Message: message})
}

// requireFields takes name/value pairs and reports the first empty value.
func requireFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return missingField(pairs[i])
		}
	}
	return nil
}
