package room

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is the umbrella kind for every lookup miss in the registry.
	ErrNotFound = errors.New("not found")

	ErrRoomNotFound   = &notFoundError{"room not found"}
	ErrMemberNotFound = &notFoundError{"member not found in room"}
	ErrNotBound       = &notFoundError{"connection not bound"}
)

type notFoundError struct{ msg string }

func (e *notFoundError) Error() string { return e.msg }

// Is lets errors.Is(err, ErrNotFound) match both room and member misses.
func (e *notFoundError) Is(target error) bool { return target == ErrNotFound }

// Location is a coordinate pair together with the time it was written.
// A member either has a Location or it does not; there is no half-set state.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	UpdatedAt time.Time `json:"lastUpdate"`
}

// Member is a user's state inside a single room.
type Member struct {
	UserID       string
	ConnectionID string
	Location     *Location
}

// Binding ties a live connection to the (room, user) pair it joined as.
type Binding struct {
	RoomID string
	UserID string
}

// room is the registry-internal representation. It never leaves the package;
// callers receive Snapshot copies.
type room struct {
	id        string
	createdAt time.Time
	members   map[string]*Member
	// order keeps member ids in first-join order.
	order []string
}

func newRoom(id string, now time.Time) *room {
	return &room{
		id:        id,
		createdAt: now,
		members:   make(map[string]*Member),
	}
}

func (r *room) memberIDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// upsert stores a fresh member for userID and returns the connection it
// displaced, if that was a different one.
func (r *room) upsert(userID, connID string) (replaced string) {
	if prev, exists := r.members[userID]; exists {
		if prev.ConnectionID != connID {
			replaced = prev.ConnectionID
		}
	} else {
		r.order = append(r.order, userID)
	}
	r.members[userID] = &Member{UserID: userID, ConnectionID: connID}
	return replaced
}

func (r *room) remove(userID string) {
	delete(r.members, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// Snapshot is a point-in-time copy of a room safe to hand to other goroutines.
type Snapshot struct {
	ID        string    `json:"roomId"`
	CreatedAt time.Time `json:"createdAt"`
	// Members are listed in join order.
	Members []Member `json:"-"`
}

// MemberIDs returns the user ids of the snapshot in join order.
func (s Snapshot) MemberIDs() []string {
	ids := make([]string, 0, len(s.Members))
	for _, m := range s.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// Member looks up a member of the snapshot by user id.
func (s Snapshot) Member(userID string) (Member, bool) {
	for _, m := range s.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

func (r *room) snapshot() Snapshot {
	members := make([]Member, 0, len(r.order))
	for _, id := range r.order {
		m := *r.members[id]
		if m.Location != nil {
			loc := *m.Location
			m.Location = &loc
		}
		members = append(members, m)
	}
	return Snapshot{ID: r.id, CreatedAt: r.createdAt, Members: members}
}

// Arrival is the outcome of Registry.Join.
type Arrival struct {
	// Replaced is the connection that held the user id before, now unbound.
	Replaced string
	// Members are the room's user ids in join order, joiner included.
	Members []string
}

// Departure is the outcome of Registry.Leave.
type Departure struct {
	Binding
	RoomDeleted bool
	// Remaining are the user ids still in the room, in join order.
	Remaining []string
}

// Summary is the lightweight per-room view used by diagnostics.
type Summary struct {
	ID        string    `json:"roomId"`
	UserCount int       `json:"userCount"`
	CreatedAt time.Time `json:"createdAt"`
}
