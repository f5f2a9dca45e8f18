package room

import (
	"sort"
	"sync"
	"time"
)

// Registry owns every room and every connection binding in the process.
//
// Mutations are expected to come from a single event loop; the lock exists
// so diagnostic readers on other goroutines always observe a consistent view.
type Registry struct {
	rooms    map[string]*room
	bindings map[string]Binding
	now      func() time.Time
	mu       sync.RWMutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now as the registry's time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:    make(map[string]*room),
		bindings: make(map[string]Binding),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Millisecond)
}

// GetOrCreateRoom returns the room with the given id, creating an empty one
// stamped with the current time if it does not exist yet.
func (r *Registry) GetOrCreateRoom(roomID string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = newRoom(roomID, r.timestamp())
		r.rooms[roomID] = rm
	}
	return rm.snapshot()
}

// GetRoom looks up a room without creating it.
func (r *Registry) GetRoom(roomID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return Snapshot{}, false
	}
	return rm.snapshot(), true
}

// AddMember inserts userID into the room bound to connID with unknown
// coordinates. An existing entry for userID is overwritten and its
// coordinates discarded. When the overwritten entry belonged to a different
// connection, that connection id is returned as replaced.
func (r *Registry) AddMember(roomID, userID, connID string) (replaced string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return "", ErrRoomNotFound
	}
	return rm.upsert(userID, connID), nil
}

// RemoveMember deletes userID from the room. If the room is left without
// members it is deleted from the registry in the same step, and roomDeleted
// reports true.
func (r *Registry) RemoveMember(roomID, userID string) (roomDeleted bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(roomID, userID)
}

func (r *Registry) removeLocked(roomID, userID string) (bool, error) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return false, ErrRoomNotFound
	}
	if _, ok := rm.members[userID]; !ok {
		return false, ErrMemberNotFound
	}

	rm.remove(userID)
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
		return true, nil
	}
	return false, nil
}

// Join creates the room if needed, adds userID bound to connID and records
// the binding in one step. A connection bound elsewhere is removed from its
// previous room first; a different connection that held userID in this room
// loses its binding.
func (r *Registry) Join(connID, roomID, userID string) Arrival {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := Binding{RoomID: roomID, UserID: userID}
	if prev, ok := r.bindings[connID]; ok && prev != target {
		if rm, ok := r.rooms[prev.RoomID]; ok {
			if m, ok := rm.members[prev.UserID]; ok && m.ConnectionID == connID {
				r.removeLocked(prev.RoomID, prev.UserID)
			}
		}
	}

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = newRoom(roomID, r.timestamp())
		r.rooms[roomID] = rm
	}

	replaced := rm.upsert(userID, connID)
	if replaced != "" {
		delete(r.bindings, replaced)
	}
	r.bindings[connID] = target

	return Arrival{Replaced: replaced, Members: rm.memberIDs()}
}

// Leave drops the binding of connID together with its membership, deleting
// the room when it empties. ErrNotBound is returned for unbound connections.
func (r *Registry) Leave(connID string) (Departure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[connID]
	if !ok {
		return Departure{}, ErrNotBound
	}
	delete(r.bindings, connID)

	d := Departure{Binding: b}
	rm, ok := r.rooms[b.RoomID]
	if !ok {
		return d, ErrRoomNotFound
	}
	if m, ok := rm.members[b.UserID]; !ok || m.ConnectionID != connID {
		return d, ErrMemberNotFound
	}

	d.RoomDeleted, _ = r.removeLocked(b.RoomID, b.UserID)
	if !d.RoomDeleted {
		d.Remaining = rm.memberIDs()
	}
	return d, nil
}

// UpdateLocation overwrites the coordinates of userID in the room and returns
// the timestamp recorded with them.
func (r *Registry) UpdateLocation(roomID, userID string, lat, lon float64) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return time.Time{}, ErrRoomNotFound
	}
	m, ok := rm.members[userID]
	if !ok {
		return time.Time{}, ErrMemberNotFound
	}

	ts := r.timestamp()
	m.Location = &Location{
		Latitude:  lat,
		Longitude: lon,
		UpdatedAt: ts,
	}
	return ts, nil
}

// SnapshotLocations returns the last known location of every member of the
// room that has one. Members listed in exclude are left out.
func (r *Registry) SnapshotLocations(roomID string, exclude ...string) (map[string]Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}

	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	locations := make(map[string]Location)
	for id, m := range rm.members {
		if m.Location == nil || skip[id] {
			continue
		}
		locations[id] = *m.Location
	}
	return locations, nil
}

// MemberIDs returns the user ids of the room in join order.
func (r *Registry) MemberIDs(roomID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return rm.memberIDs(), nil
}

// Recipients returns the connection ids bound to the room, in member join
// order, leaving out excludeConn.
func (r *Registry) Recipients(roomID, excludeConn string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}

	conns := make([]string, 0, len(rm.order))
	for _, id := range rm.order {
		connID := rm.members[id].ConnectionID
		if connID == excludeConn {
			continue
		}
		conns = append(conns, connID)
	}
	return conns
}

// Bind records that connID is acting as userID inside roomID, replacing any
// previous binding of that connection.
func (r *Registry) Bind(connID, roomID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[connID] = Binding{RoomID: roomID, UserID: userID}
}

// Binding returns the current binding of connID, if any.
func (r *Registry) Binding(connID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[connID]
	return b, ok
}

// Unbind drops the binding of connID. It is a no-op for unbound connections.
func (r *Registry) Unbind(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings, connID)
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// MemberCount returns the number of members tracked across all rooms.
func (r *Registry) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, rm := range r.rooms {
		total += len(rm.members)
	}
	return total
}

// Rooms lists a summary of every live room ordered by room id.
func (r *Registry) Rooms() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Summary, 0, len(r.rooms))
	for _, rm := range r.rooms {
		result = append(result, Summary{
			ID:        rm.id,
			UserCount: len(rm.members),
			CreatedAt: rm.createdAt,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}
