// Package room provides the session registry for the location relay.
//
// The room package implements:
//   - Room lifecycle: rooms are created on first join and deleted the moment
//     their last member leaves
//   - Per-member last known location
//   - Connection bindings (which room and user a live connection acts as)
//   - Read-only snapshots for diagnostics
//
// Core Types:
//
// Registry is the single source of truth for membership. It is created with
// NewRegistry and passed explicitly to whatever needs it; there is no
// package-level instance. Snapshot, Summary and Location are plain copies
// that can be handed to other goroutines.
//
// Errors:
//
// Lookups that miss return ErrRoomNotFound, ErrMemberNotFound or
// ErrNotBound. All match ErrNotFound with errors.Is.
//
// Usage:
//
//	reg := room.NewRegistry()
//
//	arrival := reg.Join(connID, "r1", "alice")
//
//	ts, err := reg.UpdateLocation("r1", "alice", 52.52, 13.40)
//	if errors.Is(err, room.ErrNotFound) {
//		// not a member
//	}
//
//	departure, err := reg.Leave(connID)
//
// Concurrency:
//
// The registry is safe for concurrent use. Join and Leave change the room,
// its members and the connection binding under one lock, so readers never
// see a room without members. The relay still funnels every mutation
// through one event loop so that a join, its membership list and its
// notifications form a single atomic step.
package room
