// Package protocol implements the room protocol of the location relay.
//
// Each connection moves through Unbound → Bound(room, user) → Unbound.
// The Handler consumes inbound events for a connection, checks them against
// the room.Registry, applies the mutation and emits the resulting messages
// through a Sender.
//
// Inbound events: join-room, share-location, get-all-locations, leave-room,
// plus a transport-level disconnect.
//
// Outbound events: joined-room, existing-locations, user-joined,
// location-update, location-shared, all-locations, user-left, error.
//
// Frames are JSON envelopes of the form {"event": "...", "data": {...}}.
//
// Membership lists and location snapshots are always read after the
// mutation they describe, so a joiner's confirmation already includes the
// joiner and a user-left lists only the remaining members.
package protocol
