// Package push implements the real-time state synchronization service.
//
// It owns every live socket connection. A connection moves through a
// fixed lifecycle: the socket opens, the client must authenticate within
// a bounded window (session token or demo mode), the service sends one
// full state snapshot, and then polls the connection's snapshot source
// on a fixed cadence, pushing only the entities that changed since the
// connection's previous snapshot. A server-initiated ping/pong heartbeat
// reaps connections whose client disappeared without a clean close.
//
// Per-connection state (previous snapshot, busy flag, timers) is owned
// exclusively by that connection's goroutines; the service-wide registry
// is the only shared structure and is guarded by its own lock.
package push
