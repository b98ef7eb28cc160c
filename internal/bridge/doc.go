// Package bridge talks to the upstream lighting bridge.
//
// It defines the Snapshot data model, the SnapshotSource capability
// interface, the diff engine that computes minimal deltas between
// snapshots, and two SnapshotSource implementations: Client (real
// Hue-style REST bridge) and DemoSource (deterministic substitute).
//
// The push service depends only on SnapshotSource; which implementation
// backs a connection is decided once, at socket authentication time.
package bridge
