package bridge

import "context"

// SnapshotSource returns the current full bridge state for a
// bridge/credential pair.
//
// Implementations may cache slow-moving sub-resources internally, but
// fast-changing state (on/off, motion) must always reflect the latest
// call. Fetch errors are ErrUnreachable or ErrAuthRejected; the caller
// decides whether either is fatal.
type SnapshotSource interface {
	GetSnapshot(ctx context.Context, bridgeAddress, cred string) (*Snapshot, error)
}
