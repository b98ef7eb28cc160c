package bridge

import "errors"

// Domain-specific errors for bridge operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnreachable is returned when the bridge cannot be contacted.
	// Treated as transient by the push service: logged and retried on
	// the next poll tick.
	ErrUnreachable = errors.New("bridge: unreachable")

	// ErrAuthRejected is returned when the bridge rejects the credential.
	ErrAuthRejected = errors.New("bridge: credential rejected")

	// ErrLinkButtonNotPressed is returned during pairing when the bridge
	// requires its link button to be pressed first.
	ErrLinkButtonNotPressed = errors.New("bridge: link button not pressed")

	// ErrBadResponse is returned when the bridge replies with a payload
	// that cannot be parsed.
	ErrBadResponse = errors.New("bridge: malformed response")
)
