package push

import "errors"

// Domain errors for the push package.
var (
	// ErrAuthFailed is returned when a socket's first message is not a
	// valid auth message, carries an invalid or expired token, or asks
	// for demo mode while it is disabled. Fatal to the connection.
	ErrAuthFailed = errors.New("push: authentication failed")

	// ErrAuthTimeout is returned when no auth message arrives within the
	// configured window after socket open. Fatal to the connection.
	ErrAuthTimeout = errors.New("push: authentication timed out")
)

// Wire error codes sent to clients before closing.
const (
	errCodeAuthFailed    = "auth_failed"
	errCodeAuthTimeout   = "auth_timeout"
	errCodeUpstreamError = "upstream_error"
)
