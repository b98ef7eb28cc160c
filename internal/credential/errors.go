package credential

import "errors"

// Domain errors for the credential package.
var (
	// ErrNotFound is returned when no credential is stored for a bridge address.
	ErrNotFound = errors.New("credential: not found")
)
