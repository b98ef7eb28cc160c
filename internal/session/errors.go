package session

import "errors"

// Domain errors for the session package.
//
// Validate distinguishes ErrNotFound from ErrExpired for diagnostics only;
// callers must treat both as authentication failure.
var (
	// ErrNotFound is returned when a token does not exist in the registry.
	ErrNotFound = errors.New("session: not found")

	// ErrExpired is returned when a token exists but has passed its expiry.
	ErrExpired = errors.New("session: expired")

	// ErrNoCredential is returned when creating a session for a bridge
	// address that has no stored credential and none was supplied.
	ErrNoCredential = errors.New("session: no credential for bridge address")
)
