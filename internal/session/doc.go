// Package session implements the session registry.
//
// A session links a client-held opaque token to a bridge address and its
// pairing credential. The HTTP auth layer mints sessions; the push
// service consumes them when authenticating socket connections. Expired
// sessions are swept periodically.
package session
