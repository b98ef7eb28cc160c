package session

import "time"

// Session binds an opaque token to a bridge address and credential.
//
// Sessions are immutable once created except for ExpiresAt, which is
// extended by Renew. The Registry owns all sessions; callers receive
// copies and cannot mutate registry state through them.
type Session struct {
	// Token is the opaque, cryptographically-random session identifier.
	Token string `json:"token"`

	// BridgeAddress is the bridge this session is bound to.
	BridgeAddress string `json:"bridge_address"`

	// Credential is the bridge access credential resolved at creation.
	Credential string `json:"-"`

	// CreatedAt is when the session was minted.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the session stops validating. Extended by Renew.
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session has passed its expiry at the given
// instant.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
