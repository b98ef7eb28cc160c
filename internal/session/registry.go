package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ashgrove/lumen-core/internal/credential"
)

// tokenBytes is the entropy of a session token (hex-encoded on the wire).
const tokenBytes = 32

// Logger is the minimal logging interface the registry needs.
// Compatible with logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// Registry issues and validates session tokens.
//
// Each session binds an opaque token to a bridge address and credential
// with a fixed TTL. The registry is the unit of identity for both HTTP
// and socket clients.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - A read racing a write observes either the old or the new session
//     state, never a partial one.
type Registry struct {
	creds         credential.Store
	ttl           time.Duration
	sweepInterval time.Duration

	sessions map[string]*Session
	mu       sync.RWMutex

	logger Logger
	cancel context.CancelFunc

	// now is the clock source; replaced in tests.
	now func() time.Time
}

// NewRegistry creates a session registry backed by the given credential
// store. Sessions live for ttl; expired sessions are purged every
// sweepInterval once Start is called.
func NewRegistry(creds credential.Store, ttl, sweepInterval time.Duration) *Registry {
	return &Registry{
		creds:         creds,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		sessions:      make(map[string]*Session),
		now:           time.Now,
	}
}

// SetLogger sets an optional logger for sweep and lifecycle events.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Create mints a new session for the given bridge address.
//
// If cred is non-empty it is recorded in the credential store, replacing
// any prior value for the address (re-pairing). If cred is empty the
// stored credential for the address is reused; ErrNoCredential is
// returned when none exists. This is what lets a second client connect
// to an already-paired bridge without re-supplying a credential.
func (r *Registry) Create(ctx context.Context, bridgeAddress, cred string) (*Session, error) {
	if cred != "" {
		if err := r.creds.Put(ctx, bridgeAddress, cred); err != nil {
			return nil, fmt.Errorf("recording credential: %w", err)
		}
	} else {
		stored, err := r.creds.Get(ctx, bridgeAddress)
		if err != nil {
			if errors.Is(err, credential.ErrNotFound) {
				return nil, ErrNoCredential
			}
			return nil, fmt.Errorf("resolving credential: %w", err)
		}
		cred = stored
	}

	now := r.now()
	s := &Session{
		BridgeAddress: bridgeAddress,
		Credential:    cred,
		CreatedAt:     now,
		ExpiresAt:     now.Add(r.ttl),
	}

	r.mu.Lock()
	for {
		token, err := newToken()
		if err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("generating token: %w", err)
		}
		if _, exists := r.sessions[token]; !exists {
			s.Token = token
			break
		}
	}
	r.sessions[s.Token] = s
	r.mu.Unlock()

	cpy := *s
	return &cpy, nil
}

// Validate looks up a token and checks its expiry.
//
// Returns ErrNotFound for unknown tokens and ErrExpired for known but
// expired ones. The distinction exists for diagnostics; callers must
// treat both as authentication failure.
func (r *Registry) Validate(token string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	// The expiry check and the copy stay under the lock: Renew mutates
	// ExpiresAt in place, and a torn read of it must never escape.
	if s.Expired(r.now()) {
		return nil, ErrExpired
	}

	cpy := *s
	return &cpy, nil
}

// Revoke removes a session. Revoking an unknown token is a no-op.
func (r *Registry) Revoke(token string) {
	r.mu.Lock()
	delete(r.sessions, token)
	r.mu.Unlock()
}

// Renew extends a session's expiry by the registry TTL from now.
// The token is unchanged. Returns the new expiry.
func (r *Registry) Renew(token string) (time.Time, error) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[token]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	if s.Expired(now) {
		return time.Time{}, ErrExpired
	}

	s.ExpiresAt = now.Add(r.ttl)
	return s.ExpiresAt, nil
}

// Count returns the number of sessions currently held, expired or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Start launches the periodic expiry sweep. It runs until the context is
// cancelled or Close is called.
func (r *Registry) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.sweepLoop(ctx)
}

// Close stops the expiry sweep. Safe to call without Start.
func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
}

// sweepLoop purges expired sessions on a fixed cadence.
func (r *Registry) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 && r.logger != nil {
				r.logger.Debug("expired sessions purged", "count", n)
			}
		}
	}
}

// Sweep removes all expired sessions and returns how many were removed.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for token, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, token)
			removed++
		}
	}
	return removed
}

// newToken returns a cryptographically-random hex token.
func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
