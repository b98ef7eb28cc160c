package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ashgrove/lumen-core/internal/credential"
)

// memStore is an in-memory credential.Store for tests.
type memStore struct {
	mu    sync.Mutex
	creds map[string]string
}

func newMemStore() *memStore {
	return &memStore{creds: make(map[string]string)}
}

func (m *memStore) Get(_ context.Context, addr string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[addr]
	if !ok {
		return "", credential.ErrNotFound
	}
	return cred, nil
}

func (m *memStore) Has(_ context.Context, addr string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.creds[addr]
	return ok, nil
}

func (m *memStore) Put(_ context.Context, addr, cred string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[addr] = cred
	return nil
}

func (m *memStore) Delete(_ context.Context, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, addr)
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *memStore) {
	t.Helper()
	store := newMemStore()
	return NewRegistry(store, time.Hour, time.Minute), store
}

func TestCreateStoresCredential(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()

	sess, err := r.Create(ctx, "192.168.1.10", "secret-cred")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if sess.Token == "" {
		t.Error("expected non-empty token")
	}
	if len(sess.Token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(sess.Token))
	}
	if sess.BridgeAddress != "192.168.1.10" {
		t.Errorf("BridgeAddress = %q, want %q", sess.BridgeAddress, "192.168.1.10")
	}
	if sess.Credential != "secret-cred" {
		t.Errorf("Credential = %q, want %q", sess.Credential, "secret-cred")
	}

	stored, err := store.Get(ctx, "192.168.1.10")
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	if stored != "secret-cred" {
		t.Errorf("stored credential = %q, want %q", stored, "secret-cred")
	}
}

func TestCreateReusesStoredCredential(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()

	if err := store.Put(ctx, "192.168.1.10", "existing-cred"); err != nil {
		t.Fatalf("store.Put() error = %v", err)
	}

	// Second client supplies no credential.
	sess, err := r.Create(ctx, "192.168.1.10", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sess.Credential != "existing-cred" {
		t.Errorf("Credential = %q, want stored %q", sess.Credential, "existing-cred")
	}
}

func TestCreateNoCredential(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Create(context.Background(), "192.168.1.99", "")
	if !errors.Is(err, ErrNoCredential) {
		t.Errorf("Create() error = %v, want ErrNoCredential", err)
	}
}

func TestCreateRepairingReplacesCredential(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Create(ctx, "192.168.1.10", "old-cred"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := r.Create(ctx, "192.168.1.10", "new-cred"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	stored, err := store.Get(ctx, "192.168.1.10")
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	if stored != "new-cred" {
		t.Errorf("stored credential = %q, want %q", stored, "new-cred")
	}
}

func TestCreateUniqueTokens(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sess, err := r.Create(ctx, "192.168.1.10", "cred")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if seen[sess.Token] {
			t.Fatalf("duplicate token issued: %s", sess.Token)
		}
		seen[sess.Token] = true
	}
}

func TestValidate(t *testing.T) {
	r, _ := newTestRegistry(t)

	sess, err := r.Create(context.Background(), "192.168.1.10", "cred")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := r.Validate(sess.Token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got.BridgeAddress != sess.BridgeAddress {
		t.Errorf("BridgeAddress = %q, want %q", got.BridgeAddress, sess.BridgeAddress)
	}
	if got.Credential != "cred" {
		t.Errorf("Credential = %q, want %q", got.Credential, "cred")
	}
}

func TestValidateUnknownToken(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Validate("no-such-token")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Validate() error = %v, want ErrNotFound", err)
	}
}

func TestValidateExpiry(t *testing.T) {
	r, _ := newTestRegistry(t)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	r.now = func() time.Time { return now }

	sess, err := r.Create(context.Background(), "192.168.1.10", "cred")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// One nanosecond before expiry is still valid.
	now = base.Add(time.Hour - time.Nanosecond)
	if _, err := r.Validate(sess.Token); err != nil {
		t.Errorf("Validate() just before expiry error = %v", err)
	}

	// Exactly at expiry is expired.
	now = base.Add(time.Hour)
	if _, err := r.Validate(sess.Token); !errors.Is(err, ErrExpired) {
		t.Errorf("Validate() at expiry error = %v, want ErrExpired", err)
	}
}

func TestRenew(t *testing.T) {
	r, _ := newTestRegistry(t)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	r.now = func() time.Time { return now }

	sess, err := r.Create(context.Background(), "192.168.1.10", "cred")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	now = base.Add(30 * time.Minute)
	expiresAt, err := r.Renew(sess.Token)
	if err != nil {
		t.Fatalf("Renew() error = %v", err)
	}
	want := now.Add(time.Hour)
	if !expiresAt.Equal(want) {
		t.Errorf("Renew() expiry = %v, want %v", expiresAt, want)
	}

	// The original expiry has passed but the renewed session still validates.
	now = base.Add(80 * time.Minute)
	if _, err := r.Validate(sess.Token); err != nil {
		t.Errorf("Validate() after renew error = %v", err)
	}
}

func TestRenewExpired(t *testing.T) {
	r, _ := newTestRegistry(t)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	r.now = func() time.Time { return now }

	sess, err := r.Create(context.Background(), "192.168.1.10", "cred")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	now = base.Add(2 * time.Hour)
	if _, err := r.Renew(sess.Token); !errors.Is(err, ErrExpired) {
		t.Errorf("Renew() error = %v, want ErrExpired", err)
	}
}

func TestRevoke(t *testing.T) {
	r, _ := newTestRegistry(t)

	sess, err := r.Create(context.Background(), "192.168.1.10", "cred")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	r.Revoke(sess.Token)
	if _, err := r.Validate(sess.Token); !errors.Is(err, ErrNotFound) {
		t.Errorf("Validate() after revoke error = %v, want ErrNotFound", err)
	}

	// Revoking again is a no-op.
	r.Revoke(sess.Token)
}

func TestSweep(t *testing.T) {
	r, _ := newTestRegistry(t)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	r.now = func() time.Time { return now }

	ctx := context.Background()
	if _, err := r.Create(ctx, "192.168.1.10", "cred"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	now = base.Add(30 * time.Minute)
	fresh, err := r.Create(ctx, "192.168.1.10", "cred")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Only the first session has expired.
	now = base.Add(90 * time.Minute)
	if removed := r.Sweep(); removed != 1 {
		t.Errorf("Sweep() removed = %d, want 1", removed)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
	if _, err := r.Validate(fresh.Token); err != nil {
		t.Errorf("Validate() surviving session error = %v", err)
	}
}

func TestReturnedSessionIsACopy(t *testing.T) {
	r, _ := newTestRegistry(t)

	sess, err := r.Create(context.Background(), "192.168.1.10", "cred")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Mutating the returned session must not affect registry state.
	token := sess.Token
	sess.ExpiresAt = time.Time{}

	if _, err := r.Validate(token); err != nil {
		t.Errorf("Validate() after caller mutation error = %v", err)
	}
}

func TestValidateDuringRenew(t *testing.T) {
	r, _ := newTestRegistry(t)

	sess, err := r.Create(context.Background(), "192.168.1.10", "cred")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Renew rewrites ExpiresAt in place; Validate must read it under the
	// same lock so a concurrent renewal never yields a torn expiry. Run
	// both in tight loops so the race detector can catch any
	// unsynchronised access.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := r.Renew(sess.Token); err != nil {
				t.Errorf("Renew() error = %v", err)
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			got, err := r.Validate(sess.Token)
			if err != nil {
				t.Errorf("Validate() error = %v", err)
				return
			}
			if got.ExpiresAt.Before(sess.ExpiresAt) {
				t.Errorf("Validate() expiry = %v, earlier than the original %v", got.ExpiresAt, sess.ExpiresAt)
				return
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
}

// wrapStore decorates a Store, wrapping every error the way an
// instrumented implementation would.
type wrapStore struct {
	credential.Store
}

func (w wrapStore) Get(ctx context.Context, addr string) (string, error) {
	cred, err := w.Store.Get(ctx, addr)
	if err != nil {
		return "", fmt.Errorf("credential lookup: %w", err)
	}
	return cred, nil
}

func TestCreateNoCredentialWrappedNotFound(t *testing.T) {
	r := NewRegistry(wrapStore{newMemStore()}, time.Hour, time.Minute)

	_, err := r.Create(context.Background(), "192.168.1.10", "")
	if !errors.Is(err, ErrNoCredential) {
		t.Errorf("Create() error = %v, want ErrNoCredential", err)
	}
}
