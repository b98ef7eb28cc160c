package credential

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store defines credential persistence keyed by bridge address.
//
// There is at most one credential per bridge address; Put overwrites any
// prior value (re-pairing semantics). The store is shared by every session
// pointing at the same bridge, which is what lets a second browser tab or
// device connect without re-pairing.
type Store interface {
	// Get returns the credential for a bridge address.
	// Returns ErrNotFound if no credential is stored.
	Get(ctx context.Context, bridgeAddress string) (string, error)

	// Has reports whether a credential is stored for the address.
	Has(ctx context.Context, bridgeAddress string) (bool, error)

	// Put stores a credential for a bridge address, replacing any
	// existing value.
	Put(ctx context.Context, bridgeAddress, cred string) error

	// Delete removes the credential for a bridge address.
	// Deleting an unknown address is not an error.
	Delete(ctx context.Context, bridgeAddress string) error
}

// SQLiteStore implements Store using the bridge_credentials table.
//
// All mutations are single-statement upserts/deletes, so concurrent
// readers observe either the old or the new credential, never a partial
// write.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed credential store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get returns the credential for a bridge address.
func (s *SQLiteStore) Get(ctx context.Context, bridgeAddress string) (string, error) {
	var cred string
	err := s.db.QueryRowContext(ctx,
		"SELECT credential FROM bridge_credentials WHERE bridge_address = ?",
		bridgeAddress,
	).Scan(&cred)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("getting credential: %w", err)
	}
	return cred, nil
}

// Has reports whether a credential is stored for the address.
func (s *SQLiteStore) Has(ctx context.Context, bridgeAddress string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM bridge_credentials WHERE bridge_address = ?",
		bridgeAddress,
	).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("checking credential: %w", err)
	}
	return true, nil
}

// Put stores a credential for a bridge address, replacing any existing value.
func (s *SQLiteStore) Put(ctx context.Context, bridgeAddress, cred string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bridge_credentials (bridge_address, credential, paired_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(bridge_address) DO UPDATE SET credential = excluded.credential, updated_at = excluded.updated_at`,
		bridgeAddress, cred, now, now,
	)
	if err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}
	return nil
}

// Delete removes the credential for a bridge address.
func (s *SQLiteStore) Delete(ctx context.Context, bridgeAddress string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM bridge_credentials WHERE bridge_address = ?", bridgeAddress)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}
