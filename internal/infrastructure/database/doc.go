// Package database provides the SQLite connection wrapper and schema
// migrations for Lumen Core.
//
// The DB type embeds *sql.DB, adding WAL-mode setup, health checks, and a
// small versioned migration runner. SQLite is configured with a single
// writer connection, which matches its locking model.
package database
