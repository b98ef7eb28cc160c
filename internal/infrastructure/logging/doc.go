// Package logging provides structured logging built on log/slog.
//
// The Logger type wraps slog.Logger with service-wide default attributes
// and configuration-driven format and level selection.
package logging
