// Package logging builds slog loggers with easel's console and JSON
// handlers and provides the standardized attribute helpers used across
// the daemon and CLI.
package logging
