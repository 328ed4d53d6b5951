// Package logs reads the daemon's log file incrementally so the CLI can
// show recent activity and follow new lines. The daemon serves tails over
// IPC; when it is not running the CLI falls back to reading the file
// directly. Callers supply context deadlines so follow requests cannot
// block forever.
package logs
