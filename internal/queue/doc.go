// Package queue persists generation jobs in SQLite and provides the
// lifecycle transitions the workflow manager drives: pending through
// preparing, generating, collecting, and a terminal completed or failed.
package queue
