// Package ipc carries the control protocol between the easel CLI and the
// daemon: JSON-RPC over a Unix socket in the data directory.
//
// The request and response structs here are the wire contract. The server
// side wraps a Daemon; the client side adds a short dial timeout so commands
// fail fast when no daemon is listening.
package ipc
