// Package daemon coordinates the long-running easel process.
//
// It wires configuration, queue storage, the workflow manager, the ComfyUI
// supervisor, and the HTTP API into a single lifecycle with flock-based
// locking to prevent multiple instances. The daemon exposes queue maintenance
// helpers and the synchronous generate path used by the HTTP API.
//
// Keep orchestration logic here: individual workflow steps should live in
// their respective packages while the daemon focuses on startup, shutdown,
// and high level coordination.
package daemon
