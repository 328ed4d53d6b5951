// Command easel is the CLI for the easel daemon: it submits ComfyUI
// workflows, manages the job queue, downloads model assets, and controls
// the daemon process over its Unix socket.
package main
