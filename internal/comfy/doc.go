// Package comfy implements the client for a locally running ComfyUI
// server: queueing prompts over REST, watching execution over the
// websocket with an HTTP-polling fallback, and fetching generated
// images and input uploads.
package comfy
