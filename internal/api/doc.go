// Package api defines wire-format types and converters for the IPC and HTTP
// API layer. It translates internal queue models into transport-friendly DTOs
// that clients can render without coupling to internal types.
//
// # Key Types
//
// Job: transport representation of a queue entry with progress, prompt id,
// and collected outputs.
//
// WorkflowStatus: daemon running state, queue stats, stage health, and last job.
//
// DaemonStatus: aggregated runtime information including preflight checks.
//
// # Converters
//
// FromJob: queue.Job -> Job with progress defaults and output unmarshalling.
//
// FromStatusSummary: workflow.StatusSummary -> WorkflowStatus.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Internal
// enums (queue.Status, queue.JobSource) are exposed as lowercase strings.
// Timestamps use RFC3339 with milliseconds. Workflow graphs and outputs are
// passed through as json.RawMessage to avoid double-encoding.
package api
