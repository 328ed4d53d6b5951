package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a queue entry in a transport-friendly format.
type Job struct {
	ID           int64           `json:"id"`
	Title        string          `json:"title"`
	Status       string          `json:"status"`
	Source       string          `json:"source"`
	Progress     JobProgress     `json:"progress"`
	ErrorMessage string          `json:"errorMessage"`
	PromptID     string          `json:"promptId,omitempty"`
	CreatedAt    string          `json:"createdAt,omitempty"`
	UpdatedAt    string          `json:"updatedAt,omitempty"`
	Workflow     json.RawMessage `json:"workflow,omitempty"`
	Outputs      json.RawMessage `json:"outputs,omitempty"`
}

// JobProgress captures stage progress information for a queue entry.
type JobProgress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	QueueStats  map[string]int `json:"queueStats"`
	LastError   string         `json:"lastError,omitempty"`
	LastJob     *Job           `json:"lastJob,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// PreflightResult captures the outcome of a startup readiness check.
type PreflightResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool              `json:"running"`
	PID          int               `json:"pid"`
	QueueDBPath  string            `json:"queueDbPath"`
	LockFilePath string            `json:"lockFilePath"`
	ComfyURL     string            `json:"comfyUrl,omitempty"`
	ComfyManaged bool              `json:"comfyManaged"`
	ComfyError   string            `json:"comfyError,omitempty"`
	Workflow     WorkflowStatus    `json:"workflow"`
	Preflight    []PreflightResult `json:"preflight,omitempty"`
}

// QueueStatsResponse provides a normalized queue stats payload.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// QueueListResponse wraps a collection of jobs for API responses.
type QueueListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// SubmitJobRequest enqueues a workflow for asynchronous generation.
type SubmitJobRequest struct {
	Title    string          `json:"title"`
	Workflow json.RawMessage `json:"workflow"`
	Images   []InputImage    `json:"images,omitempty"`
}

// InputImage carries a named base64-encoded input image.
type InputImage struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// SubmitJobResponse reports the queued job.
type SubmitJobResponse struct {
	JobID  int64  `json:"jobId"`
	Status string `json:"status"`
}

// GenerateResponse carries the outputs of a synchronous generation call.
type GenerateResponse struct {
	PromptID string        `json:"promptId"`
	Images   []OutputImage `json:"images"`
}

// OutputImage is a single collected artifact.
type OutputImage struct {
	Filename string `json:"filename"`
	Type     string `json:"type"`
	Data     string `json:"data"`
}

// ErrorResponse is the uniform error payload for HTTP handlers.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ModelAsset describes one manifest entry and its local state.
type ModelAsset struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Present bool   `json:"present"`
	Path    string `json:"path"`
}

// StatusLine is a labeled readiness row rendered by the status command.
// Severity is one of "ok", "warn", "error", or "info".
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}
