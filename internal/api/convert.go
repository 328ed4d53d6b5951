package api

import (
	"encoding/json"
	"slices"
	"time"

	"easel/internal/artifacts"
	"easel/internal/preflight"
	"easel/internal/queue"
	"easel/internal/stage"
	"easel/internal/workflow"
)

// FromJob converts a queue record to its API representation.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}

	dto := Job{
		ID:     job.ID,
		Title:  job.Title,
		Status: string(job.Status),
		Source: string(job.Source),
		Progress: JobProgress{
			Stage:   job.ProgressStage,
			Percent: job.ProgressPercent,
			Message: job.ProgressMessage,
		},
		ErrorMessage: job.ErrorMessage,
		PromptID:     job.PromptID,
	}
	if !job.CreatedAt.IsZero() {
		dto.CreatedAt = job.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !job.UpdatedAt.IsZero() {
		dto.UpdatedAt = job.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	if raw := job.WorkflowJSON; raw != "" {
		dto.Workflow = json.RawMessage(raw)
	}
	if raw := job.OutputsJSON; raw != "" {
		dto.Outputs = json.RawMessage(raw)
	}
	return dto
}

// FromJobs converts a slice of queue records into API DTOs.
func FromJobs(jobs []*queue.Job) []Job {
	if len(jobs) == 0 {
		return nil
	}
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	wf := WorkflowStatus{
		Running:     summary.Running,
		QueueStats:  MergeQueueStats(summary.QueueStats),
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
	if summary.LastError != "" {
		wf.LastError = summary.LastError
	}
	if summary.LastJob != nil {
		last := FromJob(summary.LastJob)
		wf.LastJob = &last
	}
	return wf
}

// FromPreflightResults converts preflight outcomes into API payloads.
func FromPreflightResults(results []preflight.Result) []PreflightResult {
	if len(results) == 0 {
		return nil
	}
	out := make([]PreflightResult, 0, len(results))
	for _, r := range results {
		out = append(out, PreflightResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return out
}

// FromArtifacts converts collected artifacts into output image DTOs.
func FromArtifacts(items []artifacts.Artifact) []OutputImage {
	if len(items) == 0 {
		return nil
	}
	out := make([]OutputImage, 0, len(items))
	for _, a := range items {
		out = append(out, OutputImage{Filename: a.Filename, Type: a.Type, Data: a.Data})
	}
	return out
}

// MergeQueueStats produces a string-keyed representation of queue stats.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

// StageHealthSlice converts a stage health map into a deterministic slice.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
