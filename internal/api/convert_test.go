package api

import (
	"testing"
	"time"

	"easel/internal/queue"
	"easel/internal/stage"
	"easel/internal/workflow"
)

func TestFromJob(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	job := &queue.Job{
		ID:              7,
		Title:           "portrait",
		Status:          queue.StatusGenerating,
		Source:          queue.SourceAPI,
		WorkflowJSON:    `{"3":{"class_type":"KSampler"}}`,
		PromptID:        "prompt-123",
		OutputsJSON:     `[{"filename":"out.png","type":"base64","data":"aGk="}]`,
		CreatedAt:       created,
		UpdatedAt:       created.Add(time.Minute),
		ProgressStage:   "Generating",
		ProgressPercent: 42.5,
		ProgressMessage: "sampling",
	}

	dto := FromJob(job)
	if dto.ID != 7 || dto.Title != "portrait" {
		t.Fatalf("unexpected identity fields: %+v", dto)
	}
	if dto.Status != "generating" || dto.Source != "api" {
		t.Fatalf("unexpected enum rendering: status=%q source=%q", dto.Status, dto.Source)
	}
	if dto.Progress.Stage != "Generating" || dto.Progress.Percent != 42.5 {
		t.Fatalf("unexpected progress: %+v", dto.Progress)
	}
	if dto.PromptID != "prompt-123" {
		t.Fatalf("unexpected prompt id %q", dto.PromptID)
	}
	if dto.CreatedAt != "2026-03-14T09:26:53.000Z" {
		t.Fatalf("unexpected createdAt %q", dto.CreatedAt)
	}
	if len(dto.Outputs) == 0 || len(dto.Workflow) == 0 {
		t.Fatal("expected raw workflow and outputs passthrough")
	}
}

func TestFromJobNil(t *testing.T) {
	dto := FromJob(nil)
	if dto.ID != 0 || dto.Status != "" {
		t.Fatalf("expected zero DTO, got %+v", dto)
	}
}

func TestFromStatusSummary(t *testing.T) {
	summary := workflow.StatusSummary{
		Running:   true,
		LastError: "boom",
		LastJob:   &queue.Job{ID: 3, Status: queue.StatusFailed},
		QueueStats: map[queue.Status]int{
			queue.StatusPending:   2,
			queue.StatusCompleted: 5,
		},
		StageHealth: map[string]stage.Health{
			"prepare":  stage.Healthy("prepare"),
			"generate": stage.Unhealthy("generate", "comfyui unreachable"),
		},
	}

	wf := FromStatusSummary(summary)
	if !wf.Running || wf.LastError != "boom" {
		t.Fatalf("unexpected status: %+v", wf)
	}
	if wf.QueueStats["pending"] != 2 || wf.QueueStats["completed"] != 5 {
		t.Fatalf("unexpected stats: %+v", wf.QueueStats)
	}
	if wf.LastJob == nil || wf.LastJob.ID != 3 {
		t.Fatalf("expected last job, got %+v", wf.LastJob)
	}
	if len(wf.StageHealth) != 2 {
		t.Fatalf("expected 2 health entries, got %d", len(wf.StageHealth))
	}
	if wf.StageHealth[0].Name != "generate" || wf.StageHealth[1].Name != "prepare" {
		t.Fatalf("expected sorted health names, got %+v", wf.StageHealth)
	}
	if wf.StageHealth[0].Ready {
		t.Fatal("expected generate stage unhealthy")
	}
}

func TestSortJobsNewestFirst(t *testing.T) {
	jobs := []Job{
		{ID: 1, CreatedAt: "2026-03-14T09:00:00.000Z"},
		{ID: 2, CreatedAt: "2026-03-14T10:00:00.000Z"},
		{ID: 3, CreatedAt: "2026-03-14T10:00:00.000Z"},
	}
	sorted := SortJobsNewestFirst(jobs)
	if sorted[0].ID != 3 || sorted[1].ID != 2 || sorted[2].ID != 1 {
		t.Fatalf("unexpected order: %+v", sorted)
	}
}
