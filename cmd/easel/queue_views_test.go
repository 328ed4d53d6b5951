package main

import (
	"testing"

	"easel/internal/api"
)

func TestFormatStatusLabel(t *testing.T) {
	cases := map[string]string{
		"pending":    "Pending",
		"generating": "Generating",
		"":           "",
	}
	for input, want := range cases {
		if got := formatStatusLabel(input); got != want {
			t.Errorf("formatStatusLabel(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestFormatProgress(t *testing.T) {
	if got := formatProgress(api.JobProgress{}); got != "-" {
		t.Fatalf("expected placeholder for empty progress, got %q", got)
	}
	if got := formatProgress(api.JobProgress{Stage: "generating", Percent: 42}); got != "generating 42%" {
		t.Fatalf("unexpected progress: %q", got)
	}
	if got := formatProgress(api.JobProgress{Stage: "preparing"}); got != "preparing" {
		t.Fatalf("unexpected progress without percent: %q", got)
	}
}

func TestBuildQueueListRowsSortsNewestFirst(t *testing.T) {
	jobs := []api.Job{
		{ID: 1, Title: "old", Status: "completed", CreatedAt: "2026-08-01T10:00:00Z"},
		{ID: 2, Title: "", Status: "pending", CreatedAt: "2026-08-02T10:00:00Z"},
	}
	rows := buildQueueListRows(jobs)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "2" {
		t.Fatalf("expected newest job first, got id %s", rows[0][0])
	}
	if rows[0][1] != "Untitled" {
		t.Fatalf("expected untitled fallback, got %q", rows[0][1])
	}
	if rows[1][2] != "Completed" {
		t.Fatalf("expected formatted status, got %q", rows[1][2])
	}
}

func TestBuildQueueStatusRowsSorted(t *testing.T) {
	rows := buildQueueStatusRows(map[string]int{"pending": 2, "failed": 1})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "Failed" || rows[1][0] != "Pending" {
		t.Fatalf("expected alphabetical order, got %v", rows)
	}
}
