package queue_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"easel/internal/queue"
)

func openStore(t *testing.T) *queue.Store {
	t.Helper()
	store, err := queue.OpenPath(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

const workflowJSON = `{"3":{"class_type":"KSampler","inputs":{"seed":42}}}`

func TestNewJobRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "portrait", workflowJSON, "", queue.SourceCLI)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("expected assigned id")
	}
	if job.Status != queue.StatusPending {
		t.Fatalf("status = %q, want pending", job.Status)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched == nil || fetched.WorkflowJSON != workflowJSON {
		t.Fatalf("round trip lost workflow payload: %+v", fetched)
	}
	if fetched.Source != queue.SourceCLI {
		t.Fatalf("source = %q, want cli", fetched.Source)
	}
}

func TestNewJobRequiresWorkflow(t *testing.T) {
	store := openStore(t)
	if _, err := store.NewJob(context.Background(), "x", "  ", "", queue.SourceAPI); err == nil {
		t.Fatal("expected error for empty workflow")
	}
}

func TestUpdatePersistsPromptAndOutputs(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "t", workflowJSON, "", queue.SourceAPI)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}

	job.Status = queue.StatusGenerating
	job.PromptID = "prompt-123"
	job.ClientID = "client-abc"
	job.OutputsJSON = `[{"filename":"ComfyUI_00001_.png"}]`
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	found, err := store.FindByPromptID(ctx, "prompt-123")
	if err != nil {
		t.Fatalf("FindByPromptID: %v", err)
	}
	if found == nil || found.ID != job.ID {
		t.Fatalf("prompt lookup failed: %+v", found)
	}
	if found.OutputsJSON == "" {
		t.Fatal("outputs not persisted")
	}
}

func TestNextForStatusesReturnsOldest(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first, _ := store.NewJob(ctx, "first", workflowJSON, "", queue.SourceCLI)
	time.Sleep(2 * time.Millisecond)
	if _, err := store.NewJob(ctx, "second", workflowJSON, "", queue.SourceCLI); err != nil {
		t.Fatalf("NewJob: %v", err)
	}

	next, err := store.NextForStatuses(ctx, queue.StatusPending)
	if err != nil {
		t.Fatalf("NextForStatuses: %v", err)
	}
	if next == nil || next.ID != first.ID {
		t.Fatalf("expected oldest job %d, got %+v", first.ID, next)
	}
}

func TestReclaimStaleProcessing(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	job, _ := store.NewJob(ctx, "stale", workflowJSON, "", queue.SourceCLI)
	stale := time.Now().Add(-10 * time.Minute)
	job.Status = queue.StatusGenerating
	job.LastHeartbeat = &stale
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reclaimed, err := store.ReclaimStaleProcessing(ctx, time.Now().Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}

	fetched, _ := store.GetByID(ctx, job.ID)
	if fetched.Status != queue.StatusPending {
		t.Fatalf("status = %q, want pending", fetched.Status)
	}
	if fetched.LastHeartbeat != nil {
		t.Fatal("heartbeat should be cleared")
	}
}

func TestReclaimSkipsFreshHeartbeats(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	job, _ := store.NewJob(ctx, "fresh", workflowJSON, "", queue.SourceCLI)
	now := time.Now()
	job.Status = queue.StatusGenerating
	job.LastHeartbeat = &now
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reclaimed, err := store.ReclaimStaleProcessing(ctx, time.Now().Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("reclaimed = %d, want 0", reclaimed)
	}
}

func TestRetryFailedSelective(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	a, _ := store.NewJob(ctx, "a", workflowJSON, "", queue.SourceCLI)
	b, _ := store.NewJob(ctx, "b", workflowJSON, "", queue.SourceCLI)
	for _, job := range []*queue.Job{a, b} {
		job.SetFailed("boom")
		if err := store.Update(ctx, job); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	updated, err := store.RetryFailed(ctx, a.ID)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if updated != 1 {
		t.Fatalf("updated = %d, want 1", updated)
	}

	fetchedA, _ := store.GetByID(ctx, a.ID)
	fetchedB, _ := store.GetByID(ctx, b.ID)
	if fetchedA.Status != queue.StatusPending {
		t.Fatalf("a status = %q, want pending", fetchedA.Status)
	}
	if fetchedB.Status != queue.StatusFailed {
		t.Fatalf("b status = %q, want failed", fetchedB.Status)
	}
	if fetchedA.ErrorMessage != "" {
		t.Fatal("error message should be cleared on retry")
	}
}

func TestHealthCounts(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	pending, _ := store.NewJob(ctx, "p", workflowJSON, "", queue.SourceCLI)
	_ = pending
	done, _ := store.NewJob(ctx, "d", workflowJSON, "", queue.SourceCLI)
	done.Status = queue.StatusCompleted
	_ = store.Update(ctx, done)
	failed, _ := store.NewJob(ctx, "f", workflowJSON, "", queue.SourceCLI)
	failed.SetFailed("x")
	_ = store.Update(ctx, failed)

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 3 || health.Pending != 1 || health.Completed != 1 || health.Failed != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestClearVariants(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	done, _ := store.NewJob(ctx, "d", workflowJSON, "", queue.SourceCLI)
	done.Status = queue.StatusCompleted
	_ = store.Update(ctx, done)
	failed, _ := store.NewJob(ctx, "f", workflowJSON, "", queue.SourceCLI)
	failed.SetFailed("x")
	_ = store.Update(ctx, failed)
	if _, err := store.NewJob(ctx, "p", workflowJSON, "", queue.SourceCLI); err != nil {
		t.Fatalf("NewJob: %v", err)
	}

	removed, err := store.ClearCompleted(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("ClearCompleted = %d, %v", removed, err)
	}
	removed, err = store.ClearFailed(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("ClearFailed = %d, %v", removed, err)
	}
	jobs, _ := store.List(ctx)
	if len(jobs) != 1 {
		t.Fatalf("remaining jobs = %d, want 1", len(jobs))
	}
}

func TestCheckHealthReportsIntegrity(t *testing.T) {
	store := openStore(t)
	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.TableExists || !health.IntegrityCheck {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := queue.ParseStatus(" Generating "); !ok || status != queue.StatusGenerating {
		t.Fatalf("ParseStatus = %q, %v", status, ok)
	}
	if _, ok := queue.ParseStatus("rendering"); ok {
		t.Fatal("unknown status should not parse")
	}
}
