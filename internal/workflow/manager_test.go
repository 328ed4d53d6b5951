package workflow_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"easel/internal/config"
	"easel/internal/logging"
	"easel/internal/queue"
	"easel/internal/stage"
	"easel/internal/testsupport"
	"easel/internal/workflow"
)

type stubStage struct {
	name        string
	prepareHook func(*queue.Job)
	executeHook func(*queue.Job)
	prepareErr  error
	executeErr  error
	health      stage.Health
}

func newStubStage(name string) *stubStage {
	return &stubStage{name: name, health: stage.Healthy(name)}
}

func (s *stubStage) Prepare(_ context.Context, job *queue.Job) error {
	if s.prepareHook != nil {
		s.prepareHook(job)
	}
	return s.prepareErr
}

func (s *stubStage) Execute(_ context.Context, job *queue.Job) error {
	if s.executeHook != nil {
		s.executeHook(job)
	}
	return s.executeErr
}

func (s *stubStage) HealthCheck(context.Context) stage.Health {
	return s.health
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return testsupport.NewConfig(t)
}

const testWorkflowJSON = `{"3":{"class_type":"KSampler","inputs":{}}}`

func TestManagerProcessesJobs(t *testing.T) {
	cfg := testConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	preparer := newStubStage("prepare")
	generator := newStubStage("generate")
	collector := newStubStage("collect")

	notifier := &managerNotifier{}
	mgr := workflow.NewManagerWithNotifier(cfg, store, logging.NewNop(), notifier)
	mgr.ConfigureStages(workflow.StageSet{
		Preparer:  preparer,
		Generator: generator,
		Collector: collector,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { mgr.Stop() })

	job, err := store.NewJob(ctx, "portrait", testWorkflowJSON, "", queue.SourceAPI)
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}

	deadline := time.After(60 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for completion")
		default:
		}
		updated, err := store.GetByID(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if updated.Status == queue.StatusCompleted {
			if updated.ProgressPercent < 100 {
				t.Fatalf("expected 100%% progress, got %v", updated.ProgressPercent)
			}
			break
		}
		time.Sleep(25 * time.Millisecond)
	}

	if len(notifier.queueStarts) != 1 {
		t.Fatalf("expected one queue start notification, got %d", len(notifier.queueStarts))
	}
	deadline = time.After(10 * time.Second)
	for len(notifier.queueCompletes) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected queue completion notification")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	if got := notifier.queueCompletes[0]; got.processed != 1 || got.failed != 0 {
		t.Fatalf("unexpected queue completion counts: %+v", got)
	}
}

func TestManagerStatusIncludesStageHealth(t *testing.T) {
	cfg := testConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	handler := newStubStage("prepare")
	handler.health = stage.Unhealthy(handler.name, "comfyui unreachable")

	mgr := workflow.NewManager(cfg, store, logging.NewNop())
	mgr.ConfigureStages(workflow.StageSet{Preparer: handler})

	status := mgr.Status(context.Background())
	health, ok := status.StageHealth[handler.name]
	if !ok {
		t.Fatalf("expected stage health entry for %s", handler.name)
	}
	if health.Ready {
		t.Fatalf("expected not ready health, got %+v", health)
	}
	if health.Detail != handler.health.Detail {
		t.Fatalf("expected detail %q, got %q", handler.health.Detail, health.Detail)
	}
}

func TestManagerStageFailureMarksJobFailed(t *testing.T) {
	cfg := testConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	failing := newStubStage("generate")
	failing.executeErr = fmt.Errorf("boom")

	notifier := &managerNotifier{}
	mgr := workflow.NewManagerWithNotifier(cfg, store, logging.NewNop(), notifier)
	mgr.ConfigureStages(workflow.StageSet{Generator: failing})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { mgr.Stop() })

	job, err := store.NewJob(ctx, "portrait", testWorkflowJSON, "", queue.SourceAPI)
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	job.Status = queue.StatusPrepared
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	deadline := time.After(30 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for failed status")
		default:
		}
		updated, err := store.GetByID(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if updated.Status == queue.StatusFailed {
			if updated.ErrorMessage == "" {
				t.Fatal("expected error message to be populated")
			}
			break
		}
		time.Sleep(25 * time.Millisecond)
	}

	deadline = time.After(10 * time.Second)
	for len(notifier.jobFailures) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected job failure notification")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestManagerStartRequiresConfiguredStages(t *testing.T) {
	cfg := testConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mgr := workflow.NewManager(cfg, store, logging.NewNop())
	if err := mgr.Start(context.Background()); err == nil {
		mgr.Stop()
		t.Fatal("expected Start to fail without configured stages")
	}
}

func TestManagerResetStuckJobs(t *testing.T) {
	cfg := testConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	job, err := store.NewJob(ctx, "portrait", testWorkflowJSON, "", queue.SourceAPI)
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	job.Status = queue.StatusGenerating
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	mgr := workflow.NewManager(cfg, store, logging.NewNop())
	if err := mgr.ResetStuckJobs(ctx); err != nil {
		t.Fatalf("ResetStuckJobs failed: %v", err)
	}

	updated, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.Status != queue.StatusPending {
		t.Fatalf("expected job reset to pending, got %s", updated.Status)
	}
}

type managerNotifier struct {
	queueStarts    []int
	queueCompletes []struct{ processed, failed int }
	jobFailures    []int64
}

func (m *managerNotifier) NotifyJobStarted(context.Context, int64, string) error        { return nil }
func (m *managerNotifier) NotifyJobCompleted(context.Context, int64, string, int) error { return nil }

func (m *managerNotifier) NotifyJobFailed(_ context.Context, jobID int64, _, _ string) error {
	m.jobFailures = append(m.jobFailures, jobID)
	return nil
}

func (m *managerNotifier) NotifyQueueStarted(_ context.Context, count int) error {
	m.queueStarts = append(m.queueStarts, count)
	return nil
}

func (m *managerNotifier) NotifyQueueCompleted(_ context.Context, processed, failed int, _ time.Duration) error {
	m.queueCompletes = append(m.queueCompletes, struct{ processed, failed int }{processed: processed, failed: failed})
	return nil
}

func (m *managerNotifier) NotifyDownloadFailed(context.Context, string, error) error { return nil }
func (m *managerNotifier) NotifyError(context.Context, error, string) error          { return nil }
func (m *managerNotifier) TestNotification(context.Context) error                    { return nil }
