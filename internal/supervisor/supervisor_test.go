package supervisor

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"easel/internal/config"
	"easel/internal/logging"
)

type readyNow struct{}

func (readyNow) WaitUntilReady(context.Context, time.Duration, time.Duration) error {
	return nil
}

type neverReady struct{}

func (neverReady) WaitUntilReady(ctx context.Context, timeout, _ time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Comfy.Managed = true
	cfg.Comfy.Dir = t.TempDir()
	cfg.Comfy.StartupTimeout = 1
	return &cfg
}

func TestStartAndStop(t *testing.T) {
	sup := New(testConfig(t), readyNow{}, logging.NewNop())
	sup.startCommand = func(ctx context.Context) (*exec.Cmd, error) {
		cmd := exec.CommandContext(ctx, "sleep", "60")
		return cmd, cmd.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !sup.Running() {
		t.Fatal("expected running after start")
	}

	runDone := make(chan error, 1)
	go func() { runDone <- sup.Run(ctx) }()

	sup.Stop()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run after Stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if sup.Running() {
		t.Fatal("expected stopped")
	}
}

func TestStartFailsWhenNeverReady(t *testing.T) {
	sup := New(testConfig(t), neverReady{}, logging.NewNop())
	sup.startCommand = func(ctx context.Context) (*exec.Cmd, error) {
		cmd := exec.CommandContext(ctx, "sleep", "60")
		return cmd, cmd.Start()
	}

	if err := sup.Start(context.Background()); err == nil {
		t.Fatal("expected readiness failure")
	}
	if sup.Running() {
		t.Fatal("process should be cleared after failed start")
	}
}

func TestRunRestartsAfterCrash(t *testing.T) {
	starts := 0
	sup := New(testConfig(t), readyNow{}, logging.NewNop())
	sup.startCommand = func(ctx context.Context) (*exec.Cmd, error) {
		starts++
		var cmd *exec.Cmd
		if starts == 1 {
			cmd = exec.CommandContext(ctx, "true")
		} else {
			cmd = exec.CommandContext(ctx, "sleep", "60")
		}
		return cmd, cmd.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	runDone := make(chan error, 1)
	go func() { runDone <- sup.Run(ctx) }()

	deadline := time.Now().Add(10 * time.Second)
	for starts < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if starts < 2 {
		t.Fatal("supervisor did not restart crashed process")
	}

	sup.Stop()
	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
