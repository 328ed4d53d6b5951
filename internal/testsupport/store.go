package testsupport

import (
	"context"
	"testing"

	"easel/internal/config"
	"easel/internal/queue"
)

// MustOpenStore opens the queue store for cfg and closes it when the test
// finishes.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open queue store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// NewJob seeds a pending job with the given title and workflow payload.
func NewJob(t testing.TB, store *queue.Store, title, workflowJSON string) *queue.Job {
	t.Helper()

	job, err := store.NewJob(context.Background(), title, workflowJSON, "", queue.SourceAPI)
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}
