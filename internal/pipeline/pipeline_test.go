package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"easel/internal/artifacts"
	"easel/internal/comfy"
	"easel/internal/config"
	"easel/internal/handler"
	"easel/internal/logging"
	"easel/internal/queue"
	"easel/internal/services"
	"easel/internal/testsupport"
)

const workflowJSON = `{"3":{"class_type":"KSampler","inputs":{"seed":7}}}`

type fakeComfy struct {
	uploads    map[string][]byte
	queueErr   error
	waitErr    error
	historyErr error
	entry      *comfy.HistoryEntry
	readyErr   error
	progress   []comfy.Progress
}

func (f *fakeComfy) UploadImage(_ context.Context, name string, data []byte, _ bool) (*comfy.UploadResponse, error) {
	if f.uploads == nil {
		f.uploads = make(map[string][]byte)
	}
	f.uploads[name] = data
	return &comfy.UploadResponse{Name: name, Type: "input"}, nil
}

func (f *fakeComfy) QueuePrompt(context.Context, json.RawMessage) (string, error) {
	if f.queueErr != nil {
		return "", f.queueErr
	}
	return "prompt-9", nil
}

func (f *fakeComfy) WaitForPrompt(_ context.Context, _ string, onProgress comfy.ProgressFunc) error {
	if f.waitErr != nil {
		return f.waitErr
	}
	for _, p := range f.progress {
		if onProgress != nil {
			onProgress(p)
		}
	}
	return nil
}

func (f *fakeComfy) History(context.Context, string) (*comfy.HistoryEntry, error) {
	return f.entry, f.historyErr
}

func (f *fakeComfy) Ready(context.Context) error {
	return f.readyErr
}

func (f *fakeComfy) Interrupt(context.Context) error {
	return nil
}

type fakeArtifacts struct {
	result []artifacts.Artifact
	err    error
}

func (f *fakeArtifacts) Collect(context.Context, int64, *comfy.HistoryEntry) ([]artifacts.Artifact, error) {
	return f.result, f.err
}

type memStore struct {
	updates int
}

func (m *memStore) Update(context.Context, *queue.Job) error {
	m.updates++
	return nil
}

func testHandler(t *testing.T, client *fakeComfy, collector *fakeArtifacts) (*handler.Handler, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.OutputDir = t.TempDir()
	cfg.Workflow.GenerationTimeout = 30
	return handler.New(&cfg, client, collector, logging.NewNop()), &cfg
}

func pendingJob(images string) *queue.Job {
	return &queue.Job{
		ID:              1,
		Title:           "test",
		Status:          queue.StatusPending,
		WorkflowJSON:    workflowJSON,
		InputImagesJSON: images,
	}
}

func TestPreparerValidatesAndUploads(t *testing.T) {
	client := &fakeComfy{}
	h, cfg := testHandler(t, client, &fakeArtifacts{})
	p := NewPreparer(cfg, h, client, logging.NewNop())

	images, _ := json.Marshal([]handler.InputImage{{
		Name:  "in.png",
		Image: base64.StdEncoding.EncodeToString([]byte("png")),
	}})
	job := pendingJob(string(images))

	if err := p.Prepare(context.Background(), job); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := p.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if job.Status != queue.StatusPrepared {
		t.Fatalf("status = %q, want prepared", job.Status)
	}
	if string(client.uploads["in.png"]) != "png" {
		t.Fatalf("uploads = %v", client.uploads)
	}
}

func TestPreparerRejectsEmptyWorkflow(t *testing.T) {
	client := &fakeComfy{}
	h, cfg := testHandler(t, client, &fakeArtifacts{})
	p := NewPreparer(cfg, h, client, logging.NewNop())

	job := pendingJob("")
	job.WorkflowJSON = `{}`
	err := p.Prepare(context.Background(), job)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation marker", err)
	}
}

// manifestConfig produces a config whose manifest lists a single vae
// asset, with a low size floor so tests can fabricate small files.
func manifestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Models.MinFileSize = 16
	manifestPath := filepath.Join(testsupport.BaseDir(cfg), "manifest.toml")
	manifest := "[[assets]]\nname = \"ae.safetensors\"\nkind = \"vae\"\nsource = \"https://example.com/ae.safetensors\"\n"
	if err := os.WriteFile(manifestPath, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	cfg.Models.ManifestPath = manifestPath
	return cfg
}

func TestPreparerFailsWhenModelAssetsMissing(t *testing.T) {
	client := &fakeComfy{}
	cfg := manifestConfig(t)
	h := handler.New(cfg, client, &fakeArtifacts{}, logging.NewNop())
	p := NewPreparer(cfg, h, client, logging.NewNop())

	err := p.Prepare(context.Background(), pendingJob(""))
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("error = %v, want configuration marker", err)
	}
	if !strings.Contains(err.Error(), "vae/ae.safetensors") {
		t.Fatalf("error %q does not name the missing asset", err)
	}
	if services.Retryable(err) {
		t.Fatal("missing models should not be retryable")
	}
}

func TestPreparerAcceptsPresentModelAssets(t *testing.T) {
	client := &fakeComfy{}
	cfg := manifestConfig(t)
	testsupport.WriteFile(t, filepath.Join(cfg.ModelDir("vae"), "ae.safetensors"), 64)
	h := handler.New(cfg, client, &fakeArtifacts{}, logging.NewNop())
	p := NewPreparer(cfg, h, client, logging.NewNop())

	if err := p.Prepare(context.Background(), pendingJob("")); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
}

func TestGeneratorQueuesAndTracksProgress(t *testing.T) {
	client := &fakeComfy{progress: []comfy.Progress{{Value: 5, Max: 20}, {Value: 20, Max: 20}}}
	h, cfg := testHandler(t, client, &fakeArtifacts{})
	store := &memStore{}
	g := NewGenerator(cfg, h, store, client, logging.NewNop())

	job := pendingJob("")
	job.Status = queue.StatusGenerating
	if err := g.Prepare(context.Background(), job); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := g.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if job.PromptID != "prompt-9" {
		t.Fatalf("prompt id = %q", job.PromptID)
	}
	if job.Status != queue.StatusGenerated {
		t.Fatalf("status = %q, want generated", job.Status)
	}
	if job.ProgressPercent != 100 {
		t.Fatalf("progress = %v, want 100", job.ProgressPercent)
	}
	// Persisted at least: prompt id, two progress steps.
	if store.updates < 3 {
		t.Fatalf("store updates = %d, want >= 3", store.updates)
	}
}

func TestGeneratorClassifiesValidationRejection(t *testing.T) {
	client := &fakeComfy{queueErr: &comfy.ValidationError{Message: "bad node"}}
	h, cfg := testHandler(t, client, &fakeArtifacts{})
	g := NewGenerator(cfg, h, &memStore{}, client, logging.NewNop())

	err := g.Execute(context.Background(), pendingJob(""))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation marker", err)
	}
}

func TestGeneratorClassifiesExecutionFailure(t *testing.T) {
	client := &fakeComfy{waitErr: &comfy.ExecutionError{PromptID: "p", NodeID: "7", NodeType: "KSampler", Message: "oom"}}
	h, cfg := testHandler(t, client, &fakeArtifacts{})
	g := NewGenerator(cfg, h, &memStore{}, client, logging.NewNop())

	err := g.Execute(context.Background(), pendingJob(""))
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("error = %v, want external tool marker", err)
	}
}

func TestCollectorPersistsOutputs(t *testing.T) {
	client := &fakeComfy{entry: &comfy.HistoryEntry{
		Outputs: map[string]comfy.NodeOutput{"9": {Images: []comfy.OutputImage{{Filename: "out.png"}}}},
	}}
	arts := &fakeArtifacts{result: []artifacts.Artifact{{Filename: "out.png", Type: "base64", Data: "cG5n"}}}
	h, cfg := testHandler(t, client, arts)
	c := NewCollector(cfg, h, logging.NewNop())

	job := pendingJob("")
	job.PromptID = "prompt-9"
	job.Status = queue.StatusCollecting
	if err := c.Prepare(context.Background(), job); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := c.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if job.Status != queue.StatusCompleted {
		t.Fatalf("status = %q, want completed", job.Status)
	}

	var stored []artifacts.Artifact
	if err := json.Unmarshal([]byte(job.OutputsJSON), &stored); err != nil {
		t.Fatalf("outputs json: %v", err)
	}
	if len(stored) != 1 || stored[0].Filename != "out.png" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestCollectorRequiresPromptID(t *testing.T) {
	client := &fakeComfy{}
	h, cfg := testHandler(t, client, &fakeArtifacts{})
	c := NewCollector(cfg, h, logging.NewNop())

	err := c.Prepare(context.Background(), pendingJob(""))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation marker", err)
	}
}

func TestHealthChecksReflectReadiness(t *testing.T) {
	client := &fakeComfy{}
	h, cfg := testHandler(t, client, &fakeArtifacts{})
	p := NewPreparer(cfg, h, client, logging.NewNop())
	g := NewGenerator(cfg, h, &memStore{}, client, logging.NewNop())

	if health := p.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("preparer health = %+v", health)
	}
	client.readyErr = fmt.Errorf("connection refused")
	if health := g.HealthCheck(context.Background()); health.Ready {
		t.Fatalf("generator health = %+v", health)
	}
}
