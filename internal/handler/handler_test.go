package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"easel/internal/artifacts"
	"easel/internal/comfy"
	"easel/internal/config"
	"easel/internal/logging"
	"easel/internal/services"
)

type fakeComfy struct {
	uploads    map[string][]byte
	queued     json.RawMessage
	queueErr   error
	waitErr    error
	history    *comfy.HistoryEntry
	historyOK  bool
	waitBlocks bool
	interrupts int
}

func (f *fakeComfy) UploadImage(_ context.Context, name string, data []byte, _ bool) (*comfy.UploadResponse, error) {
	if f.uploads == nil {
		f.uploads = make(map[string][]byte)
	}
	f.uploads[name] = data
	return &comfy.UploadResponse{Name: name, Type: "input"}, nil
}

func (f *fakeComfy) QueuePrompt(_ context.Context, workflow json.RawMessage) (string, error) {
	if f.queueErr != nil {
		return "", f.queueErr
	}
	f.queued = workflow
	return "prompt-1", nil
}

func (f *fakeComfy) WaitForPrompt(ctx context.Context, _ string, onProgress comfy.ProgressFunc) error {
	if f.waitErr != nil {
		return f.waitErr
	}
	if f.waitBlocks {
		<-ctx.Done()
		return ctx.Err()
	}
	if onProgress != nil {
		onProgress(comfy.Progress{Value: 20, Max: 20})
	}
	return ctx.Err()
}

func (f *fakeComfy) History(_ context.Context, _ string) (*comfy.HistoryEntry, error) {
	if !f.historyOK {
		return nil, fmt.Errorf("history unavailable")
	}
	return f.history, nil
}

func (f *fakeComfy) Interrupt(context.Context) error {
	f.interrupts++
	return nil
}

type fakeCollector struct {
	result []artifacts.Artifact
	err    error
}

func (f *fakeCollector) Collect(context.Context, int64, *comfy.HistoryEntry) ([]artifacts.Artifact, error) {
	return f.result, f.err
}

func handlerUnderTest(t *testing.T, client *fakeComfy, collector *fakeCollector) *Handler {
	t.Helper()
	cfg := config.Default()
	cfg.Workflow.GenerationTimeout = 30
	return New(&cfg, client, collector, logging.NewNop())
}

const validWorkflow = `{"3":{"class_type":"KSampler","inputs":{"seed":42}}}`

func TestValidateRequestRejectsBadShapes(t *testing.T) {
	cases := []struct {
		name string
		req  *GenerateRequest
	}{
		{"nil request", nil},
		{"missing workflow", &GenerateRequest{}},
		{"workflow not object", &GenerateRequest{Workflow: json.RawMessage(`[1,2]`)}},
		{"empty workflow", &GenerateRequest{Workflow: json.RawMessage(`{}`)}},
		{"image without name", &GenerateRequest{
			Workflow: json.RawMessage(validWorkflow),
			Images:   []InputImage{{Image: base64.StdEncoding.EncodeToString([]byte("x"))}},
		}},
		{"image without payload", &GenerateRequest{
			Workflow: json.RawMessage(validWorkflow),
			Images:   []InputImage{{Name: "a.png"}},
		}},
		{"image with bad base64", &GenerateRequest{
			Workflow: json.RawMessage(validWorkflow),
			Images:   []InputImage{{Name: "a.png", Image: "not-base64!!!"}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRequest(tc.req)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("error = %v, want validation marker", err)
			}
		})
	}
}

func TestValidateRequestAcceptsDataURI(t *testing.T) {
	req := &GenerateRequest{
		Workflow: json.RawMessage(validWorkflow),
		Images: []InputImage{{
			Name:  "in.png",
			Image: "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png")),
		}},
	}
	if err := ValidateRequest(req); err != nil {
		t.Fatalf("ValidateRequest: %v", err)
	}
}

func TestSubmitUploadsInputsAndQueues(t *testing.T) {
	client := &fakeComfy{}
	h := handlerUnderTest(t, client, &fakeCollector{})

	req := &GenerateRequest{
		Workflow: json.RawMessage(validWorkflow),
		Images: []InputImage{{
			Name:  "in.png",
			Image: base64.StdEncoding.EncodeToString([]byte("png-bytes")),
		}},
	}
	queued, err := h.Submit(context.Background(), 1, req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if queued.PromptID != "prompt-1" {
		t.Fatalf("prompt id = %q", queued.PromptID)
	}
	if string(client.uploads["in.png"]) != "png-bytes" {
		t.Fatalf("uploads = %v", client.uploads)
	}
	if string(client.queued) != validWorkflow {
		t.Fatalf("queued workflow = %s", client.queued)
	}
}

func TestSubmitSurfacesValidationError(t *testing.T) {
	client := &fakeComfy{queueErr: &comfy.ValidationError{Message: "bad node"}}
	h := handlerUnderTest(t, client, &fakeCollector{})

	_, err := h.Submit(context.Background(), 1, &GenerateRequest{Workflow: json.RawMessage(validWorkflow)})
	var verr *comfy.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *comfy.ValidationError", err)
	}
}

func TestRunCollectsArtifacts(t *testing.T) {
	client := &fakeComfy{
		historyOK: true,
		history: &comfy.HistoryEntry{
			Outputs: map[string]comfy.NodeOutput{"9": {Images: []comfy.OutputImage{{Filename: "out.png"}}}},
		},
	}
	collector := &fakeCollector{result: []artifacts.Artifact{{Filename: "out.png", Type: "base64", Data: "cG5n"}}}
	h := handlerUnderTest(t, client, collector)

	var sawProgress bool
	result, err := h.Run(context.Background(), 5, &GenerateRequest{Workflow: json.RawMessage(validWorkflow)}, func(comfy.Progress) {
		sawProgress = true
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.PromptID != "prompt-1" || len(result.Images) != 1 {
		t.Fatalf("result = %+v", result)
	}
	if !sawProgress {
		t.Fatal("progress callback never fired")
	}
}

func TestWaitInterruptsOnGenerationTimeout(t *testing.T) {
	client := &fakeComfy{waitBlocks: true}
	cfg := config.Default()
	cfg.Workflow.GenerationTimeout = 1
	h := New(&cfg, client, &fakeCollector{}, logging.NewNop())

	err := h.Wait(context.Background(), 1, "p1", nil)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("error = %v, want generation timeout", err)
	}
	if client.interrupts != 1 {
		t.Fatalf("interrupts = %d, want 1", client.interrupts)
	}
}

func TestAwaitWrapsExecutionError(t *testing.T) {
	client := &fakeComfy{waitErr: &comfy.ExecutionError{PromptID: "p", NodeID: "7", NodeType: "KSampler", Message: "oom"}}
	h := handlerUnderTest(t, client, &fakeCollector{})

	_, err := h.Await(context.Background(), 1, "p", nil)
	if err == nil || !strings.Contains(err.Error(), "oom") {
		t.Fatalf("error = %v", err)
	}
}
