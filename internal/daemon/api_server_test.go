package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"easel/internal/api"
	"easel/internal/handler"
	"easel/internal/logging"
	"easel/internal/queue"
	"easel/internal/services"
	"easel/internal/testsupport"
	"easel/internal/workflow"
)

type queueStoreStub struct {
	jobs []*queue.Job
}

func (s *queueStoreStub) List(context.Context, ...queue.Status) ([]*queue.Job, error) {
	return s.jobs, nil
}

func (s *queueStoreStub) Stats(context.Context) (map[queue.Status]int, error) {
	return map[queue.Status]int{queue.StatusPending: len(s.jobs)}, nil
}

func (s *queueStoreStub) GetByID(context.Context, int64) (*queue.Job, error) {
	if len(s.jobs) == 0 {
		return nil, nil
	}
	return s.jobs[0], nil
}

func TestAPIServerHandleQueue(t *testing.T) {
	store := &queueStoreStub{jobs: []*queue.Job{{ID: 1, Title: "Example", Status: queue.StatusPending}}}
	srv := &apiServer{queueSvc: api.NewQueueService(store)}

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	w := httptest.NewRecorder()
	srv.handleQueue(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var resp api.QueueListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(resp.Jobs))
	}
	if resp.Jobs[0].Title != "Example" {
		t.Fatalf("unexpected title: %q", resp.Jobs[0].Title)
	}
}

func TestAPIServerHandleQueueRejectsUnknownStatus(t *testing.T) {
	srv := &apiServer{queueSvc: api.NewQueueService(&queueStoreStub{})}

	req := httptest.NewRequest(http.MethodGet, "/api/queue?status=bogus", nil)
	w := httptest.NewRecorder()
	srv.handleQueue(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	protected := authMiddleware("secret")(next)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	protected.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	protected.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with token, got %d", w.Code)
	}

	open := authMiddleware("")(next)
	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w = httptest.NewRecorder()
	open.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 without auth configured, got %d", w.Code)
	}
}

func TestStatusForError(t *testing.T) {
	if got := statusForError(context.DeadlineExceeded); got != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 for deadline, got %d", got)
	}
	if got := statusForError(handler.ValidateRequest(&handler.GenerateRequest{})); got != http.StatusBadRequest {
		t.Fatalf("expected 400 for rejected request, got %d", got)
	}
	if got := statusForError(handler.ValidateRequest(nil)); got != http.StatusBadRequest {
		t.Fatalf("expected 400 for nil request, got %d", got)
	}
	if got := statusForError(services.Wrap(services.ErrNotFound, "collect", "history", "prompt missing", nil)); got != http.StatusNotFound {
		t.Fatalf("expected 404 for not found, got %d", got)
	}
	if got := statusForError(errors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("expected 500 for untagged error, got %d", got)
	}
}

func TestStatusReportsComfySupervisionFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := workflow.NewManager(cfg, store, logging.NewNop())
	d, err := New(cfg, store, logging.NewNop(), mgr, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	status := d.Status(context.Background())
	if status.ComfyError != "" {
		t.Fatalf("unexpected comfy error %q", status.ComfyError)
	}

	d.setComfyError(errors.New("restart comfyui: exec: \"python3\": executable file not found"))
	status = d.Status(context.Background())
	if !strings.Contains(status.ComfyError, "restart comfyui") {
		t.Fatalf("comfy error = %q", status.ComfyError)
	}
}
