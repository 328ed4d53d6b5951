package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"easel/internal/config"
	"easel/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyJobCompleted(context.Background(), 1, "portrait", 2); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func ntfyTestService(t *testing.T, sink *captured) notifications.Service {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		sink.title = r.Header.Get("Title")
		sink.tags = r.Header.Get("Tags")
		sink.priority = r.Header.Get("Priority")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		sink.body = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RequestTimeout = 5
	cfg.Notifications.JobEvents = true
	cfg.Notifications.QueueEvents = true
	cfg.Notifications.Errors = true
	return notifications.NewService(&cfg)
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		publish        func(svc notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "job started",
			publish: func(svc notifications.Service) error {
				return svc.NotifyJobStarted(context.Background(), 3, "portrait")
			},
			expectTitle:   "Easel - Generation Started",
			expectMessage: "Started generating: portrait (job 3)",
			expectTags:    "easel,job,started",
		},
		{
			name: "job completed",
			publish: func(svc notifications.Service) error {
				return svc.NotifyJobCompleted(context.Background(), 3, "", 1)
			},
			expectTitle:    "Easel - Generation Complete",
			expectMessage:  "job 3 produced 1 image",
			expectTags:     "easel,job,completed",
			expectPriority: "high",
		},
		{
			name: "job failed",
			publish: func(svc notifications.Service) error {
				return svc.NotifyJobFailed(context.Background(), 9, "banner", "CUDA out of memory")
			},
			expectTitle:    "Easel - Generation Failed",
			expectMessage:  "banner (job 9) failed: CUDA out of memory",
			expectTags:     "easel,job,failed",
			expectPriority: "high",
		},
		{
			name: "queue completed",
			publish: func(svc notifications.Service) error {
				return svc.NotifyQueueCompleted(context.Background(), 4, 1, 90*time.Second)
			},
			expectTitle:   "Easel - Queue Complete (with errors)",
			expectMessage: "Queue drained: 4 succeeded, 1 failed in 1m30s",
			expectTags:    "easel,queue,completed",
		},
		{
			name: "download failed",
			publish: func(svc notifications.Service) error {
				return svc.NotifyDownloadFailed(context.Background(), "flux1-dev.safetensors", errors.New("status 403"))
			},
			expectTitle:    "Easel - Model Download Failed",
			expectMessage:  "Could not download flux1-dev.safetensors: status 403",
			expectTags:     "easel,models,failed",
			expectPriority: "high",
		},
		{
			name: "error",
			publish: func(svc notifications.Service) error {
				return svc.NotifyError(context.Background(), errors.New("comfyui unreachable"), "startup")
			},
			expectTitle:    "Easel - Error",
			expectMessage:  "Error with startup: comfyui unreachable",
			expectTags:     "easel,error,alert",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var sink captured
			svc := ntfyTestService(t, &sink)
			if err := tc.publish(svc); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}
			if sink.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, sink.title)
			}
			if sink.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, sink.body)
			}
			if sink.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, sink.tags)
			}
			if sink.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, sink.priority)
			}
		})
	}
}

func TestCategoryTogglesSuppressSends(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected when category disabled")
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.JobEvents = false
	cfg.Notifications.QueueEvents = false
	cfg.Notifications.Errors = false
	svc := notifications.NewService(&cfg)

	if err := svc.NotifyJobStarted(context.Background(), 1, "x"); err != nil {
		t.Fatalf("suppressed job event errored: %v", err)
	}
	if err := svc.NotifyQueueStarted(context.Background(), 2); err != nil {
		t.Fatalf("suppressed queue event errored: %v", err)
	}
	if err := svc.NotifyError(context.Background(), errors.New("x"), "ctx"); err != nil {
		t.Fatalf("suppressed error event errored: %v", err)
	}
}
