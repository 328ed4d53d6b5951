package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"easel/internal/config"
)

const userAgent = "Easel-Go/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyJobStarted(ctx context.Context, jobID int64, title string) error
	NotifyJobCompleted(ctx context.Context, jobID int64, title string, imageCount int) error
	NotifyJobFailed(ctx context.Context, jobID int64, title, reason string) error
	NotifyQueueStarted(ctx context.Context, count int) error
	NotifyQueueCompleted(ctx context.Context, processed, failed int, duration time.Duration) error
	NotifyDownloadFailed(ctx context.Context, asset string, err error) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		jobEvents:   cfg.Notifications.JobEvents,
		queueEvents: cfg.Notifications.QueueEvents,
		errors:      cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	jobEvents   bool
	queueEvents bool
	errors      bool
}

func jobLabel(jobID int64, title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Sprintf("job %d", jobID)
	}
	return fmt.Sprintf("%s (job %d)", title, jobID)
}

func (n *ntfyService) NotifyJobStarted(ctx context.Context, jobID int64, title string) error {
	if !n.jobEvents {
		return nil
	}
	data := payload{
		title:   "Easel - Generation Started",
		message: fmt.Sprintf("Started generating: %s", jobLabel(jobID, title)),
		tags:    []string{"easel", "job", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, jobID int64, title string, imageCount int) error {
	if !n.jobEvents {
		return nil
	}
	noun := "images"
	if imageCount == 1 {
		noun = "image"
	}
	data := payload{
		title:    "Easel - Generation Complete",
		message:  fmt.Sprintf("%s produced %d %s", jobLabel(jobID, title), imageCount, noun),
		tags:     []string{"easel", "job", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, jobID int64, title, reason string) error {
	if !n.jobEvents {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown failure"
	}
	data := payload{
		title:    "Easel - Generation Failed",
		message:  fmt.Sprintf("%s failed: %s", jobLabel(jobID, title), reason),
		tags:     []string{"easel", "job", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyQueueStarted(ctx context.Context, count int) error {
	if !n.queueEvents {
		return nil
	}
	data := payload{
		title:   "Easel - Queue Started",
		message: fmt.Sprintf("Started processing queue with %d jobs", count),
		tags:    []string{"easel", "queue", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyQueueCompleted(ctx context.Context, processed, failed int, duration time.Duration) error {
	if !n.queueEvents {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	durationText := duration.String()
	if duration == 0 {
		durationText = "0s"
	}

	var title, message string
	if failed == 0 {
		title = "Easel - Queue Complete"
		message = fmt.Sprintf("Queue drained: %d jobs processed in %s", processed, durationText)
	} else {
		title = "Easel - Queue Complete (with errors)"
		message = fmt.Sprintf("Queue drained: %d succeeded, %d failed in %s", processed, failed, durationText)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"easel", "queue", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDownloadFailed(ctx context.Context, asset string, err error) error {
	if !n.errors {
		return nil
	}
	detail := "unknown"
	if err != nil {
		detail = strings.TrimSpace(err.Error())
	}
	data := payload{
		title:    "Easel - Model Download Failed",
		message:  fmt.Sprintf("Could not download %s: %s", strings.TrimSpace(asset), detail),
		tags:     []string{"easel", "models", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Easel - Error",
		message:  builder.String(),
		tags:     []string{"easel", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Easel - Test",
		message:  "Notification system test",
		tags:     []string{"easel", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobStarted(context.Context, int64, string) error             { return nil }
func (noopService) NotifyJobCompleted(context.Context, int64, string, int) error      { return nil }
func (noopService) NotifyJobFailed(context.Context, int64, string, string) error      { return nil }
func (noopService) NotifyQueueStarted(context.Context, int) error                     { return nil }
func (noopService) NotifyQueueCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) NotifyDownloadFailed(context.Context, string, error) error         { return nil }
func (noopService) NotifyError(context.Context, error, string) error                  { return nil }
func (noopService) TestNotification(context.Context) error                            { return nil }
