package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"easel/internal/artifacts"
	"easel/internal/comfy"
	"easel/internal/config"
	"easel/internal/logging"
)

// ComfyAPI is the slice of the ComfyUI client the handler drives.
// Satisfied by *comfy.Client.
type ComfyAPI interface {
	UploadImage(ctx context.Context, name string, data []byte, overwrite bool) (*comfy.UploadResponse, error)
	QueuePrompt(ctx context.Context, workflow json.RawMessage) (string, error)
	WaitForPrompt(ctx context.Context, promptID string, onProgress comfy.ProgressFunc) error
	History(ctx context.Context, promptID string) (*comfy.HistoryEntry, error)
	Interrupt(ctx context.Context) error
}

// ArtifactCollector packages a finished prompt's outputs. Satisfied by
// *artifacts.Collector.
type ArtifactCollector interface {
	Collect(ctx context.Context, jobID int64, entry *comfy.HistoryEntry) ([]artifacts.Artifact, error)
}

// Result is the outcome of a generation run.
type Result struct {
	PromptID string               `json:"prompt_id"`
	Images   []artifacts.Artifact `json:"images"`
}

// QueuedPrompt carries the identifiers of a submitted prompt before it
// finishes executing.
type QueuedPrompt struct {
	PromptID string
}

// Handler runs validated requests against ComfyUI.
type Handler struct {
	cfg       *config.Config
	client    ComfyAPI
	collector ArtifactCollector
	logger    *slog.Logger
}

// New builds a handler.
func New(cfg *config.Config, client ComfyAPI, collector ArtifactCollector, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		collector: collector,
		logger:    logging.WithComponent(logger, "handler"),
	}
}

// UploadInputs pushes a request's inline images into ComfyUI's input
// folder, overwriting leftovers from earlier runs of the same job.
func (h *Handler) UploadInputs(ctx context.Context, jobID int64, images []InputImage) error {
	for _, image := range images {
		data, err := DecodeImagePayload(image.Image)
		if err != nil {
			return fmt.Errorf("image %q: %w", image.Name, err)
		}
		uploaded, err := h.client.UploadImage(ctx, image.Name, data, true)
		if err != nil {
			return fmt.Errorf("upload input %q: %w", image.Name, err)
		}
		h.logger.Debug("input image uploaded",
			logging.Int64(logging.FieldJobID, jobID),
			logging.String("name", uploaded.Name))
	}
	return nil
}

// Queue submits the workflow and returns the prompt id ComfyUI assigned.
func (h *Handler) Queue(ctx context.Context, jobID int64, workflow json.RawMessage) (string, error) {
	promptID, err := h.client.QueuePrompt(ctx, workflow)
	if err != nil {
		return "", err
	}
	h.logger.Info("prompt queued",
		logging.Int64(logging.FieldJobID, jobID),
		logging.String(logging.FieldPromptID, promptID))
	return promptID, nil
}

// Submit validates the request, uploads its input images, and queues the
// workflow. It returns as soon as ComfyUI accepts the prompt.
func (h *Handler) Submit(ctx context.Context, jobID int64, req *GenerateRequest) (*QueuedPrompt, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if err := h.UploadInputs(ctx, jobID, req.Images); err != nil {
		return nil, err
	}
	promptID, err := h.Queue(ctx, jobID, req.Workflow)
	if err != nil {
		return nil, err
	}
	return &QueuedPrompt{PromptID: promptID}, nil
}

// Wait blocks until the prompt finishes executing, bounded by the
// configured generation timeout.
func (h *Handler) Wait(ctx context.Context, jobID int64, promptID string, onProgress comfy.ProgressFunc) error {
	watchCtx := ctx
	if timeout := h.cfg.Workflow.GenerationTimeout; timeout > 0 {
		var cancel context.CancelFunc
		watchCtx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	if err := h.client.WaitForPrompt(watchCtx, promptID, onProgress); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			h.interrupt(jobID, promptID)
			return fmt.Errorf("generation timed out after %ds", h.cfg.Workflow.GenerationTimeout)
		}
		return err
	}
	h.logger.Debug("prompt finished",
		logging.Int64(logging.FieldJobID, jobID),
		logging.String(logging.FieldPromptID, promptID))
	return nil
}

// interrupt asks ComfyUI to abort the running prompt after the watch gave
// up on it. Best effort: the watch context is already dead, so a fresh
// short-lived one carries the request.
func (h *Handler) interrupt(jobID int64, promptID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.client.Interrupt(ctx); err != nil {
		h.logger.Warn("failed to interrupt timed-out prompt",
			logging.Int64(logging.FieldJobID, jobID),
			logging.String(logging.FieldPromptID, promptID),
			logging.Error(err))
		return
	}
	h.logger.Info("timed-out prompt interrupted",
		logging.Int64(logging.FieldJobID, jobID),
		logging.String(logging.FieldPromptID, promptID))
}

// Collect fetches the finished prompt's history and packages its outputs.
func (h *Handler) Collect(ctx context.Context, jobID int64, promptID string) (*Result, error) {
	entry, err := h.client.History(ctx, promptID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("prompt %s finished but has no history entry", promptID)
	}

	images, err := h.collector.Collect(ctx, jobID, entry)
	if err != nil {
		return nil, err
	}
	return &Result{PromptID: promptID, Images: images}, nil
}

// Await watches a queued prompt until it finishes, then collects its
// outputs.
func (h *Handler) Await(ctx context.Context, jobID int64, promptID string, onProgress comfy.ProgressFunc) (*Result, error) {
	if err := h.Wait(ctx, jobID, promptID, onProgress); err != nil {
		return nil, err
	}
	return h.Collect(ctx, jobID, promptID)
}

// Run executes a request synchronously: submit, await, collect.
func (h *Handler) Run(ctx context.Context, jobID int64, req *GenerateRequest, onProgress comfy.ProgressFunc) (*Result, error) {
	queued, err := h.Submit(ctx, jobID, req)
	if err != nil {
		return nil, err
	}
	return h.Await(ctx, jobID, queued.PromptID, onProgress)
}
