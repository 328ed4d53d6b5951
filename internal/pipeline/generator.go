package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"easel/internal/comfy"
	"easel/internal/config"
	"easel/internal/handler"
	"easel/internal/logging"
	"easel/internal/queue"
	"easel/internal/services"
	"easel/internal/stage"
)

// progressStore persists progress updates while a prompt executes.
// Satisfied by *queue.Store.
type progressStore interface {
	Update(ctx context.Context, job *queue.Job) error
}

// Generator queues a job's workflow and watches it execute.
type Generator struct {
	cfg     *config.Config
	handler *handler.Handler
	store   progressStore
	probe   readyProbe
	logger  *slog.Logger
}

// NewGenerator builds the generate stage handler.
func NewGenerator(cfg *config.Config, h *handler.Handler, store progressStore, probe readyProbe, logger *slog.Logger) *Generator {
	return &Generator{
		cfg:     cfg,
		handler: h,
		store:   store,
		probe:   probe,
		logger:  logging.WithComponent(logger, "generator"),
	}
}

// Prepare resets progress ahead of queueing.
func (g *Generator) Prepare(ctx context.Context, job *queue.Job) error {
	job.SetProgress("Generating", "queueing prompt", 0)
	return nil
}

// Execute queues the prompt and blocks until ComfyUI finishes it,
// persisting sampler progress along the way.
func (g *Generator) Execute(ctx context.Context, job *queue.Job) error {
	req, err := requestFromJob(job)
	if err != nil {
		return err
	}

	promptID, err := g.handler.Queue(ctx, job.ID, req.Workflow)
	if err != nil {
		var verr *comfy.ValidationError
		if errors.As(err, &verr) {
			return services.Wrap(services.ErrValidation, "generate", "queue prompt", verr.Error(), nil)
		}
		return services.Wrap(services.ErrExternalTool, "generate", "queue prompt", "", err)
	}
	job.PromptID = promptID
	if err := g.store.Update(ctx, job); err != nil {
		return fmt.Errorf("persist prompt id: %w", err)
	}

	lastPercent := -1.0
	onProgress := func(p comfy.Progress) {
		if p.Max <= 0 {
			return
		}
		percent := math.Floor(float64(p.Value) / float64(p.Max) * 100)
		if percent <= lastPercent {
			return
		}
		lastPercent = percent
		job.SetProgress("Generating", fmt.Sprintf("step %d of %d", p.Value, p.Max), percent)
		if err := g.store.Update(ctx, job); err != nil {
			g.logger.Debug("progress update failed", logging.Error(err))
		}
	}

	if err := g.handler.Wait(ctx, job.ID, promptID, onProgress); err != nil {
		var execErr *comfy.ExecutionError
		if errors.As(err, &execErr) {
			return services.Wrap(services.ErrExternalTool, "generate", "execute prompt", execErr.Error(), nil)
		}
		return services.Wrap(services.ErrTransient, "generate", "watch prompt", "", err)
	}

	job.SetProgress("Generating", "prompt finished", 100)
	job.Status = queue.StatusGenerated
	return nil
}

// HealthCheck reports whether ComfyUI is reachable for prompt execution.
func (g *Generator) HealthCheck(ctx context.Context) stage.Health {
	if g.probe == nil {
		return stage.Unhealthy("generator", "no comfyui client configured")
	}
	if err := g.probe.Ready(ctx); err != nil {
		return stage.Unhealthy("generator", fmt.Sprintf("comfyui unreachable: %v", err))
	}
	return stage.Healthy("generator")
}

var _ stage.Handler = (*Generator)(nil)
