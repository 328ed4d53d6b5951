package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"easel/internal/comfy"
	"easel/internal/config"
	"easel/internal/handler"
	"easel/internal/logging"
	"easel/internal/models"
	"easel/internal/queue"
	"easel/internal/services"
	"easel/internal/stage"
)

// Preparer validates a job's stored request and uploads its input images.
type Preparer struct {
	cfg     *config.Config
	handler *handler.Handler
	probe   readyProbe
	logger  *slog.Logger
}

// readyProbe checks that ComfyUI is reachable. Satisfied by *comfy.Client.
type readyProbe interface {
	Ready(ctx context.Context) error
}

// NewPreparer builds the prepare stage handler.
func NewPreparer(cfg *config.Config, h *handler.Handler, probe readyProbe, logger *slog.Logger) *Preparer {
	return &Preparer{
		cfg:     cfg,
		handler: h,
		probe:   probe,
		logger:  logging.WithComponent(logger, "preparer"),
	}
}

// Prepare parses and validates the stored request, then confirms every
// manifest model asset is on disk. A job queued while weights are still
// missing fails here with an actionable message instead of a ComfyUI
// node error mid-generation.
func (p *Preparer) Prepare(ctx context.Context, job *queue.Job) error {
	req, err := requestFromJob(job)
	if err != nil {
		return err
	}
	if err := handler.ValidateRequest(req); err != nil {
		return err
	}

	manifest, err := models.Resolve(p.cfg)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "prepare", "resolve model manifest", err.Error(), nil)
	}
	if missing := models.Missing(p.cfg, manifest); len(missing) > 0 {
		return services.Wrap(services.ErrConfiguration, "prepare", "check models",
			fmt.Sprintf("missing model assets: %s (run easel models download)", strings.Join(missing, ", ")), nil)
	}

	job.SetProgress("Preparing", "request validated", 10)
	return nil
}

// Execute uploads the job's input images into ComfyUI.
func (p *Preparer) Execute(ctx context.Context, job *queue.Job) error {
	req, err := requestFromJob(job)
	if err != nil {
		return err
	}

	if len(req.Images) > 0 {
		if err := p.handler.UploadInputs(ctx, job.ID, req.Images); err != nil {
			return services.Wrap(services.ErrExternalTool, "prepare", "upload inputs", "", err)
		}
		job.SetProgress("Preparing", fmt.Sprintf("%d input images uploaded", len(req.Images)), 100)
	} else {
		job.SetProgress("Preparing", "no inputs to upload", 100)
	}
	job.Status = queue.StatusPrepared
	return nil
}

// HealthCheck reports whether ComfyUI is reachable for uploads.
func (p *Preparer) HealthCheck(ctx context.Context) stage.Health {
	if p.probe == nil {
		return stage.Unhealthy("preparer", "no comfyui client configured")
	}
	if err := p.probe.Ready(ctx); err != nil {
		return stage.Unhealthy("preparer", fmt.Sprintf("comfyui unreachable: %v", err))
	}
	return stage.Healthy("preparer")
}

var _ stage.Handler = (*Preparer)(nil)
var _ readyProbe = (*comfy.Client)(nil)
