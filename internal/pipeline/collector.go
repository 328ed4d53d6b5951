package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"easel/internal/config"
	"easel/internal/handler"
	"easel/internal/logging"
	"easel/internal/queue"
	"easel/internal/services"
	"easel/internal/stage"
)

// Collector fetches and persists a finished job's outputs.
type Collector struct {
	cfg     *config.Config
	handler *handler.Handler
	logger  *slog.Logger
}

// NewCollector builds the collect stage handler.
func NewCollector(cfg *config.Config, h *handler.Handler, logger *slog.Logger) *Collector {
	return &Collector{
		cfg:     cfg,
		handler: h,
		logger:  logging.WithComponent(logger, "collector"),
	}
}

// Prepare verifies the job carries the prompt id the generate stage set.
func (c *Collector) Prepare(ctx context.Context, job *queue.Job) error {
	if job.PromptID == "" {
		return services.Wrap(services.ErrValidation, "collect", "check prompt id",
			"job reached collection without a prompt id", nil)
	}
	job.SetProgress("Collecting", "fetching outputs", 0)
	return nil
}

// Execute downloads the generated images and records them on the job.
func (c *Collector) Execute(ctx context.Context, job *queue.Job) error {
	result, err := c.handler.Collect(ctx, job.ID, job.PromptID)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "collect", "collect outputs", "", err)
	}

	encoded, err := json.Marshal(result.Images)
	if err != nil {
		return fmt.Errorf("encode artifacts: %w", err)
	}
	job.OutputsJSON = string(encoded)
	job.SetProgress("Completed", fmt.Sprintf("%d images collected", len(result.Images)), 100)
	job.Status = queue.StatusCompleted

	c.logger.Info("outputs collected",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.Int("images", len(result.Images)))
	return nil
}

// HealthCheck reports whether the output directory is writable.
func (c *Collector) HealthCheck(ctx context.Context) stage.Health {
	dir := c.cfg.Paths.OutputDir
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return stage.Unhealthy("collector", fmt.Sprintf("output directory unavailable: %s", dir))
	}
	return stage.Healthy("collector")
}

var _ stage.Handler = (*Collector)(nil)
