package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"easel/internal/logging"
	"easel/internal/queue"
	"easel/internal/services"
)

func (m *Manager) handleStageFailure(ctx context.Context, stageName string, job *queue.Job, stageErr error) {
	logger := m.logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(
		logging.String(logging.FieldComponent, "workflow"),
		logging.String(logging.FieldStage, stageName),
		logging.Int64(logging.FieldJobID, job.ID),
	)

	message := m.classifyStageFailure(stageName, stageErr)
	job.SetFailed(message)

	attrs := []logging.Attr{
		logging.String("error_message", strings.TrimSpace(message)),
		logging.Bool("retryable", services.Retryable(stageErr)),
		logging.Error(stageErr),
		logging.String(logging.FieldEventType, "stage_failure"),
	}
	logger.Error("stage failed", logging.Args(attrs...)...)

	if err := m.store.Update(ctx, job); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not update stage failure")
		} else {
			logger.Error("failed to persist stage failure", logging.Error(err))
		}
	}

	m.setLastJob(job)
	m.onJobFailed(ctx, stageName, job, stageErr)
	m.checkQueueCompletion(ctx)
}

func (m *Manager) classifyStageFailure(stageName string, stageErr error) string {
	if stageErr == nil {
		return m.stageFailureMessage(stageName, "failed without error detail")
	}
	message := strings.TrimSpace(stageErr.Error())
	if message == "" {
		message = m.stageFailureMessage(stageName, "failed")
	}
	return message
}

func (m *Manager) stageFailureMessage(stageName, defaultMsg string) string {
	if stageName != "" {
		return fmt.Sprintf("%s %s", stageName, defaultMsg)
	}
	return fmt.Sprintf("workflow %s", defaultMsg)
}
