package workflow

import (
	"context"
	"encoding/json"
	"time"

	"easel/internal/artifacts"
	"easel/internal/logging"
	"easel/internal/queue"
)

// onJobStarted fires when a pending job enters processing. It also opens
// the queue-run window used for the queue completion summary.
func (m *Manager) onJobStarted(ctx context.Context, job *queue.Job) {
	m.mu.Lock()
	openedQueue := false
	if !m.queueActive {
		m.queueActive = true
		m.queueStart = time.Now()
		m.queueProcessed = 0
		m.queueFailed = 0
		openedQueue = true
	}
	m.mu.Unlock()

	if m.notifier == nil {
		return
	}
	if openedQueue {
		pending := 0
		if stats, err := m.store.Stats(ctx); err == nil {
			pending = stats[queue.StatusPending] + 1
		}
		if err := m.notifier.NotifyQueueStarted(ctx, pending); err != nil {
			m.logger.Debug("queue started notification failed", logging.Error(err))
		}
	}
	if err := m.notifier.NotifyJobStarted(ctx, job.ID, job.Title); err != nil {
		m.logger.Debug("job started notification failed", logging.Error(err))
	}
}

func (m *Manager) onJobCompleted(ctx context.Context, job *queue.Job) {
	m.mu.Lock()
	m.queueProcessed++
	m.mu.Unlock()

	if m.notifier == nil {
		return
	}
	imageCount := 0
	if job.OutputsJSON != "" {
		var outputs []artifacts.Artifact
		if err := json.Unmarshal([]byte(job.OutputsJSON), &outputs); err == nil {
			imageCount = len(outputs)
		}
	}
	if err := m.notifier.NotifyJobCompleted(ctx, job.ID, job.Title, imageCount); err != nil {
		m.logger.Debug("job completed notification failed", logging.Error(err))
	}
}

func (m *Manager) onJobFailed(ctx context.Context, stageName string, job *queue.Job, stageErr error) {
	m.mu.Lock()
	m.queueFailed++
	m.mu.Unlock()

	if m.notifier == nil {
		return
	}
	reason := job.ErrorMessage
	if reason == "" && stageErr != nil {
		reason = stageErr.Error()
	}
	if err := m.notifier.NotifyJobFailed(ctx, job.ID, job.Title, reason); err != nil {
		m.logger.Debug("job failed notification failed", logging.Error(err))
	}
}

// checkQueueCompletion closes the queue-run window when nothing is left
// to process and reports the totals.
func (m *Manager) checkQueueCompletion(ctx context.Context) {
	m.mu.RLock()
	active := m.queueActive
	m.mu.RUnlock()
	if !active {
		return
	}

	statuses := append(queue.ProcessingStatuses(),
		queue.StatusPending, queue.StatusPrepared, queue.StatusGenerated)
	remaining, err := m.store.List(ctx, statuses...)
	if err != nil {
		m.logger.Debug("queue completion check failed", logging.Error(err))
		return
	}
	if len(remaining) > 0 {
		return
	}

	m.mu.Lock()
	if !m.queueActive {
		m.mu.Unlock()
		return
	}
	m.queueActive = false
	processed := m.queueProcessed
	failed := m.queueFailed
	duration := time.Since(m.queueStart)
	m.mu.Unlock()

	m.logger.Info("queue drained",
		logging.Int("processed", processed),
		logging.Int("failed", failed),
		logging.Duration("duration", duration),
	)
	if m.notifier != nil {
		if err := m.notifier.NotifyQueueCompleted(ctx, processed, failed, duration); err != nil {
			m.logger.Debug("queue completed notification failed", logging.Error(err))
		}
	}
}
