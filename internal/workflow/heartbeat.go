package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"easel/internal/logging"
	"easel/internal/queue"
)

// HeartbeatMonitor keeps claimed jobs visibly alive and reclaims jobs whose
// worker stopped updating them.
type HeartbeatMonitor struct {
	store    *queue.Store
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{store: store, logger: logger, interval: interval, timeout: timeout}
}

// ReclaimStaleJobs resets jobs in the given statuses whose last heartbeat is
// older than the timeout. A zero timeout disables reclamation.
func (h *HeartbeatMonitor) ReclaimStaleJobs(ctx context.Context, logger *slog.Logger, statuses []queue.Status) error {
	if h.timeout <= 0 || len(statuses) == 0 {
		return nil
	}
	reclaimed, err := h.store.ReclaimStaleProcessing(ctx, time.Now().Add(-h.timeout), statuses...)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		logger.Info("reclaimed stale jobs", logging.Int64("count", reclaimed))
	}
	return nil
}

// StartLoop periodically refreshes the heartbeat for jobID until ctx is done.
// The caller's WaitGroup must be incremented before starting.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, jobID int64) {
	defer wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := h.logger.With(logging.String(logging.FieldComponent, "workflow-heartbeat"))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := h.store.UpdateHeartbeat(ctx, jobID)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				logger.Info("daemon shutting down, heartbeat update cancelled")
			default:
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
