package api

import (
	"context"

	"easel/internal/queue"
)

// QueueActionService captures queue operations needed by per-job retry workflows.
type QueueActionService interface {
	Describe(ctx context.Context, id int64) (*Job, error)
	Retry(ctx context.Context, ids []int64) (int64, error)
	Remove(ctx context.Context, id int64) (bool, error)
}

type RetryJobOutcome string

const (
	RetryJobUpdated   RetryJobOutcome = "retried"
	RetryJobNotFound  RetryJobOutcome = "not_found"
	RetryJobNotFailed RetryJobOutcome = "not_failed"
)

type RetryJobResult struct {
	ID      int64           `json:"id"`
	Outcome RetryJobOutcome `json:"outcome"`
}

type RetryJobsResult struct {
	UpdatedCount int64            `json:"updatedCount"`
	Jobs         []RetryJobResult `json:"jobs"`
}

type RemoveJobOutcome string

const (
	RemoveJobRemoved    RemoveJobOutcome = "removed"
	RemoveJobNotFound   RemoveJobOutcome = "not_found"
	RemoveJobProcessing RemoveJobOutcome = "processing"
)

type RemoveJobResult struct {
	ID      int64            `json:"id"`
	Outcome RemoveJobOutcome `json:"outcome"`
}

type RemoveJobsResult struct {
	RemovedCount int64             `json:"removedCount"`
	Jobs         []RemoveJobResult `json:"jobs"`
}

// RetryFailedJobsByID validates IDs and retries only failed jobs.
func RetryFailedJobsByID(ctx context.Context, service QueueActionService, ids []int64) (RetryJobsResult, error) {
	result := RetryJobsResult{Jobs: make([]RetryJobResult, 0, len(ids))}
	for _, id := range ids {
		job, err := service.Describe(ctx, id)
		if err != nil {
			return RetryJobsResult{}, err
		}
		if job == nil {
			result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobNotFound})
			continue
		}
		status, ok := queue.ParseStatus(job.Status)
		if !ok || status != queue.StatusFailed {
			result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobNotFailed})
			continue
		}
		updated, err := service.Retry(ctx, []int64{id})
		if err != nil {
			return RetryJobsResult{}, err
		}
		if updated > 0 {
			result.UpdatedCount += updated
			result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobUpdated})
			continue
		}
		result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobNotFailed})
	}
	return result, nil
}

// RemoveJobsByID validates IDs and removes jobs unless currently processing.
func RemoveJobsByID(ctx context.Context, service QueueActionService, ids []int64) (RemoveJobsResult, error) {
	result := RemoveJobsResult{Jobs: make([]RemoveJobResult, 0, len(ids))}
	for _, id := range ids {
		job, err := service.Describe(ctx, id)
		if err != nil {
			return RemoveJobsResult{}, err
		}
		if job == nil {
			result.Jobs = append(result.Jobs, RemoveJobResult{ID: id, Outcome: RemoveJobNotFound})
			continue
		}
		if status, ok := queue.ParseStatus(job.Status); ok {
			if (queue.Job{Status: status}).IsProcessing() {
				result.Jobs = append(result.Jobs, RemoveJobResult{ID: id, Outcome: RemoveJobProcessing})
				continue
			}
		}
		removed, err := service.Remove(ctx, id)
		if err != nil {
			return RemoveJobsResult{}, err
		}
		if removed {
			result.RemovedCount++
			result.Jobs = append(result.Jobs, RemoveJobResult{ID: id, Outcome: RemoveJobRemoved})
			continue
		}
		result.Jobs = append(result.Jobs, RemoveJobResult{ID: id, Outcome: RemoveJobNotFound})
	}
	return result, nil
}
