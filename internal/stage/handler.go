package stage

import (
	"context"

	"easel/internal/queue"
)

// Handler is one step of the job pipeline. Prepare runs before the job is
// claimed for execution, Execute does the work, and HealthCheck reports
// whether the stage could run right now.
type Handler interface {
	Prepare(context.Context, *queue.Job) error
	Execute(context.Context, *queue.Job) error
	HealthCheck(context.Context) Health
}
