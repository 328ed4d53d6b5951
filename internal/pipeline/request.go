package pipeline

import (
	"encoding/json"
	"strings"

	"easel/internal/handler"
	"easel/internal/queue"
	"easel/internal/services"
)

// requestFromJob reconstructs the generation request a job was created
// with.
func requestFromJob(job *queue.Job) (*handler.GenerateRequest, error) {
	req := &handler.GenerateRequest{
		Workflow: json.RawMessage(job.WorkflowJSON),
	}
	if raw := strings.TrimSpace(job.InputImagesJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Images); err != nil {
			return nil, services.Wrap(services.ErrValidation, "pipeline", "parse input images",
				"stored input images are not valid JSON", err)
		}
	}
	return req, nil
}
