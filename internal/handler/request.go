// Package handler validates generation requests and drives them through
// ComfyUI end to end: input upload, prompt queue, execution watch,
// artifact collection.
package handler

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"easel/internal/services"
)

// InputImage is an image the workflow references by name, carried inline
// as base64 or a data URI.
type InputImage struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// GenerateRequest is the payload a caller submits.
type GenerateRequest struct {
	// Workflow is a ComfyUI workflow in API format. Required.
	Workflow json.RawMessage `json:"workflow"`
	// Images are optional inputs uploaded before the prompt is queued.
	Images []InputImage `json:"images,omitempty"`
}

// ValidateRequest checks a request's shape before any network work. The
// workflow must be a non-empty JSON object and every image needs both a
// name and a payload. Failures carry services.ErrValidation so transport
// layers can map them to client errors.
func ValidateRequest(req *GenerateRequest) error {
	if req == nil {
		return rejected("request is required", nil)
	}
	if len(req.Workflow) == 0 {
		return rejected("workflow is required", nil)
	}

	var workflow map[string]json.RawMessage
	if err := json.Unmarshal(req.Workflow, &workflow); err != nil {
		return rejected("workflow must be a JSON object", err)
	}
	if len(workflow) == 0 {
		return rejected("workflow must not be empty", nil)
	}

	for i, image := range req.Images {
		if strings.TrimSpace(image.Name) == "" {
			return rejected(fmt.Sprintf("image %d: name is required", i), nil)
		}
		if strings.TrimSpace(image.Image) == "" {
			return rejected(fmt.Sprintf("image %q: payload is required", image.Name), nil)
		}
		if _, err := DecodeImagePayload(image.Image); err != nil {
			return rejected(fmt.Sprintf("image %q", image.Name), err)
		}
	}
	return nil
}

func rejected(message string, err error) error {
	return services.Wrap(services.ErrValidation, "", "", message, err)
}

// DecodeImagePayload decodes an inline image, accepting both raw base64
// and data URIs ("data:image/png;base64,....").
func DecodeImagePayload(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		_, encoded, found := strings.Cut(payload, ",")
		if !found {
			return nil, fmt.Errorf("malformed data URI")
		}
		payload = encoded
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image payload is empty")
	}
	return data, nil
}
