package comfy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ValidationError is returned when ComfyUI rejects a workflow with a 400
// response. It unpacks the per-node error detail the server reports.
type ValidationError struct {
	Message    string
	NodeErrors map[string][]string
}

func (e *ValidationError) Error() string {
	if len(e.NodeErrors) == 0 {
		return e.Message
	}
	var details []string
	nodes := make([]string, 0, len(e.NodeErrors))
	for node := range e.NodeErrors {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		for _, msg := range e.NodeErrors[node] {
			details = append(details, fmt.Sprintf("node %s: %s", node, msg))
		}
	}
	return e.Message + ": " + strings.Join(details, "; ")
}

// parseValidationError reconstructs a ValidationError from a 400 body.
// ComfyUI nests messages unpredictably, so unknown shapes degrade to the
// raw text rather than failing.
func parseValidationError(body []byte) *ValidationError {
	verr := &ValidationError{Message: "workflow validation failed"}

	var payload struct {
		Error      json.RawMessage            `json:"error"`
		NodeErrors map[string]json.RawMessage `json:"node_errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		verr.Message = fmt.Sprintf("workflow validation failed: %s", strings.TrimSpace(string(body)))
		return verr
	}

	if len(payload.Error) > 0 {
		var structured struct {
			Message string `json:"message"`
			Details string `json:"details"`
		}
		if err := json.Unmarshal(payload.Error, &structured); err == nil && structured.Message != "" {
			verr.Message = structured.Message
			if structured.Details != "" {
				verr.Message += " (" + structured.Details + ")"
			}
		} else {
			var plain string
			if err := json.Unmarshal(payload.Error, &plain); err == nil && plain != "" {
				verr.Message = plain
			}
		}
	}

	if len(payload.NodeErrors) > 0 {
		verr.NodeErrors = make(map[string][]string, len(payload.NodeErrors))
		for node, raw := range payload.NodeErrors {
			verr.NodeErrors[node] = flattenNodeError(raw)
		}
	}
	return verr
}

func flattenNodeError(raw json.RawMessage) []string {
	var structured struct {
		Errors []struct {
			Message string `json:"message"`
			Details string `json:"details"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &structured); err == nil && len(structured.Errors) > 0 {
		msgs := make([]string, 0, len(structured.Errors))
		for _, e := range structured.Errors {
			msg := e.Message
			if e.Details != "" {
				msg += " (" + e.Details + ")"
			}
			msgs = append(msgs, msg)
		}
		return msgs
	}
	return []string{strings.TrimSpace(string(raw))}
}

// ExecutionError reports a node failure observed during prompt execution.
type ExecutionError struct {
	PromptID string
	NodeID   string
	NodeType string
	Message  string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed at node %s (%s): %s", e.NodeID, e.NodeType, e.Message)
}
