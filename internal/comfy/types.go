package comfy

import "encoding/json"

// QueuePromptResponse is returned by POST /prompt.
type QueuePromptResponse struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors,omitempty"`
}

// OutputImage references an image produced by a workflow node, in the
// coordinates the /view endpoint expects.
type OutputImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// HistoryEntry is a single prompt's record from GET /history/{prompt_id}.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  HistoryStatus         `json:"status"`
}

// NodeOutput carries the images a node wrote.
type NodeOutput struct {
	Images []OutputImage `json:"images"`
}

// HistoryStatus summarizes prompt completion.
type HistoryStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

// UploadResponse is returned by POST /upload/image.
type UploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// SystemStats mirrors GET /system_stats.
type SystemStats struct {
	System struct {
		OS             string `json:"os"`
		PythonVersion  string `json:"python_version"`
		ComfyUIVersion string `json:"comfyui_version"`
	} `json:"system"`
	Devices []struct {
		Name          string `json:"name"`
		Type          string `json:"type"`
		VRAMTotal     int64  `json:"vram_total"`
		VRAMFree      int64  `json:"vram_free"`
		TorchVRAMFree int64  `json:"torch_vram_free"`
	} `json:"devices"`
}

// QueueExecInfo mirrors GET /prompt.
type QueueExecInfo struct {
	ExecInfo struct {
		QueueRemaining int `json:"queue_remaining"`
	} `json:"exec_info"`
}

// wsMessage is the envelope every websocket frame carries.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wsExecutingData struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

type wsProgressData struct {
	Value    int    `json:"value"`
	Max      int    `json:"max"`
	PromptID string `json:"prompt_id"`
}

type wsStatusData struct {
	Status struct {
		ExecInfo struct {
			QueueRemaining int `json:"queue_remaining"`
		} `json:"exec_info"`
	} `json:"status"`
}

type wsExecutionErrorData struct {
	PromptID         string `json:"prompt_id"`
	NodeID           any    `json:"node_id"`
	NodeType         string `json:"node_type"`
	ExceptionMessage string `json:"exception_message"`
	ExceptionType    string `json:"exception_type"`
}
