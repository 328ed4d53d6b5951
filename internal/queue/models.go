package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a generation job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPreparing  Status = "preparing"
	StatusPrepared   Status = "prepared"
	StatusGenerating Status = "generating"
	StatusGenerated  Status = "generated"
	StatusCollecting Status = "collecting"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// DaemonStopReason is the error message set when jobs are failed due to daemon shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusPreparing,
	StatusPrepared,
	StatusGenerating,
	StatusGenerated,
	StatusCollecting,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusPreparing:  {},
	StatusGenerating: {},
	StatusCollecting: {},
}

// JobSource records how a job entered the queue.
type JobSource string

const (
	SourceCLI JobSource = "cli"
	SourceAPI JobSource = "api"
)

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Completed  int
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TableExists      bool
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}

// Job represents a generation job persisted in SQLite.
type Job struct {
	ID              int64
	Title           string
	Status          Status
	Source          JobSource
	ClientID        string
	WorkflowJSON    string
	InputImagesJSON string
	PromptID        string
	OutputsJSON     string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	LastHeartbeat   *time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// ProcessingStatuses returns the statuses that reflect in-flight work.
func ProcessingStatuses() []Status {
	return []Status{StatusPreparing, StatusGenerating, StatusCollecting}
}

// IsProcessing returns true when the status reflects an in-flight operation.
func (j Job) IsProcessing() bool {
	_, ok := processingStatuses[j.Status]
	return ok
}

// IsTerminal reports whether the job has reached a final state.
func (j Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// SetProgress updates all three progress fields together.
func (j *Job) SetProgress(stage, message string, percent float64) {
	j.ProgressStage = stage
	j.ProgressMessage = message
	j.ProgressPercent = percent
}

// SetFailed marks the job as failed with the given error message.
func (j *Job) SetFailed(message string) {
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.ProgressPercent = 0
	j.ProgressMessage = message
	j.ProgressStage = "Failed"
	j.LastHeartbeat = nil
}
