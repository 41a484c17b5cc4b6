package model

import "time"

// RunStatus represents the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Run is one end-to-end ingestion execution for a single target date.
type Run struct {
	ID                  string     `json:"id"`
	Status              RunStatus  `json:"status"`
	TargetDate          string     `json:"target_date"`
	StartedAt           time.Time  `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	HeartbeatAt         time.Time  `json:"heartbeat_at"`
	TotalCompanies      int        `json:"total_companies"`
	PagesFetched        int        `json:"pages_fetched"`
	TotalResultsFromAPI *int       `json:"total_results_from_api,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	JSONLPath           string     `json:"jsonl_file,omitempty"`
	CSVPath             string     `json:"csv_file,omitempty"`
}

// RunProgress is the partial update written after every fetched page.
// TotalResultsFromAPI is only persisted the first time it is supplied.
type RunProgress struct {
	TotalCompanies      int
	PagesFetched        int
	TotalResultsFromAPI *int
}

// RunCompletion holds the terminal values written when a run finishes.
type RunCompletion struct {
	Status         RunStatus
	TotalCompanies int
	PagesFetched   int
	JSONLPath      string
	CSVPath        string
}

// LogLevel is the severity of a run log entry.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// LogEntry is an append-only structured log line belonging to a run.
// ID increases with insertion order.
type LogEntry struct {
	ID        int64          `json:"id"`
	RunID     string         `json:"run_id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
