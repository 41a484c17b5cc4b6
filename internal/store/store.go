package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ch-ingest/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status     model.RunStatus `json:"status,omitempty"`
	TargetDate string          `json:"target_date,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

// LogFilter specifies criteria for listing run logs.
type LogFilter struct {
	// AfterID returns only entries inserted after this ID (for tailing).
	AfterID int64 `json:"after_id,omitempty"`
	// Newest orders by descending timestamp for display.
	Newest bool `json:"newest,omitempty"`
	Limit  int  `json:"limit,omitempty"`
}

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, targetDate string) (*model.Run, error)
	UpdateRunProgress(ctx context.Context, runID string, p model.RunProgress) error
	TouchRun(ctx context.Context, runID string) error
	CompleteRun(ctx context.Context, runID string, c model.RunCompletion) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	LatestRunForDate(ctx context.Context, targetDate string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	DeleteRun(ctx context.Context, runID string) error
	FailStaleRuns(ctx context.Context, heartbeatBefore time.Time, errMsg string) (int, error)

	// Logs
	AppendLog(ctx context.Context, entry model.LogEntry) (int64, error)
	ListLogs(ctx context.Context, runID string, filter LogFilter) ([]model.LogEntry, error)

	// Companies and officers
	InsertCompanies(ctx context.Context, runID string, records []model.CompanyRecord) ([]model.Company, error)
	ListCompanies(ctx context.Context, runID string) ([]model.Company, error)
	CountCompanies(ctx context.Context, runID string) (int, error)
	InsertOfficers(ctx context.Context, companyID string, records []model.OfficerRecord) (int, error)
	GetOfficer(ctx context.Context, officerID string) (*model.Officer, error)
	GetCompany(ctx context.Context, companyID string) (*model.Company, error)
	ListOfficers(ctx context.Context, companyID string) ([]model.OfficerWithContact, error)
	ListRunOfficers(ctx context.Context, runID string) ([]model.Officer, error)

	// Contacts
	UpsertOfficerContact(ctx context.Context, c model.OfficerContact) error
	GetOfficerContact(ctx context.Context, officerID string) (*model.OfficerContact, error)

	// SIC lookup
	UpsertSicCodes(ctx context.Context, codes []model.SicCode) (int64, error)
	LinkCompanySicCodes(ctx context.Context, runID string) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func listLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
