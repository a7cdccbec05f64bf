package domain

import "time"

// RunStatus represents the status of an ingest run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IngestRun records one batch pass of a source adapter and its counters.
type IngestRun struct {
	ID          string     `gorm:"type:text;primaryKey" json:"id"`
	Source      string     `gorm:"type:text;not null;index" json:"source"`
	Query       string     `gorm:"type:text" json:"query,omitempty"`
	Status      RunStatus  `gorm:"type:text;default:running" json:"status"`
	Total       int        `gorm:"default:0" json:"total"`
	Created     int        `gorm:"default:0" json:"created"`
	Merged      int        `gorm:"default:0" json:"merged"`
	Skipped     int        `gorm:"default:0" json:"skipped"`
	Failed      int        `gorm:"default:0" json:"failed"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ErrorLog    string     `json:"error_log,omitempty"`
}

// TableName returns the database table name for IngestRun.
func (IngestRun) TableName() string {
	return "ingest_runs"
}
